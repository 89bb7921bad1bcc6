package validator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/telemetry"
)

var tracer = otel.Tracer("flext-quality/validator")

// Validator counts diagnostics per file by running external tools.
// A Validator is safe for sequential use; the runner never calls it concurrently.
type Validator struct {
	tools          []ToolConfig
	failOpen       bool
	defaultTimeout time.Duration
	workingDir     string
	excludes       []string
	lookPath       func(string) (string, error)
	logger         *telemetry.Logger
	metrics        *telemetry.Metrics
}

// Option configures a Validator.
type Option func(*Validator)

// WithFailOpen sets whether a missing tool counts as zero diagnostics.
func WithFailOpen(failOpen bool) Option {
	return func(v *Validator) {
		v.failOpen = failOpen
	}
}

// WithDefaultTimeout sets the timeout used by tools that have none configured.
func WithDefaultTimeout(d time.Duration) Option {
	return func(v *Validator) {
		v.defaultTimeout = d
	}
}

// WithWorkingDir runs tools from dir instead of the file's directory.
func WithWorkingDir(dir string) Option {
	return func(v *Validator) {
		v.workingDir = dir
	}
}

// WithExcludes replaces the patterns skipped when expanding directories.
func WithExcludes(patterns []string) Option {
	return func(v *Validator) {
		v.excludes = patterns
	}
}

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(v *Validator) {
		if logger != nil {
			v.logger = logger.NewComponentLogger("validator")
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(v *Validator) {
		v.metrics = m
	}
}

// WithLookPath replaces exec.LookPath.
func WithLookPath(fn func(string) (string, error)) Option {
	return func(v *Validator) {
		v.lookPath = fn
	}
}

// DefaultExcludes are directory names skipped when a directory target is expanded.
var DefaultExcludes = []string{".*", "__pycache__", "node_modules", "vendor", "venv", "build", "dist"}

// New creates a Validator running tools in the given order. Fail-open is on by default.
func New(tools []ToolConfig, opts ...Option) *Validator {
	v := &Validator{
		tools:          tools,
		failOpen:       true,
		defaultTimeout: 60 * time.Second,
		excludes:       DefaultExcludes,
		lookPath:       exec.LookPath,
		logger:         telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Tools returns the configured tools.
func (v *Validator) Tools() []ToolConfig {
	return v.tools
}

// ValidateFile returns the number of diagnostics all applicable tools report
// for path. A tool that is not installed contributes zero when fail-open is on.
func (v *Validator) ValidateFile(ctx context.Context, path string) (int, error) {
	abs, err := v.resolve(path)
	if err != nil {
		return 0, err
	}
	if _, err := os.Stat(abs); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrTargetDoesNotExist, path)
	}
	total := 0
	for _, tool := range v.tools {
		if !tool.Handles(path) {
			continue
		}
		n, err := v.runTool(ctx, tool, path)
		if err != nil {
			if CauseOf(err) == CauseToolNotFound && v.failOpen {
				v.logger.Zerolog().Warn().
					Str("tool", tool.Name).
					Str("file", path).
					Msg("diagnostic tool not installed, counting zero diagnostics")
				v.metrics.RecordFailOpen(tool.Name)
				continue
			}
			return 0, err
		}
		total += n
	}
	return total, nil
}

// ValidateFiles validates each path in order. The first failure aborts the
// call and the error names the file.
func (v *Validator) ValidateFiles(ctx context.Context, paths []string) (engine.DiagnosticCountMap, error) {
	counts := make(engine.DiagnosticCountMap, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n, err := v.ValidateFile(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("validate %s: %w", path, err)
		}
		counts[path] = n
	}
	return counts, nil
}

func (v *Validator) runTool(ctx context.Context, tool ToolConfig, path string) (count int, err error) {
	ctx, span := tracer.Start(ctx, "validator.tool")
	span.SetAttributes(
		telemetry.AttrTool.String(tool.Name),
		telemetry.AttrFile.String(path),
	)
	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(CauseOf(err))
			if outcome == "" {
				outcome = "error"
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetAttributes(attribute.Int("diagnostics.count", count))
		}
		span.End()
		v.metrics.RecordToolInvocation(tool.Name, outcome, time.Since(start))
	}()

	parse, err := parserFor(tool.Format)
	if err != nil {
		return 0, err
	}

	if _, err := v.lookPath(tool.Command); err != nil {
		return 0, NewToolError(tool.Name, path, CauseToolNotFound, err)
	}

	output, err := v.execute(ctx, tool, path)
	if err != nil {
		return 0, err
	}

	count, err = parse(output)
	if err != nil {
		return 0, NewToolError(tool.Name, path, CauseUnparseableOutput, err)
	}

	v.logger.Zerolog().Debug().
		Str("tool", tool.Name).
		Str("file", path).
		Int("diagnostics", count).
		Dur("duration", time.Since(start)).
		Msg("tool finished")
	return count, nil
}

func (v *Validator) resolve(path string) (string, error) {
	if filepath.IsAbs(path) {
		return path, nil
	}
	if v.workingDir != "" {
		return filepath.Join(v.workingDir, path), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}
	return abs, nil
}

func (v *Validator) execute(ctx context.Context, tool ToolConfig, path string) ([]byte, error) {
	absPath, err := v.resolve(path)
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, len(tool.Args)+1)
	args = append(args, tool.Args...)
	args = append(args, absPath)

	timeout := tool.Timeout
	if timeout <= 0 {
		timeout = v.defaultTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, tool.Command, args...)
	if v.workingDir != "" {
		cmd.Dir = v.workingDir
	} else {
		cmd.Dir = filepath.Dir(absPath)
	}
	// children that inherit the pipes must not hold Wait past the deadline
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err = cmd.Run()

	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, NewToolError(tool.Name, path, CauseTimedOut, fmt.Errorf("after %s", timeout)).
			WithOutput(stderr.String())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if slices.Contains(tool.IssueExitCodes, code) {
				return stdout.Bytes(), nil
			}
			te := NewToolError(tool.Name, path, CauseNonZeroExit, nil).WithOutput(stderr.String())
			te.ExitCode = code
			return nil, te
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, NewToolError(tool.Name, path, CauseToolNotFound, err)
		}
		return nil, NewToolError(tool.Name, path, CauseNonZeroExit, err).WithOutput(stderr.String())
	}

	return stdout.Bytes(), nil
}
