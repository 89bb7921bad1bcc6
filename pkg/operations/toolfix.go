package operations

import (
	"bufio"
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"strings"
	"time"

	"lukechampine.com/blake3"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/telemetry"
	"github.com/flext-sh/flext-quality-sub003/pkg/validator"
)

// DefaultFixTimeout bounds one fixer invocation when the tool sets none.
const DefaultFixTimeout = 2 * time.Minute

// ToolFix runs a tool's fix command over the targets. Changed files are found
// by comparing content digests taken before and after the run.
type ToolFix struct {
	tool       validator.ToolConfig
	expander   engine.TargetExpander
	workingDir string
	logger     *telemetry.Logger
}

var _ engine.Operation = (*ToolFix)(nil)

// ToolFixOption configures a ToolFix.
type ToolFixOption func(*ToolFix)

// WithFixWorkingDir runs the fixer in dir.
func WithFixWorkingDir(dir string) ToolFixOption {
	return func(f *ToolFix) {
		f.workingDir = dir
	}
}

// WithFixLogger sets the logger.
func WithFixLogger(logger *telemetry.Logger) ToolFixOption {
	return func(f *ToolFix) {
		if logger != nil {
			f.logger = logger.NewComponentLogger("toolfix")
		}
	}
}

// NewToolFix creates a fixer operation for tool. expander turns targets into
// the files handed to the tool; nil passes targets as given.
func NewToolFix(tool validator.ToolConfig, expander engine.TargetExpander, opts ...ToolFixOption) (*ToolFix, error) {
	if tool.Command == "" {
		return nil, fmt.Errorf("tool %s: command is required", tool.Name)
	}
	if len(tool.FixArgs) == 0 {
		return nil, fmt.Errorf("tool %s has no fix command", tool.Name)
	}
	f := &ToolFix{
		tool:     tool,
		expander: expander,
		logger:   telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Name returns "fix:<tool>".
func (f *ToolFix) Name() string {
	return "fix:" + f.tool.Name
}

// Preview runs the tool's preview command and reports the files named in its
// diff output. A tool without a preview command lists the candidate files.
func (f *ToolFix) Preview(ctx context.Context, targets []string) (*engine.Report, error) {
	files, err := f.files(targets)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &engine.Report{Summary: "no files to fix"}, nil
	}

	if len(f.tool.PreviewArgs) == 0 {
		return &engine.Report{
			Summary:       fmt.Sprintf("%s would run on %d file(s)", f.tool.Name, len(files)),
			FilesModified: files,
		}, nil
	}

	out, err := f.run(ctx, f.tool.PreviewArgs, files)
	if err != nil {
		return nil, err
	}
	changed := diffFiles(out)
	report := &engine.Report{
		Summary:       fmt.Sprintf("%s would change %d file(s)", f.tool.Name, len(changed)),
		FilesModified: changed,
		Metadata:      map[string]interface{}{"diff": string(out)},
	}
	for _, p := range changed {
		report.Changes = append(report.Changes, engine.Change{Path: p, Description: "fixable diagnostics"})
	}
	return report, nil
}

// Apply runs the fix command and reports the files whose content changed.
func (f *ToolFix) Apply(ctx context.Context, targets []string, backupID string) (*engine.Report, error) {
	files, err := f.files(targets)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return &engine.Report{Summary: "no files to fix"}, nil
	}

	before, err := digestAll(files)
	if err != nil {
		return nil, err
	}
	if _, err := f.run(ctx, f.tool.FixArgs, files); err != nil {
		return nil, err
	}
	after, err := digestAll(files)
	if err != nil {
		return nil, err
	}

	report := &engine.Report{Metadata: map[string]interface{}{"backup_id": backupID, "tool": f.tool.Name}}
	for _, p := range files {
		if before[p] != after[p] {
			report.FilesModified = append(report.FilesModified, p)
			report.Changes = append(report.Changes, engine.Change{
				Path:        p,
				Description: fmt.Sprintf("rewritten by %s", f.tool.Name),
			})
		}
	}
	report.Summary = fmt.Sprintf("%s changed %d of %d file(s)", f.tool.Name, len(report.FilesModified), len(files))

	f.logger.Zerolog().Info().
		Str("tool", f.tool.Name).
		Int("files", len(files)).
		Int("changed", len(report.FilesModified)).
		Msg("fixer applied")
	return report, nil
}

// Compensate does nothing: the fixer only touches files the snapshot covers.
func (f *ToolFix) Compensate(context.Context, string) error {
	return nil
}

func (f *ToolFix) files(targets []string) ([]string, error) {
	if f.expander == nil {
		return targets, nil
	}
	return f.expander.Expand(targets)
}

func (f *ToolFix) run(ctx context.Context, baseArgs, files []string) ([]byte, error) {
	args := make([]string, 0, len(baseArgs)+len(files))
	args = append(args, baseArgs...)
	args = append(args, files...)

	timeout := f.tool.Timeout
	if timeout <= 0 {
		timeout = DefaultFixTimeout
	}
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, f.tool.Command, args...)
	cmd.Dir = f.workingDir
	cmd.WaitDelay = time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, validator.NewToolError(f.tool.Name, "", validator.CauseTimedOut,
			fmt.Errorf("after %s", timeout)).WithOutput(stderr.String())
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if errors.Is(err, exec.ErrNotFound) {
			return nil, validator.NewToolError(f.tool.Name, "", validator.CauseToolNotFound, err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && slices.Contains(f.tool.IssueExitCodes, exitErr.ExitCode()) {
			return stdout.Bytes(), nil
		}
		te := validator.NewToolError(f.tool.Name, "", validator.CauseNonZeroExit, err).WithOutput(stderr.String())
		if exitErr != nil {
			te.ExitCode = exitErr.ExitCode()
		}
		return nil, te
	}
	return stdout.Bytes(), nil
}

// diffFiles returns the files named by "+++ " headers of a unified diff.
func diffFiles(diff []byte) []string {
	var files []string
	seen := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(diff))
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "+++ ") {
			continue
		}
		name := strings.TrimPrefix(line, "+++ ")
		if i := strings.IndexByte(name, '\t'); i >= 0 {
			name = name[:i]
		}
		name = strings.TrimPrefix(strings.TrimSpace(name), "b/")
		if name == "" || name == "/dev/null" || seen[name] {
			continue
		}
		seen[name] = true
		files = append(files, name)
	}
	return files
}

func digestAll(files []string) (map[string]string, error) {
	digests := make(map[string]string, len(files))
	for _, p := range files {
		d, err := digest(p)
		if err != nil {
			return nil, fmt.Errorf("digest %s: %w", p, err)
		}
		digests[p] = d
	}
	return digests, nil
}

func digest(path string) (string, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
