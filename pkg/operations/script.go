package operations

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/telemetry"
)

// DefaultScriptTimeout bounds one script function call.
const DefaultScriptTimeout = 30 * time.Second

// ErrReadOnly is returned by write_file while previewing.
var ErrReadOnly = errors.New("write_file is not allowed in preview")

// ErrOutsideTargets is returned by write_file for paths no target covers.
// Such writes could not be rolled back from the snapshot.
var ErrOutsideTargets = errors.New("path is outside the run targets")

// Script is an operation defined in Starlark. The script declares
//
//	def preview(targets): ...
//	def apply(targets, backup_id): ...
//	def compensate(backup_id): ...   # optional
//
// and may call read_file(path), write_file(path, content) and
// list_files(dir, pattern="**/*"). write_file only accepts paths under the
// run targets, and fails during preview.
type Script struct {
	name    string
	source  string
	timeout time.Duration
	vars    map[string]interface{}
	globals starlark.StringDict
	logger  *telemetry.Logger
}

var _ engine.Operation = (*Script)(nil)

// ScriptOption configures a Script.
type ScriptOption func(*Script)

// WithScriptTimeout bounds each script function call.
func WithScriptTimeout(d time.Duration) ScriptOption {
	return func(s *Script) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithScriptVars predeclares vars as script globals. Values may be nil,
// bool, int, int64, float64, string, []string, []interface{} or
// map[string]interface{}.
func WithScriptVars(vars map[string]interface{}) ScriptOption {
	return func(s *Script) {
		for k, v := range vars {
			s.vars[k] = v
		}
	}
}

// WithScriptLogger sets the logger; script print() output goes to it.
func WithScriptLogger(logger *telemetry.Logger) ScriptOption {
	return func(s *Script) {
		if logger != nil {
			s.logger = logger.NewComponentLogger("script")
		}
	}
}

// LoadScript reads a script file.
func LoadScript(path string, opts ...ScriptOption) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return NewScript(filepath.Base(path), string(data), opts...)
}

// NewScript compiles source once to check it defines the required functions.
func NewScript(name, source string, opts ...ScriptOption) (*Script, error) {
	s := &Script{
		name:    name,
		source:  source,
		timeout: DefaultScriptTimeout,
		vars:    make(map[string]interface{}),
		globals: make(starlark.StringDict),
		logger:  telemetry.NopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	for key, val := range s.vars {
		sv, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert script var %s: %w", key, err)
		}
		sv.Freeze()
		s.globals[key] = sv
	}

	globals, err := s.load(context.Background(), &session{readOnly: true})
	if err != nil {
		return nil, err
	}
	for _, fn := range []string{"preview", "apply"} {
		if _, ok := globals[fn].(starlark.Callable); !ok {
			return nil, fmt.Errorf("script %s does not define %s()", name, fn)
		}
	}
	return s, nil
}

// Name returns "script:<file>".
func (s *Script) Name() string {
	return "script:" + s.name
}

// Preview calls preview(targets) with writes disabled.
func (s *Script) Preview(ctx context.Context, targets []string) (*engine.Report, error) {
	sess := &session{readOnly: true, targets: targets}
	v, err := s.call(ctx, sess, "preview", starlarkStrings(targets))
	if err != nil {
		return nil, err
	}
	return toReport(v)
}

// Apply calls apply(targets, backup_id). Files written through write_file are
// added to the report.
func (s *Script) Apply(ctx context.Context, targets []string, backupID string) (*engine.Report, error) {
	sess := &session{targets: targets}
	v, err := s.call(ctx, sess, "apply", starlarkStrings(targets), starlark.String(backupID))
	if err != nil {
		return nil, err
	}
	report, err := toReport(v)
	if err != nil {
		return nil, err
	}
	report.FilesModified = mergeStrings(report.FilesModified, sess.written)
	if report.Summary == "" {
		report.Summary = fmt.Sprintf("%s wrote %d file(s)", s.name, len(sess.written))
	}
	return report, nil
}

// Compensate calls compensate(backup_id) when the script defines it.
func (s *Script) Compensate(ctx context.Context, backupID string) error {
	sess := &session{readOnly: true}
	globals, err := s.load(ctx, sess)
	if err != nil {
		return err
	}
	if _, ok := globals["compensate"]; !ok {
		return nil
	}
	_, err = s.call(ctx, sess, "compensate", starlark.String(backupID))
	return err
}

// session is the state of one script call.
type session struct {
	readOnly bool
	targets  []string
	written  []string
}

func (s *Script) call(ctx context.Context, sess *session, fn string, args ...starlark.Value) (starlark.Value, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := s.thread()
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	globals, err := s.exec(thread, sess)
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	callable, ok := globals[fn].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("script %s does not define %s()", s.name, fn)
	}

	start := time.Now()
	v, err := starlark.Call(thread, callable, args, nil)
	s.logger.Zerolog().Debug().
		Str("function", fn).
		Dur("duration", time.Since(start)).
		Msg("script call finished")
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	return v, nil
}

func (s *Script) load(ctx context.Context, sess *session) (starlark.StringDict, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	thread := s.thread()
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(ctx.Err().Error())
	})
	defer stop()

	globals, err := s.exec(thread, sess)
	if err != nil {
		return nil, s.wrap(ctx, err)
	}
	return globals, nil
}

func (s *Script) thread() *starlark.Thread {
	return &starlark.Thread{
		Name: s.name,
		Print: func(_ *starlark.Thread, msg string) {
			s.logger.Zerolog().Info().Str("script", s.name).Msg(msg)
		},
	}
}

func (s *Script) exec(thread *starlark.Thread, sess *session) (starlark.StringDict, error) {
	predeclared := starlark.StringDict{
		"struct":     starlarkstruct.Default,
		"read_file":  starlark.NewBuiltin("read_file", builtinReadFile),
		"write_file": starlark.NewBuiltin("write_file", sess.builtinWriteFile),
		"list_files": starlark.NewBuiltin("list_files", builtinListFiles),
	}
	for key, val := range s.globals {
		predeclared[key] = val
	}
	return starlark.ExecFile(thread, s.name, s.source, predeclared)
}

func (s *Script) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("script %s: %w after %s", s.name, ctx.Err(), s.timeout)
	}
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		s.logger.Zerolog().Debug().Str("script", s.name).Msg(evalErr.Backtrace())
	}
	return fmt.Errorf("script %s: %w", s.name, err)
}

// builtinReadFile implements read_file(path).
func builtinReadFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	return starlark.String(data), nil
}

// builtinWriteFile implements write_file(path, content).
func (sess *session) builtinWriteFile(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var path, content string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path, "content", &content); err != nil {
		return nil, err
	}
	if sess.readOnly {
		return nil, ErrReadOnly
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if !covered(abs, sess.targets) {
		return nil, fmt.Errorf("%s %s: %w", b.Name(), path, ErrOutsideTargets)
	}

	mode := os.FileMode(0644)
	if info, err := os.Stat(abs); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.WriteFile(abs, []byte(content), mode); err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	sess.written = mergeStrings(sess.written, []string{path})
	return starlark.None, nil
}

// builtinListFiles implements list_files(dir, pattern="**/*").
func builtinListFiles(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var dir string
	pattern := "**/*"
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "dir", &dir, "pattern?", &pattern); err != nil {
		return nil, err
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("%s: invalid pattern %q", b.Name(), pattern)
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", b.Name(), err)
	}
	sort.Strings(matches)
	files := make([]string, len(matches))
	for i, m := range matches {
		files[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	return starlarkStrings(files), nil
}

// covered reports whether abs is a target or lies under a target directory.
func covered(abs string, targets []string) bool {
	for _, t := range targets {
		ta, err := filepath.Abs(t)
		if err != nil {
			continue
		}
		if abs == ta || strings.HasPrefix(abs, ta+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func starlarkStrings(ss []string) *starlark.List {
	list := make([]starlark.Value, len(ss))
	for i, s := range ss {
		list[i] = starlark.String(s)
	}
	return starlark.NewList(list)
}

func mergeStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
