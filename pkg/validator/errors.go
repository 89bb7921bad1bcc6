package validator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// FailureCause enumerates why a diagnostic tool could not produce a count.
type FailureCause string

const (
	// CauseToolNotFound means the tool binary is not installed or not on PATH.
	CauseToolNotFound FailureCause = "tool_not_found"

	// CauseTimedOut means the tool did not finish within its timeout.
	CauseTimedOut FailureCause = "timed_out"

	// CauseNonZeroExit means the tool exited with a code it does not use for
	// "issues found", or could not be started.
	CauseNonZeroExit FailureCause = "non_zero_exit"

	// CauseUnparseableOutput means the tool ran but its output could not be read.
	CauseUnparseableOutput FailureCause = "unparseable_output"
)

// Sentinel errors, one per failure cause. ToolError unwraps to them.
var (
	ErrToolNotFound       = errors.New("diagnostic tool not found")
	ErrToolTimeout        = errors.New("diagnostic tool timed out")
	ErrToolFailed         = errors.New("diagnostic tool failed")
	ErrUnparseableOutput  = errors.New("diagnostic tool output could not be parsed")
	ErrFileSetMismatch    = errors.New("diagnostic maps cover different files")
	ErrUnknownTool        = errors.New("unknown diagnostic tool")
	ErrUnknownFormat      = errors.New("unknown output format")
	ErrTargetDoesNotExist = errors.New("target does not exist")
)

func (c FailureCause) sentinel() error {
	switch c {
	case CauseToolNotFound:
		return ErrToolNotFound
	case CauseTimedOut:
		return ErrToolTimeout
	case CauseNonZeroExit:
		return ErrToolFailed
	case CauseUnparseableOutput:
		return ErrUnparseableOutput
	default:
		return ErrToolFailed
	}
}

// ToolError is the failure of one tool invocation on one file.
type ToolError struct {
	Tool     string
	Path     string
	Cause    FailureCause
	ExitCode int
	Output   string
	Err      error
}

// NewToolError creates a ToolError for the given cause.
func NewToolError(tool, path string, cause FailureCause, err error) *ToolError {
	return &ToolError{Tool: tool, Path: path, Cause: cause, Err: err}
}

// WithOutput attaches the captured stderr, trimmed.
func (e *ToolError) WithOutput(output string) *ToolError {
	e.Output = strings.TrimSpace(output)
	return e
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	msg := e.Tool
	if e.Path != "" {
		msg += " on " + e.Path
	}
	msg += ": " + string(e.Cause)
	if e.Cause == CauseNonZeroExit && e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit code %d)", e.ExitCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += ": " + firstLine(e.Output)
	}
	return msg
}

// Unwrap exposes the cause sentinel and the underlying error. A timed-out
// tool also unwraps to context.DeadlineExceeded.
func (e *ToolError) Unwrap() []error {
	errs := []error{e.Cause.sentinel()}
	if e.Cause == CauseTimedOut {
		errs = append(errs, context.DeadlineExceeded)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// CauseOf returns the failure cause of err, or "" if err is not a ToolError.
func CauseOf(err error) FailureCause {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Cause
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
