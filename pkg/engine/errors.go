package engine

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorClass classifies a failure of the batch runner by the component that raised it.
type ErrorClass string

const (
	// ErrorClassValidation indicates the diagnostic tool could not produce a count.
	ErrorClassValidation ErrorClass = "validation"

	// ErrorClassBackup indicates a snapshot could not be created or restored.
	ErrorClassBackup ErrorClass = "backup"

	// ErrorClassOperation indicates the caller-supplied operation failed.
	ErrorClassOperation ErrorClass = "operation"

	// ErrorClassRatchet indicates the operation increased diagnostics on at least one file.
	ErrorClassRatchet ErrorClass = "ratchet"
)

// Stage names the step of a run in which an error happened.
type Stage string

const (
	StagePreview            Stage = "preview"
	StageBaselineValidation Stage = "baseline_validation"
	StageSnapshotCreation   Stage = "snapshot_creation"
	StageOperationApply     Stage = "operation_apply"
	StagePostValidation     Stage = "post_validation"
	StageRatchetComparison  Stage = "ratchet_comparison"
	StageRestore            Stage = "restore"
)

var (
	// ErrNoBackups is returned when a restore is requested without an id and
	// the catalog is empty.
	ErrNoBackups = errors.New("no backups available")

	// ErrUnknownBackup is returned when a backup id is not in the catalog.
	ErrUnknownBackup = errors.New("unknown backup id")
)

// Error is a classified runner error. Every error returned by Runner carries
// the stage it happened in. When compensation was attempted and failed, the
// failure is kept in RestoreErr while Err stays the reported cause.
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Stage is the run step that failed.
	Stage Stage `json:"stage,omitempty"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// RestoreErr is the compensation failure, if any.
	RestoreErr error `json:"-"`

	// Violations lists the files that regressed for ratchet errors.
	Violations []RatchetViolation `json:"violations,omitempty"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Stage != "" {
		msg = fmt.Sprintf("[%s] %s (stage=%s)", e.Class, e.Message, e.Stage)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.RestoreErr != nil {
		msg += fmt.Sprintf(" (restore also failed: %v)", e.RestoreErr)
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// MarshalJSON flattens the wrapped errors into strings.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	out := struct {
		*alias
		Cause        string `json:"cause,omitempty"`
		RestoreError string `json:"restore_error,omitempty"`
	}{alias: (*alias)(e)}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	if e.RestoreErr != nil {
		out.RestoreError = e.RestoreErr.Error()
	}
	return json.Marshal(out)
}

// NewValidationError creates a new validation error.
func NewValidationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassValidation,
		Message: message,
		Code:    ErrCodeValidation,
		Err:     err,
	}
}

// NewBackupError creates a new backup error.
func NewBackupError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassBackup,
		Message: message,
		Code:    ErrCodeBackup,
		Err:     err,
	}
}

// NewOperationError creates a new operation error.
func NewOperationError(message string, err error) *Error {
	return &Error{
		Class:   ErrorClassOperation,
		Message: message,
		Code:    ErrCodeOperation,
		Err:     err,
	}
}

// NewRatchetViolation creates a ratchet error listing the regressed files.
func NewRatchetViolation(violations []RatchetViolation) *Error {
	files := make([]string, 0, len(violations))
	for _, v := range violations {
		files = append(files, v.File)
	}
	return &Error{
		Class:      ErrorClassRatchet,
		Message:    fmt.Sprintf("diagnostics increased in %d file(s): %v", len(violations), files),
		Code:       ErrCodeRatchet,
		Violations: violations,
	}
}

// WithStage sets the failing stage.
func (e *Error) WithStage(stage Stage) *Error {
	e.Stage = stage
	return e
}

// WithCode adds an error code to an error.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WithRestoreError attaches a compensation failure without replacing the cause.
func (e *Error) WithRestoreError(err error) *Error {
	if err == nil {
		return e
	}
	e.RestoreErr = errors.Join(e.RestoreErr, err)
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsValidationError returns true if the error is classified as a validation error.
func IsValidationError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassValidation
}

// IsBackupError returns true if the error is classified as a backup error.
func IsBackupError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassBackup
}

// IsOperationError returns true if the error is classified as an operation error.
func IsOperationError(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassOperation
}

// IsRatchetViolation returns true if the error is a ratchet violation.
func IsRatchetViolation(err error) bool {
	c, ok := classOf(err)
	return ok && c == ErrorClassRatchet
}

// StageOf returns the stage recorded on err, or "" if err is not a runner error.
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Common error codes.
const (
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeBackup         = "BACKUP_ERROR"
	ErrCodeOperation      = "OPERATION_FAILED"
	ErrCodeRatchet        = "RATCHET_VIOLATION"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeTimeout        = "TIMEOUT"
	ErrCodeIntegrity      = "INTEGRITY_MISMATCH"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
)
