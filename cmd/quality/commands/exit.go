package commands

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/flext-sh/flext-quality-sub003/pkg/baseline"
	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

// Process exit codes.
const (
	ExitOK         = 0
	ExitError      = 1
	ExitViolation  = 2
	ExitValidation = 3
)

// errBaselineViolation marks a count above the accepted baseline.
var errBaselineViolation = errors.New("baseline violation")

// runFailure carries the partial result of a failed run to the renderer.
type runFailure struct {
	result *engine.RunResult
	err    error
}

func (f *runFailure) Error() string {
	return f.err.Error()
}

func (f *runFailure) Unwrap() error {
	return f.err
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case engine.IsRatchetViolation(err), errors.Is(err, errBaselineViolation):
		return ExitViolation
	case engine.IsValidationError(err):
		return ExitValidation
	default:
		return ExitError
	}
}

// baselineViolationError reports a count above a baseline ledger entry.
type baselineViolationError struct {
	check baseline.Check
}

func (e *baselineViolationError) Error() string {
	return fmt.Sprintf("%s: %s has %d issue(s), baseline allows %d",
		errBaselineViolation, e.check.Name, e.check.Current, e.check.Baseline)
}

func (e *baselineViolationError) Is(target error) bool {
	return target == errBaselineViolation
}

func (e *baselineViolationError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Class   string         `json:"class"`
		Message string         `json:"message"`
		Check   baseline.Check `json:"check"`
	}{"baseline", e.Error(), e.check})
}
