package engine_test

import (
	"errors"
	"fmt"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

// Example_errorHandling shows how callers inspect a failed run.
func Example_errorHandling() {
	cause := engine.NewRatchetViolation([]engine.RatchetViolation{
		{File: "src/app.py", Before: 2, After: 3},
	}).WithStage(engine.StageRatchetComparison)
	cause.WithRestoreError(errors.New("permission denied"))

	var err error = cause
	var e *engine.Error
	if errors.As(err, &e) {
		fmt.Println(e.Class, e.Stage)
		fmt.Println(e.Violations[0].File, e.Violations[0].Increase())
		fmt.Println(e.RestoreErr != nil)
	}
	// Output:
	// ratchet ratchet_comparison
	// src/app.py 1
	// true
}

// Example_modes shows mode parsing and classification.
func Example_modes() {
	for _, s := range []string{"preview", "APPLY", "restore"} {
		mode, err := engine.ParseOperationMode(s)
		if err != nil {
			fmt.Println(err)
			continue
		}
		fmt.Println(mode, mode.IsMutating())
	}
	// Output:
	// preview false
	// apply true
	// restore true
}
