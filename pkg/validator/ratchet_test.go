package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

func TestCompareRatchet(t *testing.T) {
	tests := []struct {
		name       string
		before     engine.DiagnosticCountMap
		after      engine.DiagnosticCountMap
		passed     bool
		violations []engine.RatchetViolation
	}{
		{
			name:   "improvement passes",
			before: engine.DiagnosticCountMap{"a.py": 5, "b.py": 2},
			after:  engine.DiagnosticCountMap{"a.py": 1, "b.py": 2},
			passed: true,
		},
		{
			name:   "equal counts pass",
			before: engine.DiagnosticCountMap{"a.py": 0},
			after:  engine.DiagnosticCountMap{"a.py": 0},
			passed: true,
		},
		{
			name:   "single increase fails",
			before: engine.DiagnosticCountMap{"a.py": 2, "b.py": 3},
			after:  engine.DiagnosticCountMap{"a.py": 3, "b.py": 0},
			passed: false,
			violations: []engine.RatchetViolation{
				{File: "a.py", Before: 2, After: 3},
			},
		},
		{
			name:   "increase is not offset by decreases elsewhere",
			before: engine.DiagnosticCountMap{"c.py": 0, "a.py": 10, "b.py": 1},
			after:  engine.DiagnosticCountMap{"c.py": 1, "a.py": 0, "b.py": 4},
			passed: false,
			violations: []engine.RatchetViolation{
				{File: "b.py", Before: 1, After: 4},
				{File: "c.py", Before: 0, After: 1},
			},
		},
		{
			name:   "empty maps pass",
			before: engine.DiagnosticCountMap{},
			after:  engine.DiagnosticCountMap{},
			passed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Comparator{}.Compare(tt.before, tt.after)
			require.NoError(t, err)
			assert.Equal(t, tt.passed, result.Passed)
			assert.Equal(t, tt.violations, result.Violations)
		})
	}
}

func TestCompareRatchetFileSetMismatch(t *testing.T) {
	_, err := CompareRatchet(
		engine.DiagnosticCountMap{"a.py": 1, "b.py": 1},
		engine.DiagnosticCountMap{"a.py": 1, "c.py": 0},
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileSetMismatch)
	assert.Contains(t, err.Error(), "b.py")
	assert.Contains(t, err.Error(), "c.py")
}
