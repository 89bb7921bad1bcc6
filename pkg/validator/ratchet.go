package validator

import (
	"fmt"
	"sort"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

// Comparator implements engine.RatchetComparator.
type Comparator struct{}

// Compare calls CompareRatchet.
func (Comparator) Compare(before, after engine.DiagnosticCountMap) (engine.RatchetResult, error) {
	return CompareRatchet(before, after)
}

// CompareRatchet flags every file whose diagnostic count strictly increased.
// Equal or lower counts pass. The maps must cover the same files, otherwise
// the comparison is meaningless and an error is returned.
func CompareRatchet(before, after engine.DiagnosticCountMap) (engine.RatchetResult, error) {
	var onlyBefore, onlyAfter []string
	for path := range before {
		if _, ok := after[path]; !ok {
			onlyBefore = append(onlyBefore, path)
		}
	}
	for path := range after {
		if _, ok := before[path]; !ok {
			onlyAfter = append(onlyAfter, path)
		}
	}
	if len(onlyBefore) > 0 || len(onlyAfter) > 0 {
		sort.Strings(onlyBefore)
		sort.Strings(onlyAfter)
		return engine.RatchetResult{}, fmt.Errorf("%w: missing after=%v, missing before=%v",
			ErrFileSetMismatch, onlyBefore, onlyAfter)
	}

	result := engine.RatchetResult{Passed: true}
	for _, path := range before.Paths() {
		if after[path] > before[path] {
			result.Violations = append(result.Violations, engine.RatchetViolation{
				File:   path,
				Before: before[path],
				After:  after[path],
			})
		}
	}
	result.Passed = len(result.Violations) == 0
	return result, nil
}
