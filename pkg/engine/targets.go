package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrNoMatches is returned when a glob target matches no files.
var ErrNoMatches = errors.New("pattern matches no files")

// ResolveTargets makes every target absolute against the working directory
// and replaces glob patterns with the files they match. Patterns are expanded
// with expander when one is given, otherwise to every matching regular file.
// Paths that exist are never treated as patterns. The result keeps target
// order without duplicates.
func ResolveTargets(targets []string, expander TargetExpander) ([]string, error) {
	seen := make(map[string]bool, len(targets))
	resolved := make([]string, 0, len(targets))
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			resolved = append(resolved, p)
		}
	}

	for _, target := range targets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", target, err)
		}
		if _, err := os.Lstat(abs); err == nil || !isPattern(abs) {
			// missing literal paths are reported by the stage that needs them
			add(abs)
			continue
		}

		var matches []string
		if expander != nil {
			matches, err = expander.Expand([]string{abs})
		} else {
			matches, err = doublestar.FilepathGlob(abs, doublestar.WithFilesOnly())
		}
		if err != nil {
			return nil, fmt.Errorf("expand %s: %w", target, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("%w: %s", ErrNoMatches, target)
		}
		for _, m := range matches {
			add(m)
		}
	}
	return resolved, nil
}

func isPattern(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
