package validator

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Expand turns targets into the files the configured tools handle. Files are
// kept as given; directories are walked; glob patterns are expanded. The
// result keeps target order, with each directory's files sorted, and no
// duplicates.
func (v *Validator) Expand(targets []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, target := range targets {
		info, err := os.Stat(target)
		switch {
		case err == nil && info.IsDir():
			found, err := v.walk(target)
			if err != nil {
				return nil, err
			}
			for _, f := range found {
				add(f)
			}
		case err == nil:
			add(target)
		case os.IsNotExist(err) && hasMeta(target):
			matches, err := doublestar.FilepathGlob(target, doublestar.WithFilesOnly())
			if err != nil {
				return nil, fmt.Errorf("bad pattern %q: %w", target, err)
			}
			base, _ := doublestar.SplitPattern(filepath.ToSlash(target))
			for _, m := range matches {
				rel := strings.TrimPrefix(strings.TrimPrefix(filepath.ToSlash(m), base), "/")
				if v.handled(m) && !v.excludedPath(rel) {
					add(m)
				}
			}
		case os.IsNotExist(err):
			return nil, fmt.Errorf("%w: %s", ErrTargetDoesNotExist, target)
		default:
			return nil, fmt.Errorf("stat %s: %w", target, err)
		}
	}
	return files, nil
}

func (v *Validator) walk(root string) ([]string, error) {
	pattern := v.includePattern()
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if v.excluded(rel, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || v.excluded(rel, d.Name()) {
			return nil
		}
		ok, err := doublestar.Match(pattern, rel)
		if err != nil {
			return err
		}
		if ok {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

// includePattern builds "**/*{.py,.pyi}" from the tool extensions, or "**"
// when some tool accepts every file.
func (v *Validator) includePattern() string {
	var exts []string
	seen := make(map[string]bool)
	for _, t := range v.tools {
		if len(t.Extensions) == 0 {
			return "**"
		}
		for _, e := range t.Extensions {
			if !seen[e] {
				seen[e] = true
				exts = append(exts, e)
			}
		}
	}
	switch len(exts) {
	case 0:
		return "**"
	case 1:
		return "**/*" + exts[0]
	default:
		return "**/*{" + strings.Join(exts, ",") + "}"
	}
}

func (v *Validator) handled(path string) bool {
	for _, t := range v.tools {
		if t.Handles(path) {
			return true
		}
	}
	return len(v.tools) == 0
}

func (v *Validator) excluded(rel, name string) bool {
	for _, p := range v.excludes {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
	}
	return false
}

// excludedPath checks every component of a slash-separated relative path.
func (v *Validator) excludedPath(rel string) bool {
	parts := strings.Split(rel, "/")
	for i, part := range parts {
		if v.excluded(strings.Join(parts[:i+1], "/"), part) {
			return true
		}
	}
	return false
}

func hasMeta(path string) bool {
	return strings.ContainsAny(path, "*?[{")
}
