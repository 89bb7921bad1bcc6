// Package baseline keeps a persistent ledger of accepted issue counts for
// tracked categories. The ledger is a text file with one "name:count" entry
// per line; lines starting with '#' and blank lines are ignored.
//
// The ledger only changes through Update or Write. Nothing updates it as a
// side effect of a run.
package baseline

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

// DefaultFile is the ledger file name used when no path is configured.
const DefaultFile = ".quality-baseline"

const header = "# Accepted issue counts per tracked category.\n" +
	"# Format: name:count. Lower a count to tighten the ratchet.\n"

var (
	// ErrMalformedLine is returned when a ledger line cannot be parsed.
	ErrMalformedLine = errors.New("malformed baseline line")

	// ErrInvalidEntry is returned for names or counts that cannot be stored.
	ErrInvalidEntry = errors.New("invalid baseline entry")
)

// Check is the result of comparing a current count with the baseline.
type Check struct {
	Name        string `json:"name"`
	Baseline    int    `json:"baseline"`
	Current     int    `json:"current"`
	IsViolation bool   `json:"is_violation"`
	Increase    int    `json:"increase"`
}

// Store reads and writes one ledger file.
type Store struct {
	fs   afero.Fs
	path string
}

// Option configures a Store.
type Option func(*Store)

// WithFs replaces the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) {
		s.fs = fs
	}
}

// New creates a Store for the ledger at path.
func New(path string, opts ...Option) *Store {
	if path == "" {
		path = DefaultFile
	}
	s := &Store{fs: afero.NewOsFs(), path: path}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the ledger path.
func (s *Store) Path() string {
	return s.path
}

// Read parses the ledger. A missing file is an empty ledger.
func (s *Store) Read() (map[string]int, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if errors.Is(err, os.ErrNotExist) {
		return map[string]int{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read baseline %s: %w", s.path, err)
	}
	return Parse(data)
}

// Parse reads ledger content.
func Parse(data []byte) (map[string]int, error) {
	entries := make(map[string]int)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("%w at line %d: %q", ErrMalformedLine, lineNo, line)
		}
		count, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || count < 0 {
			return nil, fmt.Errorf("%w at line %d: %q", ErrMalformedLine, lineNo, line)
		}
		entries[name] = count
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Format renders entries sorted by name.
func Format(entries map[string]int) ([]byte, error) {
	names := make([]string, 0, len(entries))
	for name, count := range entries {
		if err := validateEntry(name, count); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	buf.WriteString(header)
	for _, name := range names {
		fmt.Fprintf(&buf, "%s:%d\n", name, entries[name])
	}
	return buf.Bytes(), nil
}

// Write replaces the ledger with entries. The file is written to a temporary
// sibling and renamed into place.
func (s *Store) Write(entries map[string]int) error {
	data, err := Format(entries)
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create baseline directory: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write baseline: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write baseline: %w", err)
	}
	if err := s.fs.Rename(tmpName, s.path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write baseline: %w", err)
	}
	return nil
}

// Get returns the accepted count for name, 0 when absent.
func (s *Store) Get(name string) (int, error) {
	entries, err := s.Read()
	if err != nil {
		return 0, err
	}
	return entries[name], nil
}

// CheckViolation compares current against the accepted count. It is a
// violation only when current is strictly greater.
func (s *Store) CheckViolation(name string, current int) (Check, error) {
	baseline, err := s.Get(name)
	if err != nil {
		return Check{}, err
	}
	return Check{
		Name:        name,
		Baseline:    baseline,
		Current:     current,
		IsViolation: current > baseline,
		Increase:    current - baseline,
	}, nil
}

// Update sets the accepted count for name, keeping the other entries.
func (s *Store) Update(name string, count int) error {
	if err := validateEntry(name, count); err != nil {
		return err
	}
	entries, err := s.Read()
	if err != nil {
		return err
	}
	entries[name] = count
	return s.Write(entries)
}

func validateEntry(name string, count int) error {
	switch {
	case strings.TrimSpace(name) != name || name == "":
		return fmt.Errorf("%w: name %q", ErrInvalidEntry, name)
	case strings.ContainsAny(name, ":\n\r") || strings.HasPrefix(name, "#"):
		return fmt.Errorf("%w: name %q", ErrInvalidEntry, name)
	case count < 0:
		return fmt.Errorf("%w: negative count %d for %s", ErrInvalidEntry, count, name)
	}
	return nil
}
