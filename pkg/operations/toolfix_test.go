package operations

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flext-sh/flext-quality-sub003/pkg/validator"
)

func writeTool(t *testing.T, body string) string {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "fixer.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

const fixerBody = `for f; do [ -f "$f" ] || continue; sed -i 's/ISSUE/fixed/' "$f"; done`

const diffBody = `for f; do
  [ -f "$f" ] || continue
  if grep -q ISSUE "$f"; then printf -- '--- %s\n+++ %s\n@@ -1 +1 @@\n' "$f" "$f"; fi
done`

func fixerTool(t *testing.T) validator.ToolConfig {
	return validator.ToolConfig{
		Name:        "fake",
		Command:     writeTool(t, `if [ "$1" = "--diff" ]; then shift; `+diffBody+`; exit 0; fi; `+fixerBody),
		FixArgs:     []string{"--fix"},
		PreviewArgs: []string{"--diff"},
		Extensions:  []string{".py"},
		Format:      validator.FormatCount,
	}
}

func TestNewToolFixRequiresFixArgs(t *testing.T) {
	_, err := NewToolFix(validator.ToolConfig{Name: "mypy", Command: "mypy"}, nil)
	require.Error(t, err)

	_, err = NewToolFix(validator.ToolConfig{Name: "x", FixArgs: []string{"fix"}}, nil)
	require.Error(t, err)

	f, err := NewToolFix(validator.DefaultRuffConfig, nil)
	require.NoError(t, err)
	assert.Equal(t, "fix:ruff", f.Name())
}

func TestToolFixApplyReportsChangedFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "pkg/a.py", "x = 1  # ISSUE\n")
	b := writeFile(t, dir, "pkg/b.py", "clean\n")
	writeFile(t, dir, "pkg/notes.txt", "ISSUE\n")

	tool := fixerTool(t)
	f, err := NewToolFix(tool, validator.New([]validator.ToolConfig{tool}))
	require.NoError(t, err)

	report, err := f.Apply(context.Background(), []string{filepath.Join(dir, "pkg")}, "backup-1")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, report.FilesModified)
	require.Len(t, report.Changes, 1)
	assert.Equal(t, a, report.Changes[0].Path)
	assert.Equal(t, "fake changed 1 of 2 file(s)", report.Summary)
	assert.Equal(t, "backup-1", report.Metadata["backup_id"])

	content, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "x = 1  # fixed\n", string(content))

	content, err = os.ReadFile(b)
	require.NoError(t, err)
	assert.Equal(t, "clean\n", string(content))

	// Files the tool does not handle are never passed to it.
	content, err = os.ReadFile(filepath.Join(dir, "pkg", "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "ISSUE\n", string(content))
}

func TestToolFixPreviewDoesNotModify(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "ISSUE\n")
	b := writeFile(t, dir, "b.py", "clean\n")

	f, err := NewToolFix(fixerTool(t), nil)
	require.NoError(t, err)

	report, err := f.Preview(context.Background(), []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, report.FilesModified)
	assert.Contains(t, report.Metadata["diff"], "+++ "+a)

	content, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "ISSUE\n", string(content))
}

func TestToolFixPreviewWithoutPreviewArgs(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "ISSUE\n")

	tool := fixerTool(t)
	tool.PreviewArgs = nil
	f, err := NewToolFix(tool, nil)
	require.NoError(t, err)

	report, err := f.Preview(context.Background(), []string{a})
	require.NoError(t, err)
	assert.Equal(t, []string{a}, report.FilesModified)
	assert.Contains(t, report.Summary, "would run on 1 file(s)")
}

func TestToolFixFailures(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "ISSUE\n")

	tests := []struct {
		name  string
		tool  validator.ToolConfig
		cause validator.FailureCause
	}{
		{
			name:  "missing tool",
			tool:  validator.ToolConfig{Name: "gone", Command: "definitely-not-a-fixer-xyz", FixArgs: []string{"fix"}},
			cause: validator.CauseToolNotFound,
		},
		{
			name:  "non zero exit",
			tool:  validator.ToolConfig{Name: "crash", Command: writeTool(t, "echo boom >&2; exit 4"), FixArgs: []string{"fix"}},
			cause: validator.CauseNonZeroExit,
		},
		{
			name: "timeout",
			tool: validator.ToolConfig{
				Name: "slow", Command: writeTool(t, "exec sleep 5"), FixArgs: []string{"fix"},
				Timeout: 100 * time.Millisecond,
			},
			cause: validator.CauseTimedOut,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := NewToolFix(tt.tool, nil)
			require.NoError(t, err)

			_, err = f.Apply(context.Background(), []string{a}, "b")
			require.Error(t, err)
			assert.Equal(t, tt.cause, validator.CauseOf(err))
		})
	}
}

func TestToolFixIssueExitCodeAccepted(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "ISSUE\n")

	tool := validator.ToolConfig{
		Name:           "picky",
		Command:        writeTool(t, fixerBody+"; exit 1"),
		FixArgs:        []string{"fix"},
		IssueExitCodes: []int{1},
	}
	f, err := NewToolFix(tool, nil)
	require.NoError(t, err)

	report, err := f.Apply(context.Background(), []string{a}, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{a}, report.FilesModified)
}

func TestDiffFiles(t *testing.T) {
	diff := "--- a/src/a.py\n+++ b/src/a.py\t2024-01-01\n@@ -1 +1 @@\n-x\n+y\n" +
		"--- src/b.py\n+++ src/b.py\n" +
		"+++ b/src/a.py\n" +
		"--- old.py\n+++ /dev/null\n"
	assert.Equal(t, []string{"src/a.py", "src/b.py"}, diffFiles([]byte(diff)))
	assert.Empty(t, diffFiles(nil))
}
