package operations

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixScript = `
def preview(targets):
    files = []
    for t in targets:
        if "ISSUE" in read_file(t):
            files.append(t)
    return {"summary": "%d file(s) to fix" % len(files), "files_modified": files}

def apply(targets, backup_id):
    for t in targets:
        write_file(t, read_file(t).replace("ISSUE", "fixed"))
    return {"metadata": {"backup": backup_id}}
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewScriptRequiresFunctions(t *testing.T) {
	_, err := NewScript("bad.star", "def preview(targets):\n    return None\n")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply()")

	_, err = NewScript("syntax.star", "def preview(:\n")
	require.Error(t, err)
}

func TestScriptPreviewAndApply(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "x = 1  # ISSUE\n")
	b := writeFile(t, dir, "b.py", "clean\n")

	s, err := NewScript("fix.star", fixScript)
	require.NoError(t, err)
	assert.Equal(t, "script:fix.star", s.Name())

	report, err := s.Preview(context.Background(), []string{a, b})
	require.NoError(t, err)
	assert.Equal(t, "1 file(s) to fix", report.Summary)
	assert.Equal(t, []string{a}, report.FilesModified)

	content, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Contains(t, string(content), "ISSUE", "preview must not modify files")

	report, err = s.Apply(context.Background(), []string{a, b}, "backup-1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{a, b}, report.FilesModified)
	assert.Equal(t, "backup-1", report.Metadata["backup"])
	assert.NotEmpty(t, report.Summary)

	content, err = os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "x = 1  # fixed\n", string(content))
}

func TestScriptPreviewCannotWrite(t *testing.T) {
	dir := t.TempDir()
	a := writeFile(t, dir, "a.py", "ISSUE\n")

	s, err := NewScript("sneaky.star", `
def preview(targets):
    write_file(targets[0], "changed")

def apply(targets, backup_id):
    pass
`)
	require.NoError(t, err)

	_, err = s.Preview(context.Background(), []string{a})
	require.ErrorIs(t, err, ErrReadOnly)

	content, err := os.ReadFile(a)
	require.NoError(t, err)
	assert.Equal(t, "ISSUE\n", string(content))
}

func TestScriptWritesStayInsideTargets(t *testing.T) {
	dir := t.TempDir()
	target := writeFile(t, dir, "src/a.py", "ISSUE\n")
	outside := filepath.Join(dir, "other.py")

	s, err := NewScript("escape.star", `
def preview(targets):
    return None

def apply(targets, backup_id):
    write_file(outside, "oops")
`, WithScriptVars(map[string]interface{}{"outside": outside}))
	require.NoError(t, err)

	_, err = s.Apply(context.Background(), []string{filepath.Dir(target)}, "b")
	require.ErrorIs(t, err, ErrOutsideTargets)
	assert.NoFileExists(t, outside)
}

func TestScriptWriteUnderTargetDirectory(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	writeFile(t, src, "pkg/a.py", "ISSUE\n")
	writeFile(t, src, "pkg/b.txt", "ISSUE\n")

	s, err := NewScript("dir.star", `
def preview(targets):
    return list_files(targets[0], "**/*.py")

def apply(targets, backup_id):
    for f in list_files(targets[0], "**/*.py"):
        write_file(f, "fixed\n")
`)
	require.NoError(t, err)

	report, err := s.Preview(context.Background(), []string{src})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(src, "pkg", "a.py")}, report.FilesModified)

	report, err = s.Apply(context.Background(), []string{src}, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(src, "pkg", "a.py")}, report.FilesModified)
	assert.Equal(t, "dir.star wrote 1 file(s)", report.Summary)
}

func TestScriptCompensate(t *testing.T) {
	s, err := NewScript("comp.star", `
def preview(targets):
    return None

def apply(targets, backup_id):
    return "ok"

def compensate(backup_id):
    fail("compensate " + backup_id)
`)
	require.NoError(t, err)

	err = s.Compensate(context.Background(), "b-7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compensate b-7")

	plain, err := NewScript("plain.star", "def preview(t):\n    pass\ndef apply(t, b):\n    pass\n")
	require.NoError(t, err)
	assert.NoError(t, plain.Compensate(context.Background(), "b"))
}

func TestScriptTimeout(t *testing.T) {
	s, err := NewScript("slow.star", `
def preview(targets):
    n = 0
    for i in range(100000):
        for j in range(100000):
            n += 1
    return n

def apply(targets, backup_id):
    pass
`, WithScriptTimeout(50*time.Millisecond))
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Preview(context.Background(), []string{"x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline exceeded")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestScriptResultShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		summary string
		files   []string
		wantErr string
	}{
		{name: "none", body: "None"},
		{name: "string", body: `"done"`, summary: "done"},
		{name: "list", body: `["a.py", "b.py"]`, files: []string{"a.py", "b.py"}},
		{name: "struct", body: `struct(summary="s", files_modified=["a.py"])`, summary: "s", files: []string{"a.py"}},
		{name: "bad key", body: `{"bogus": 1}`, wantErr: "unknown result key"},
		{name: "bad list", body: `[1, 2]`, wantErr: "must be a string"},
		{name: "int", body: `3`, wantErr: "unsupported result type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := "def preview(targets):\n    return " + tt.body + "\n\ndef apply(targets, backup_id):\n    pass\n"
			s, err := NewScript(tt.name+".star", src)
			require.NoError(t, err)

			report, err := s.Preview(context.Background(), nil)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.True(t, strings.Contains(err.Error(), tt.wantErr), err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.summary, report.Summary)
			assert.Equal(t, tt.files, report.FilesModified)
		})
	}
}

func TestScriptVarsConversion(t *testing.T) {
	_, err := NewScript("v.star", "def preview(t):\n    pass\ndef apply(t, b):\n    pass\n",
		WithScriptVars(map[string]interface{}{"bad": struct{}{}}))
	require.Error(t, err)

	s, err := NewScript("v.star", `
def preview(targets):
    return {"summary": cfg["name"], "metadata": {"limit": cfg["limit"], "tags": tags}}

def apply(targets, backup_id):
    pass
`, WithScriptVars(map[string]interface{}{
		"cfg":  map[string]interface{}{"name": "tidy", "limit": 3},
		"tags": []string{"a", "b"},
	}))
	require.NoError(t, err)

	report, err := s.Preview(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "tidy", report.Summary)
	assert.Equal(t, int64(3), report.Metadata["limit"])
	assert.Equal(t, []interface{}{"a", "b"}, report.Metadata["tags"])
}
