package snapshot

import (
	"archive/tar"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

func newTestManager(t *testing.T, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(filepath.Join(t.TempDir(), "backups"), opts...)
	require.NoError(t, err)
	return m
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestCreateRestoreFile(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	src := filepath.Join(t.TempDir(), "a.py")
	write(t, src, "x = 1\n")
	require.NoError(t, os.Chmod(src, 0640))

	manifest, err := m.Create(ctx, []string{src})
	require.NoError(t, err)
	assert.NotEmpty(t, manifest.ID)
	assert.Equal(t, []string{src}, manifest.SourcePaths)
	require.Len(t, manifest.Entries, 1)
	entry := manifest.Entries[0]
	assert.Equal(t, engine.BackupKindFile, entry.Kind)
	assert.Equal(t, filepath.Join(manifest.ArchiveLocation, "a.py"), entry.Location)
	assert.Equal(t, "x = 1\n", read(t, entry.Location))
	assert.Equal(t, filepath.Dir(manifest.ArchiveLocation), m.Root())

	// source untouched by Create
	assert.Equal(t, "x = 1\n", read(t, src))

	write(t, src, "x = 2  # broken\n")
	require.NoError(t, m.Restore(ctx, manifest.ID))
	assert.Equal(t, "x = 1\n", read(t, src))

	info, err := os.Stat(src)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0640), info.Mode().Perm())

	// idempotent
	require.NoError(t, m.Restore(ctx, manifest.ID))
	assert.Equal(t, "x = 1\n", read(t, src))
}

func TestCreateRestoreDirectory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	root := filepath.Join(t.TempDir(), "proj")
	write(t, filepath.Join(root, "a.py"), "a\n")
	write(t, filepath.Join(root, "pkg", "b.py"), "b\n")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0755))
	require.NoError(t, os.Symlink("a.py", filepath.Join(root, "link.py")))

	manifest, err := m.Create(ctx, []string{root})
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, engine.BackupKindDirectory, manifest.Entries[0].Kind)
	assert.Equal(t, filepath.Join(manifest.ArchiveLocation, "proj.tar.gz"), manifest.Entries[0].Location)

	// mutate: edit, add, delete
	write(t, filepath.Join(root, "a.py"), "changed\n")
	write(t, filepath.Join(root, "new.py"), "new\n")
	require.NoError(t, os.RemoveAll(filepath.Join(root, "pkg")))

	for i := 0; i < 2; i++ {
		require.NoError(t, m.Restore(ctx, manifest.ID))

		assert.Equal(t, "a\n", read(t, filepath.Join(root, "a.py")))
		assert.Equal(t, "b\n", read(t, filepath.Join(root, "pkg", "b.py")))
		assert.NoFileExists(t, filepath.Join(root, "new.py"))
		assert.DirExists(t, filepath.Join(root, "empty"))
		link, err := os.Readlink(filepath.Join(root, "link.py"))
		require.NoError(t, err)
		assert.Equal(t, "a.py", link)
	}

	// no staging directories left behind
	siblings, err := os.ReadDir(filepath.Dir(root))
	require.NoError(t, err)
	assert.Len(t, siblings, 1)
}

func TestRestoreDeletedDirectory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	root := filepath.Join(t.TempDir(), "proj")
	write(t, filepath.Join(root, "a.py"), "a\n")

	manifest, err := m.Create(ctx, []string{root})
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(root))

	require.NoError(t, m.Restore(ctx, manifest.ID))
	assert.Equal(t, "a\n", read(t, filepath.Join(root, "a.py")))
}

func symlink(t *testing.T, target, link string) {
	t.Helper()
	if err := os.Symlink(target, link); err != nil {
		t.Skipf("symlinks not supported: %v", err)
	}
}

func TestCreateRestoreSymlinkedDirectory(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	base := t.TempDir()
	realDir := filepath.Join(base, "real")
	write(t, filepath.Join(realDir, "a.py"), "orig\n")
	link := filepath.Join(base, "proj")
	symlink(t, realDir, link)
	resolved, err := filepath.EvalSymlinks(realDir)
	require.NoError(t, err)

	manifest, err := m.Create(ctx, []string{link})
	require.NoError(t, err)
	assert.Equal(t, []string{link}, manifest.SourcePaths)
	require.Len(t, manifest.Entries, 1)
	assert.Equal(t, engine.BackupKindDirectory, manifest.Entries[0].Kind)
	assert.Equal(t, resolved, manifest.Entries[0].Source)

	write(t, filepath.Join(realDir, "a.py"), "mutated\n")
	write(t, filepath.Join(realDir, "new.py"), "x\n")

	require.NoError(t, m.Restore(ctx, manifest.ID))
	assert.Equal(t, "orig\n", read(t, filepath.Join(link, "a.py")))
	assert.NoFileExists(t, filepath.Join(realDir, "new.py"))

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "the link itself is left in place")
}

func TestCreateRestoreSymlinkedFile(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	base := t.TempDir()
	realFile := filepath.Join(base, "real.py")
	write(t, realFile, "orig\n")
	link := filepath.Join(base, "link.py")
	symlink(t, realFile, link)

	// the link and its target are one source
	manifest, err := m.Create(ctx, []string{link, realFile})
	require.NoError(t, err)
	require.Len(t, manifest.Entries, 1)

	write(t, realFile, "mutated\n")
	require.NoError(t, m.Restore(ctx, manifest.ID))
	assert.Equal(t, "orig\n", read(t, realFile))

	info, err := os.Lstat(link)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink, "restore must not replace the link with a copy")
}

func TestCreateMixedTargetsWithNameCollision(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	base := t.TempDir()
	one := filepath.Join(base, "one", "util.py")
	two := filepath.Join(base, "two", "util.py")
	dir := filepath.Join(base, "lib")
	write(t, one, "1\n")
	write(t, two, "2\n")
	write(t, filepath.Join(dir, "c.py"), "c\n")

	manifest, err := m.Create(ctx, []string{one, two, dir, one})
	require.NoError(t, err)
	assert.Equal(t, []string{one, two, dir}, manifest.SourcePaths)
	require.Len(t, manifest.Entries, 3)
	assert.NotEqual(t, manifest.Entries[0].Location, manifest.Entries[1].Location)

	write(t, one, "x\n")
	write(t, two, "y\n")
	write(t, filepath.Join(dir, "c.py"), "z\n")
	require.NoError(t, m.Restore(ctx, manifest.ID))
	assert.Equal(t, "1\n", read(t, one))
	assert.Equal(t, "2\n", read(t, two))
	assert.Equal(t, "c\n", read(t, filepath.Join(dir, "c.py")))
}

func TestCreateFailsWithoutSideEffects(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	good := filepath.Join(t.TempDir(), "a.py")
	write(t, good, "a\n")

	_, err := m.Create(ctx, []string{good, filepath.Join(t.TempDir(), "missing.py")})
	require.Error(t, err)
	assert.True(t, engine.IsBackupError(err))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = m.Create(ctx, nil)
	assert.True(t, engine.IsBackupError(err))

	entries, err := os.ReadDir(m.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = m.Latest(ctx)
	assert.ErrorIs(t, err, engine.ErrNoBackups)
}

func TestRestoreErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	err := m.Restore(ctx, "does-not-exist")
	require.Error(t, err)
	assert.True(t, engine.IsBackupError(err))
	assert.ErrorIs(t, err, engine.ErrUnknownBackup)

	src := filepath.Join(t.TempDir(), "a.py")
	write(t, src, "a\n")
	manifest, err := m.Create(ctx, []string{src})
	require.NoError(t, err)

	// tampered copy
	write(t, manifest.Entries[0].Location, "evil\n")
	write(t, src, "current\n")
	err = m.Restore(ctx, manifest.ID)
	require.Error(t, err)
	var engErr *engine.Error
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, engine.ErrCodeIntegrity, engErr.Code)
	assert.Equal(t, "current\n", read(t, src), "target untouched on failed verification")

	// missing copy
	require.NoError(t, os.Remove(manifest.Entries[0].Location))
	err = m.Restore(ctx, manifest.ID)
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, engine.ErrCodeNotFound, engErr.Code)
}

func TestLatestAndTimestampCollision(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, WithClock(func() time.Time { return fixed }))
	src := filepath.Join(t.TempDir(), "a.py")
	write(t, src, "a\n")

	first, err := m.Create(ctx, []string{src})
	require.NoError(t, err)
	second, err := m.Create(ctx, []string{src})
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(m.Root(), "20260301T120000.000000000"), first.ArchiveLocation)
	assert.Equal(t, first.ArchiveLocation+"-1", second.ArchiveLocation)

	latest, err := m.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, latest)
}

func TestPruneAndReindex(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		now = now.Add(time.Minute)
		return now
	}
	root := filepath.Join(t.TempDir(), "backups")
	m, err := NewManager(root, WithClock(clock))
	require.NoError(t, err)

	src := filepath.Join(t.TempDir(), "a.py")
	write(t, src, "a\n")
	var ids []string
	for i := 0; i < 4; i++ {
		manifest, err := m.Create(ctx, []string{src})
		require.NoError(t, err)
		ids = append(ids, manifest.ID)
	}

	// a fresh catalog recovers the ids from the manifest files
	fresh, err := NewManager(root)
	require.NoError(t, err)
	added, err := fresh.Reindex(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, added)
	latest, err := fresh.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, ids[3], latest)

	deleted, err := m.Prune(ctx, 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, ids[:3], deleted)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, ids[3], list[0].ID)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, err = m.Prune(ctx, -1)
	assert.Error(t, err)
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")

	f, err := os.Create(archive)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	body := []byte("pwned")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "proj/../../escape.txt", Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
	_, err = tw.Write(body)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.Mkdir(dest, 0755))
	err = extractArchive(archive, dest, "proj")
	assert.ErrorIs(t, err, errUnsafeEntry)
	assert.NoFileExists(t, filepath.Join(dir, "escape.txt"))
}

func TestMemoryRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()

	_, err := repo.Latest(ctx)
	assert.ErrorIs(t, err, engine.ErrNoBackups)

	t0 := time.Now()
	require.NoError(t, repo.Save(ctx, &engine.BackupManifest{ID: "old", CreatedAt: t0}))
	require.NoError(t, repo.Save(ctx, &engine.BackupManifest{ID: "new", CreatedAt: t0.Add(time.Second)}))
	assert.Error(t, repo.Save(ctx, &engine.BackupManifest{ID: "old"}))

	latest, err := repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "new", latest.ID)

	require.NoError(t, repo.Delete(ctx, "new"))
	assert.ErrorIs(t, repo.Delete(ctx, "new"), engine.ErrUnknownBackup)
	_, err = repo.Get(ctx, "new")
	assert.ErrorIs(t, err, engine.ErrUnknownBackup)

	latest, err = repo.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "old", latest.ID)
}
