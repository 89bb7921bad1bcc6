package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/telemetry"
)

const (
	// TimestampLayout names backup directories; it sorts chronologically.
	TimestampLayout = "20060102T150405.000000000"

	// ManifestFile is written inside every backup directory.
	ManifestFile = "manifest.json"

	archiveExt = ".tar.gz"
)

// DefaultRoot returns the default backup root under the system temp directory.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "flext-quality", "backups")
}

// Manager creates and restores backups under a root directory and records
// their manifests in a ManifestRepository.
type Manager struct {
	root    string
	repo    engine.ManifestRepository
	logger  *telemetry.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithRepository sets the manifest catalog. The default is an in-memory catalog.
func WithRepository(repo engine.ManifestRepository) Option {
	return func(m *Manager) {
		m.repo = repo
	}
}

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger.NewComponentLogger("snapshot")
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager storing backups under root.
func NewManager(root string, opts ...Option) (*Manager, error) {
	if root == "" {
		root = DefaultRoot()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve backup root: %w", err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("create backup root: %w", err)
	}

	m := &Manager{
		root:   abs,
		repo:   NewMemoryRepository(),
		logger: telemetry.NopLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Root returns the backup root directory.
func (m *Manager) Root() string {
	return m.root
}

// Create backs up the targets into a new timestamp-named directory. A file is
// copied byte for byte under its own name; a directory is stored as one
// <name>.tar.gz archive. Every target is checked before anything is written.
func (m *Manager) Create(ctx context.Context, targets []string) (*engine.BackupManifest, error) {
	if len(targets) == 0 {
		return nil, engine.NewBackupError("no targets to back up", nil).WithCode(engine.ErrCodeInvalidRequest)
	}

	// path is what the caller named, resolved the symlink-free location that is
	// stored and later restored.
	type source struct {
		path     string
		resolved string
		info     os.FileInfo
	}
	sources := make([]source, 0, len(targets))
	seen := make(map[string]bool)
	for _, target := range targets {
		abs, err := filepath.Abs(target)
		if err != nil {
			return nil, engine.NewBackupError("cannot resolve target", err).WithDetail("target", target)
		}

		resolved, err := filepath.EvalSymlinks(abs)
		if err != nil {
			code := engine.ErrCodeBackup
			if errors.Is(err, os.ErrNotExist) {
				code = engine.ErrCodeNotFound
			}
			return nil, engine.NewBackupError("target does not exist", err).
				WithCode(code).WithDetail("target", target)
		}
		if seen[resolved] {
			continue
		}
		seen[resolved] = true

		info, err := os.Stat(resolved)
		if err != nil {
			return nil, engine.NewBackupError("cannot stat target", err).WithDetail("target", target)
		}
		if !info.Mode().IsRegular() && !info.IsDir() {
			return nil, engine.NewBackupError("target is neither a regular file nor a directory", nil).
				WithDetail("target", target)
		}
		if resolved != abs {
			m.logger.Zerolog().Debug().Str("target", abs).Str("resolved", resolved).Msg("backing up symlink target")
		}
		sources = append(sources, source{abs, resolved, info})
	}

	createdAt := m.now().UTC()
	dir, err := m.makeBackupDir(createdAt)
	if err != nil {
		return nil, engine.NewBackupError("cannot create backup directory", err)
	}

	manifest := &engine.BackupManifest{
		ID:              uuid.NewString(),
		ArchiveLocation: dir,
		CreatedAt:       createdAt,
	}

	fail := func(msg string, err error) (*engine.BackupManifest, error) {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			m.logger.WithError(rmErr).Warnf("failed to clean up partial backup %s", dir)
		}
		return nil, engine.NewBackupError(msg, err)
	}

	names := make(map[string]bool)
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			return fail("backup cancelled", err)
		}

		entry := engine.BackupEntry{Source: src.resolved, Mode: uint32(src.info.Mode().Perm())}
		name := filepath.Base(src.resolved)
		if src.info.IsDir() {
			entry.Kind = engine.BackupKindDirectory
			name += archiveExt
		} else {
			entry.Kind = engine.BackupKindFile
		}
		if names[name] || name == ManifestFile {
			name = fmt.Sprintf("%02d-%s", i, name)
		}
		names[name] = true
		entry.Location = filepath.Join(dir, name)

		if entry.Kind == engine.BackupKindDirectory {
			err = writeArchive(src.resolved, entry.Location)
		} else {
			err = copyFile(src.resolved, entry.Location, 0600)
		}
		if err != nil {
			return fail(fmt.Sprintf("cannot back up %s", src.path), err)
		}

		entry.Digest, entry.Size, err = digestFile(entry.Location)
		if err != nil {
			return fail(fmt.Sprintf("cannot digest backup of %s", src.path), err)
		}

		manifest.SourcePaths = append(manifest.SourcePaths, src.path)
		manifest.Entries = append(manifest.Entries, entry)
	}

	if err := writeManifest(filepath.Join(dir, ManifestFile), manifest); err != nil {
		return fail("cannot write manifest", err)
	}
	if err := m.repo.Save(ctx, manifest); err != nil {
		return fail("cannot record manifest", err)
	}

	m.metrics.RecordBackupSize(manifest.TotalSize())
	m.logger.Zerolog().Info().
		Str("backup_id", manifest.ID).
		Str("location", dir).
		Int("sources", len(manifest.SourcePaths)).
		Int64("bytes", manifest.TotalSize()).
		Msg("backup created")

	return manifest, nil
}

// Restore puts every source of a backup back in place. Stored copies are
// verified against their digests before anything is touched. Restoring the
// same backup twice leaves the same content.
func (m *Manager) Restore(ctx context.Context, backupID string) error {
	if backupID == "" {
		return engine.NewBackupError("backup id is required", nil).WithCode(engine.ErrCodeInvalidRequest)
	}

	manifest, err := m.repo.Get(ctx, backupID)
	if err != nil {
		code := engine.ErrCodeBackup
		if errors.Is(err, engine.ErrUnknownBackup) {
			code = engine.ErrCodeNotFound
		}
		return engine.NewBackupError("cannot find backup", err).WithCode(code).WithDetail("backup_id", backupID)
	}

	for _, entry := range manifest.Entries {
		digest, _, err := digestFile(entry.Location)
		if err != nil {
			return engine.NewBackupError("backup archive is missing", err).
				WithCode(engine.ErrCodeNotFound).
				WithDetail("backup_id", backupID).
				WithDetail("location", entry.Location)
		}
		if digest != entry.Digest {
			return engine.NewBackupError("backup archive is corrupted", nil).
				WithCode(engine.ErrCodeIntegrity).
				WithDetail("backup_id", backupID).
				WithDetail("location", entry.Location)
		}
	}

	for _, entry := range manifest.Entries {
		if err := ctx.Err(); err != nil {
			return engine.NewBackupError("restore cancelled", err).WithDetail("backup_id", backupID)
		}
		switch entry.Kind {
		case engine.BackupKindFile:
			err = replaceFile(entry.Location, entry.Source, os.FileMode(entry.Mode))
		case engine.BackupKindDirectory:
			err = replaceDir(entry.Location, entry.Source)
		default:
			err = fmt.Errorf("unknown backup kind %q", entry.Kind)
		}
		if err != nil {
			return engine.NewBackupError(fmt.Sprintf("cannot restore %s", entry.Source), err).
				WithDetail("backup_id", backupID)
		}
	}

	m.logger.Zerolog().Info().
		Str("backup_id", backupID).
		Int("sources", len(manifest.Entries)).
		Msg("backup restored")
	return nil
}

// Latest returns the id of the most recently created backup, or
// engine.ErrNoBackups when there is none.
func (m *Manager) Latest(ctx context.Context) (string, error) {
	manifest, err := m.repo.Latest(ctx)
	if err != nil {
		return "", err
	}
	return manifest.ID, nil
}

// Get returns the manifest of a backup.
func (m *Manager) Get(ctx context.Context, backupID string) (*engine.BackupManifest, error) {
	return m.repo.Get(ctx, backupID)
}

// List returns all known backups, newest first.
func (m *Manager) List(ctx context.Context) ([]*engine.BackupManifest, error) {
	return m.repo.List(ctx)
}

// Prune deletes all but the newest keep backups, from disk and from the
// catalog, and returns the deleted ids.
func (m *Manager) Prune(ctx context.Context, keep int) ([]string, error) {
	if keep < 0 {
		return nil, fmt.Errorf("keep must not be negative, got %d", keep)
	}
	list, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(list) <= keep {
		return nil, nil
	}

	var deleted []string
	for _, manifest := range list[keep:] {
		if err := m.removeBackupDir(manifest.ArchiveLocation); err != nil {
			return deleted, fmt.Errorf("remove backup %s: %w", manifest.ID, err)
		}
		if err := m.repo.Delete(ctx, manifest.ID); err != nil {
			return deleted, err
		}
		deleted = append(deleted, manifest.ID)
	}
	m.logger.Infof("pruned %d backup(s), kept %d", len(deleted), keep)
	return deleted, nil
}

// Reindex reads the manifest.json of every backup directory under the root
// and records the ones missing from the catalog. It returns how many were added.
func (m *Manager) Reindex(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("read backup root: %w", err)
	}

	added := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifest, err := ReadManifest(filepath.Join(m.root, e.Name(), ManifestFile))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			m.logger.WithError(err).Warnf("skipping unreadable backup %s", e.Name())
			continue
		}
		if _, err := m.repo.Get(ctx, manifest.ID); err == nil {
			continue
		}
		if err := m.repo.Save(ctx, manifest); err != nil {
			return added, err
		}
		added++
	}
	return added, nil
}

// makeBackupDir creates <root>/<timestamp>, adding a numeric suffix when a
// backup with the same timestamp already exists.
func (m *Manager) makeBackupDir(t time.Time) (string, error) {
	base := filepath.Join(m.root, t.Format(TimestampLayout))
	dir := base
	for i := 1; ; i++ {
		err := os.Mkdir(dir, 0700)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		dir = base + "-" + strconv.Itoa(i)
	}
}

// removeBackupDir only removes directories directly under the root.
func (m *Manager) removeBackupDir(dir string) error {
	if filepath.Dir(filepath.Clean(dir)) != m.root {
		return fmt.Errorf("%s is not a backup directory under %s", dir, m.root)
	}
	return os.RemoveAll(dir)
}

func writeManifest(path string, manifest *engine.BackupManifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ReadManifest loads a manifest.json written by Create.
func ReadManifest(path string) (*engine.BackupManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var manifest engine.BackupManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if manifest.ID == "" {
		return nil, fmt.Errorf("parse %s: manifest has no id", path)
	}
	return &manifest, nil
}
