package engine

import (
	"context"
)

// Operation is a batch of changes the Runner applies under the ratchet
// protocol. Implementations are supplied by the caller.
type Operation interface {
	// Name identifies the operation in logs and reports.
	Name() string

	// Preview reports what Apply would change. It must not modify the filesystem.
	Preview(ctx context.Context, targets []string) (*Report, error)

	// Apply performs the changes. backupID is the snapshot taken just before.
	Apply(ctx context.Context, targets []string, backupID string) (*Report, error)

	// Compensate undoes side effects the Runner's file restore does not cover.
	// It is called after the snapshot has been restored.
	Compensate(ctx context.Context, backupID string) error
}

// SnapshotManager creates and restores backups of target paths.
type SnapshotManager interface {
	// Create backs up the targets and records a manifest.
	Create(ctx context.Context, targets []string) (*BackupManifest, error)

	// Restore puts the content of a backup back in place. Restoring twice is a no-op
	// the second time.
	Restore(ctx context.Context, backupID string) error

	// Latest returns the id of the most recently created backup, or ErrNoBackups.
	Latest(ctx context.Context) (string, error)
}

// DiagnosticValidator counts diagnostics per file.
type DiagnosticValidator interface {
	// ValidateFiles returns a fresh count for every path, in input order.
	ValidateFiles(ctx context.Context, paths []string) (DiagnosticCountMap, error)
}

// RatchetComparator compares two diagnostic snapshots.
type RatchetComparator interface {
	// Compare flags every file whose count increased.
	Compare(before, after DiagnosticCountMap) (RatchetResult, error)
}

// TargetExpander turns user targets into the concrete files that are validated.
type TargetExpander interface {
	// Expand returns the files under the targets, in a stable order.
	Expand(targets []string) ([]string, error)
}

// ManifestRepository is the catalog of backup manifests. The in-memory
// implementation lives for the process; the SQLite one persists across runs.
type ManifestRepository interface {
	// Save stores a new manifest.
	Save(ctx context.Context, manifest *BackupManifest) error

	// Get returns the manifest with the given id, or ErrUnknownBackup.
	Get(ctx context.Context, id string) (*BackupManifest, error)

	// Latest returns the most recently created manifest, or ErrNoBackups.
	Latest(ctx context.Context) (*BackupManifest, error)

	// List returns all manifests, newest first.
	List(ctx context.Context) ([]*BackupManifest, error)

	// Delete removes a manifest from the catalog.
	Delete(ctx context.Context, id string) error
}

// RunRecorder persists run history. Failures to record are logged, never
// propagated into the run outcome.
type RunRecorder interface {
	// RecordRun inserts or updates a run record.
	RecordRun(ctx context.Context, run *RunRecord) error

	// AppendEvent adds a timeline event to a run.
	AppendEvent(ctx context.Context, event *Event) error
}
