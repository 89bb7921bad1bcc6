package engine

import (
	"sort"
	"time"
)

// BackupEntry describes how one source path was stored inside a backup.
type BackupEntry struct {
	// Source is the absolute, symlink-free path that was backed up.
	Source string `json:"source"`

	// Kind tells whether Location is a plain copy or a tar.gz archive.
	Kind BackupKind `json:"kind"`

	// Location is the path of the stored copy or archive.
	Location string `json:"location"`

	// Digest is the blake3 hex digest of the stored copy or archive.
	Digest string `json:"digest"`

	// Size is the size in bytes of the stored copy or archive.
	Size int64 `json:"size"`

	// Mode is the permission bits of the source at backup time.
	Mode uint32 `json:"mode"`
}

// BackupManifest describes one snapshot. It is immutable once created and is
// referenced by ID.
type BackupManifest struct {
	// ID is the opaque, unique backup identifier.
	ID string `json:"id"`

	// SourcePaths are the backed-up paths in the order they were given.
	SourcePaths []string `json:"source_paths"`

	// ArchiveLocation is the timestamp-named directory holding the stored entries.
	ArchiveLocation string `json:"archive_location"`

	// Entries holds one entry per source path, in the same order.
	Entries []BackupEntry `json:"entries"`

	// CreatedAt is when the backup was taken.
	CreatedAt time.Time `json:"created_at"`
}

// Entry returns the entry for a source path.
func (m *BackupManifest) Entry(source string) (BackupEntry, bool) {
	for _, e := range m.Entries {
		if e.Source == source {
			return e, true
		}
	}
	return BackupEntry{}, false
}

// TotalSize is the summed size of all stored entries.
func (m *BackupManifest) TotalSize() int64 {
	var n int64
	for _, e := range m.Entries {
		n += e.Size
	}
	return n
}

// DiagnosticCountMap maps a file path to the number of diagnostics reported for it.
// Maps are produced fresh on every validation and never cached.
type DiagnosticCountMap map[string]int

// Total sums the counts of all files.
func (m DiagnosticCountMap) Total() int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}

// Paths returns the file paths in sorted order.
func (m DiagnosticCountMap) Paths() []string {
	paths := make([]string, 0, len(m))
	for p := range m {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// RatchetViolation is a file whose diagnostic count increased.
type RatchetViolation struct {
	File   string `json:"file"`
	Before int    `json:"before"`
	After  int    `json:"after"`
}

// Increase is the number of diagnostics the file gained.
func (v RatchetViolation) Increase() int {
	return v.After - v.Before
}

// RatchetResult is the outcome of comparing two diagnostic snapshots.
type RatchetResult struct {
	// Passed is true when no file regressed.
	Passed bool `json:"passed"`

	// Violations lists regressed files sorted by path.
	Violations []RatchetViolation `json:"violations,omitempty"`
}

// Change is one modification an operation made or would make.
type Change struct {
	// Path is the affected file.
	Path string `json:"path"`

	// Description says what changed.
	Description string `json:"description,omitempty"`
}

// Report is what an operation returns from Preview and Apply.
type Report struct {
	// Summary is a one-line description of the result.
	Summary string `json:"summary"`

	// FilesModified lists files changed (or, for previews, files that would change).
	FilesModified []string `json:"files_modified,omitempty"`

	// Changes itemizes individual modifications.
	Changes []Change `json:"changes,omitempty"`

	// Metadata carries operation-specific data.
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ExecutionReport is produced on the APPLY success path only.
type ExecutionReport struct {
	Status        RunStatus `json:"status"`
	FilesModified []string  `json:"files_modified"`
	BackupID      string    `json:"backup_id"`
	ErrorsBefore  int       `json:"errors_before"`
	ErrorsAfter   int       `json:"errors_after"`
	ErrorsReduced int       `json:"errors_reduced"`
}

// RunRequest is the input of a Runner invocation.
type RunRequest struct {
	// Mode selects the protocol.
	Mode OperationMode `json:"mode"`

	// Targets are the files or directories the run acts on.
	Targets []string `json:"targets"`

	// BackupID selects the backup to restore. Empty means the latest.
	BackupID string `json:"backup_id,omitempty"`
}

// RunResult is the mode-independent result of a Runner invocation.
type RunResult struct {
	// RunID identifies this invocation in logs and the run history.
	RunID string `json:"run_id"`

	// Mode is the mode that ran.
	Mode OperationMode `json:"mode"`

	// Report is set for preview and apply.
	Report *Report `json:"report,omitempty"`

	// BackupID is set for snapshot, apply and restore.
	BackupID string `json:"backup_id,omitempty"`

	// Execution is set for a successful apply.
	Execution *ExecutionReport `json:"execution,omitempty"`
}

// RunRecord is the persisted history entry of a Runner invocation.
type RunRecord struct {
	ID           string        `json:"id"`
	Mode         OperationMode `json:"mode"`
	Status       RunStatus     `json:"status"`
	Targets      []string      `json:"targets"`
	BackupID     string        `json:"backup_id,omitempty"`
	ErrorsBefore int           `json:"errors_before"`
	ErrorsAfter  int           `json:"errors_after"`
	FailedStage  Stage         `json:"failed_stage,omitempty"`
	Error        string        `json:"error,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	CompletedAt  *time.Time    `json:"completed_at,omitempty"`
}

// Event is a timeline entry recorded while a run progresses.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// RunID is the ID of the run this event belongs to.
	RunID string `json:"run_id"`

	// Stage is the run step the event belongs to.
	Stage Stage `json:"stage"`

	// Level is the log level (info, warning, error).
	Level string `json:"level"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Details contains additional event-specific data.
	Details map[string]interface{} `json:"details,omitempty"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`
}
