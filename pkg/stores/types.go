package stores

import (
	"context"
	"time"

	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
)

// Audit actions written by the CLI.
const (
	AuditBaselineUpdated = "baseline.updated"
	AuditBackupRestored  = "backup.restored"
	AuditBackupsPruned   = "backups.pruned"
)

// AuditEntry represents an audit trail entry for changes made outside a run,
// such as a baseline update.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g., "baseline.updated", "backups.pruned"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // baseline name, backup id
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// EventFilter narrows GetEvents.
type EventFilter struct {
	RunID string
	Level string
	Limit int
}

// Store defines the interface for the persistence layer
type Store interface {
	engine.ManifestRepository
	engine.RunRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run history
	GetRun(ctx context.Context, id string) (*engine.RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*engine.RunRecord, error)
	GetEvents(ctx context.Context, filter EventFilter) ([]*engine.Event, error)

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
