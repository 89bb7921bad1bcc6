package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// OperationMode selects what a Runner invocation does.
type OperationMode string

const (
	// ModePreview reports what the operation would change without touching the filesystem.
	ModePreview OperationMode = "preview"

	// ModeSnapshot only creates a backup of the targets.
	ModeSnapshot OperationMode = "snapshot"

	// ModeApply runs the full validate, snapshot, apply, validate, ratchet protocol.
	ModeApply OperationMode = "apply"

	// ModeRestore restores a backup, the latest one when no id is given.
	ModeRestore OperationMode = "restore"
)

// AllModes lists the modes in the order they are documented.
var AllModes = []OperationMode{ModePreview, ModeSnapshot, ModeApply, ModeRestore}

// IsMutating returns true if the mode may change files under the targets.
func (m OperationMode) IsMutating() bool {
	return m == ModeApply || m == ModeRestore
}

// Validate checks if the operation mode is valid.
func (m OperationMode) Validate() error {
	switch m {
	case ModePreview, ModeSnapshot, ModeApply, ModeRestore:
		return nil
	default:
		return fmt.Errorf("invalid operation mode: %q", string(m))
	}
}

// String returns the mode name.
func (m OperationMode) String() string {
	return string(m)
}

// ParseOperationMode parses a mode name, ignoring case and surrounding spaces.
func ParseOperationMode(s string) (OperationMode, error) {
	m := OperationMode(strings.ToLower(strings.TrimSpace(s)))
	if err := m.Validate(); err != nil {
		return "", err
	}
	return m, nil
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (m OperationMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(m))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (m *OperationMode) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*m = OperationMode(str)
	return m.Validate()
}

// RunStatus is the final outcome of a Runner invocation.
type RunStatus string

const (
	// RunStatusRunning indicates the run has started and not yet finished.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates the run completed and its changes were kept.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusFailed indicates the run failed before anything was changed,
	// or failed and could not be compensated.
	RunStatusFailed RunStatus = "failed"

	// RunStatusRolledBack indicates the run failed and the targets were restored.
	RunStatusRolledBack RunStatus = "rolled_back"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed || s == RunStatusRolledBack
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusFailed, RunStatusRolledBack:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// BackupKind tells how a source was stored in a backup.
type BackupKind string

const (
	// BackupKindFile is a byte-for-byte copy of a single file.
	BackupKindFile BackupKind = "file"

	// BackupKindDirectory is a gzip-compressed tar archive of a directory tree.
	BackupKindDirectory BackupKind = "directory"
)

// Validate checks if the backup kind is valid.
func (k BackupKind) Validate() error {
	switch k {
	case BackupKindFile, BackupKindDirectory:
		return nil
	default:
		return fmt.Errorf("invalid backup kind: %s", k)
	}
}
