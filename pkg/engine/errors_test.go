package engine

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestErrorClassification(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		name  string
		err   *Error
		check func(error) bool
	}{
		{"validation", NewValidationError("v", cause), IsValidationError},
		{"backup", NewBackupError("b", cause), IsBackupError},
		{"operation", NewOperationError("o", cause), IsOperationError},
		{"ratchet", NewRatchetViolation(nil), IsRatchetViolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(tt.err) {
				t.Errorf("%s not classified", tt.name)
			}
			wrapped := errors.Join(errors.New("outer"), tt.err)
			if !tt.check(wrapped) {
				t.Errorf("%s not classified through a wrapper", tt.name)
			}
		})
	}

	if IsBackupError(cause) || StageOf(cause) != "" {
		t.Error("plain errors must not be classified")
	}
}

func TestRestoreErrorKeepsCause(t *testing.T) {
	cause := errors.New("fixer crashed")
	err := NewOperationError("apply failed", cause).
		WithStage(StageOperationApply).
		WithRestoreError(errors.New("disk full")).
		WithRestoreError(nil).
		WithRestoreError(errors.New("cache busy"))

	if !errors.Is(err, cause) {
		t.Error("cause lost")
	}
	if StageOf(err) != StageOperationApply {
		t.Errorf("expected stage %s, got %s", StageOperationApply, StageOf(err))
	}
	msg := err.Error()
	for _, want := range []string{"operation_apply", "fixer crashed", "restore also failed", "disk full", "cache busy"} {
		if !strings.Contains(msg, want) {
			t.Errorf("message %q misses %q", msg, want)
		}
	}
}

func TestErrorIsMatchesClassAndCode(t *testing.T) {
	err := NewBackupError("missing", nil).WithCode(ErrCodeNotFound)
	if !errors.Is(err, &Error{Class: ErrorClassBackup, Code: ErrCodeNotFound}) {
		t.Error("expected match on class and code")
	}
	if errors.Is(err, &Error{Class: ErrorClassBackup, Code: ErrCodeIntegrity}) {
		t.Error("different code must not match")
	}
}

func TestErrorJSON(t *testing.T) {
	err := NewRatchetViolation([]RatchetViolation{{File: "a.py", Before: 1, After: 2}}).
		WithStage(StageRatchetComparison).
		WithRestoreError(errors.New("disk full"))

	data, jerr := json.Marshal(err)
	if jerr != nil {
		t.Fatal(jerr)
	}
	var out map[string]interface{}
	if jerr := json.Unmarshal(data, &out); jerr != nil {
		t.Fatal(jerr)
	}
	if out["class"] != "ratchet" || out["stage"] != "ratchet_comparison" {
		t.Errorf("unexpected json: %s", data)
	}
	if out["restore_error"] != "disk full" {
		t.Errorf("restore error missing: %s", data)
	}
	if v, ok := out["violations"].([]interface{}); !ok || len(v) != 1 {
		t.Errorf("violations missing: %s", data)
	}
}

func TestOperationModes(t *testing.T) {
	for _, m := range AllModes {
		if err := m.Validate(); err != nil {
			t.Errorf("mode %s invalid: %v", m, err)
		}
	}
	if _, err := ParseOperationMode("delete"); err == nil {
		t.Error("expected error for unknown mode")
	}

	var m OperationMode
	if err := json.Unmarshal([]byte(`"snapshot"`), &m); err != nil || m != ModeSnapshot {
		t.Errorf("unmarshal: %v %s", err, m)
	}
	if err := json.Unmarshal([]byte(`"bogus"`), &m); err == nil {
		t.Error("expected unmarshal error for unknown mode")
	}
}

func TestDiagnosticCountMap(t *testing.T) {
	m := DiagnosticCountMap{"b.py": 2, "a.py": 3}
	if m.Total() != 5 {
		t.Errorf("expected total 5, got %d", m.Total())
	}
	if p := m.Paths(); p[0] != "a.py" || p[1] != "b.py" {
		t.Errorf("paths not sorted: %v", p)
	}
}
