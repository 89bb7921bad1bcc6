// Package engine provides the core types, interfaces and the Runner of the
// quality ratchet.
//
// # Overview
//
// The Runner applies a batch of source changes (an Operation) to a set of
// target files and directories without ever letting the number of
// diagnostics reported for a file go up. It works in one of four modes:
//
//  1. Preview - Ask the operation what it would change. Nothing is touched.
//  2. Snapshot - Back up the targets and return the backup id.
//  3. Apply - Validate, snapshot, apply, validate again and compare.
//  4. Restore - Put a backup (the latest one by default) back in place.
//
// # Apply Protocol
//
// In apply mode the steps run strictly in order:
//
//	before   := validator.ValidateFiles(files)       // baseline_validation
//	manifest := snapshots.Create(targets)            // snapshot_creation
//	op.Apply(targets, manifest.ID)                   // operation_apply
//	after    := validator.ValidateFiles(files)       // post_validation
//	comparator.Compare(before, after)                // ratchet_comparison
//
// Nothing is modified before the snapshot exists. A failure in any step after
// the snapshot restores it and then calls Operation.Compensate. If that
// rollback fails too, the failure is attached to the returned error as
// RestoreErr; the original failure stays the cause.
//
// # Error Classification
//
// Every error returned by Runner.Run is an *Error with a class and the stage
// it happened in:
//
//   - validation: a validator could not produce counts
//   - backup: a snapshot could not be created, found or restored
//   - operation: the operation itself failed
//   - ratchet: at least one file gained diagnostics
//
// Use the helpers to inspect them:
//
//	if engine.IsRatchetViolation(err) {
//	    var e *engine.Error
//	    errors.As(err, &e)
//	    for _, v := range e.Violations { ... }
//	}
//
// # Collaborators
//
// The Runner depends only on the interfaces in this package:
//
//   - SnapshotManager: implemented by pkg/snapshot
//   - DiagnosticValidator, RatchetComparator, TargetExpander: pkg/validator
//   - ManifestRepository, RunRecorder: pkg/stores (and an in-memory catalog in pkg/snapshot)
//   - Operation: pkg/operations, or any caller-supplied batch
//
// # Thread Safety
//
// A Runner can be shared, but a single run is sequential. Two runs over
// overlapping targets must not execute at the same time.
package engine
