package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/flext-sh/flext-quality-sub003/pkg/telemetry"
)

// Runner executes an Operation under one OperationMode. In APPLY mode it
// validates the targets, snapshots them, applies the operation, validates
// again and compares the two diagnostic snapshots; any failure after the
// snapshot restores the targets before the error is returned.
//
// A Runner is single-threaded per invocation and holds no state between runs.
type Runner struct {
	snapshots  SnapshotManager
	validator  DiagnosticValidator
	comparator RatchetComparator
	expander   TargetExpander
	recorder   RunRecorder
	logger     *telemetry.Logger
	metrics    *telemetry.Metrics
	tracer     *telemetry.Tracer
	now        func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithExpander sets how targets are turned into the files that are validated.
// Without one, targets are validated as given.
func WithExpander(e TargetExpander) RunnerOption {
	return func(r *Runner) {
		r.expander = e
	}
}

// WithRecorder persists run records and stage events.
func WithRecorder(rec RunRecorder) RunnerOption {
	return func(r *Runner) {
		r.recorder = rec
	}
}

// WithLogger sets the logger.
func WithLogger(logger *telemetry.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger.NewComponentLogger("runner")
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) RunnerOption {
	return func(r *Runner) {
		r.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *telemetry.Tracer) RunnerOption {
	return func(r *Runner) {
		r.tracer = t
	}
}

// WithRunnerClock overrides the clock used for run timestamps.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner creates a Runner.
func NewRunner(
	snapshots SnapshotManager,
	validator DiagnosticValidator,
	comparator RatchetComparator,
	opts ...RunnerOption,
) (*Runner, error) {
	if snapshots == nil {
		return nil, errors.New("snapshot manager is required")
	}
	if validator == nil {
		return nil, errors.New("diagnostic validator is required")
	}
	if comparator == nil {
		return nil, errors.New("ratchet comparator is required")
	}

	r := &Runner{
		snapshots:  snapshots,
		validator:  validator,
		comparator: comparator,
		logger:     telemetry.NopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// run is the bookkeeping of one invocation.
type run struct {
	record     *RunRecord
	logger     *telemetry.Logger
	rolledBack bool
}

// Run executes op in the requested mode. Targets are first resolved with
// ResolveTargets. The returned error, if any, is an *Error carrying the stage
// that failed.
func (r *Runner) Run(ctx context.Context, op Operation, req RunRequest) (*RunResult, error) {
	if err := req.Mode.Validate(); err != nil {
		return nil, NewValidationError("invalid run request", err).WithCode(ErrCodeInvalidRequest)
	}
	if op == nil && (req.Mode == ModePreview || req.Mode == ModeApply) {
		return nil, NewValidationError(fmt.Sprintf("%s requires an operation", req.Mode), nil).
			WithCode(ErrCodeInvalidRequest)
	}
	if len(req.Targets) == 0 && req.Mode != ModeRestore {
		return nil, NewValidationError(fmt.Sprintf("%s requires at least one target", req.Mode), nil).
			WithCode(ErrCodeInvalidRequest)
	}
	if req.Mode != ModeRestore {
		targets, err := ResolveTargets(req.Targets, r.expander)
		if err != nil {
			code := ErrCodeInvalidRequest
			if errors.Is(err, ErrNoMatches) {
				code = ErrCodeNotFound
			}
			return nil, NewValidationError("cannot resolve targets", err).WithCode(code)
		}
		req.Targets = targets
	}

	rn := &run{
		record: &RunRecord{
			ID:        uuid.New().String(),
			Mode:      req.Mode,
			Status:    RunStatusRunning,
			Targets:   req.Targets,
			BackupID:  req.BackupID,
			StartedAt: r.now().UTC(),
		},
	}
	rn.logger = r.logger.WithRunID(rn.record.ID).WithField("mode", string(req.Mode))
	if op != nil {
		rn.logger = rn.logger.WithField("operation", op.Name())
	}

	ctx, span := r.tracer.StartRunSpan(ctx, rn.record.ID, string(req.Mode))
	span.SetAttributes(telemetry.AttrTargets.Int(len(req.Targets)))
	if traceID := telemetry.TraceID(ctx); traceID != "" {
		rn.logger = rn.logger.WithField("trace_id", traceID)
	}
	timer := telemetry.NewTimer()
	r.metrics.RecordRunStarted(string(req.Mode))
	r.recordRun(ctx, rn)
	rn.logger.Info("run started")

	result := &RunResult{RunID: rn.record.ID, Mode: req.Mode}
	var err *Error
	switch req.Mode {
	case ModePreview:
		err = r.preview(ctx, rn, op, req, result)
	case ModeSnapshot:
		err = r.snapshot(ctx, rn, req, result)
	case ModeApply:
		err = r.apply(ctx, rn, op, req, result)
	case ModeRestore:
		err = r.restore(ctx, rn, req, result)
	}

	completed := r.now().UTC()
	rn.record.CompletedAt = &completed
	switch {
	case err == nil:
		rn.record.Status = RunStatusSucceeded
	case rn.rolledBack:
		rn.record.Status = RunStatusRolledBack
	default:
		rn.record.Status = RunStatusFailed
	}
	if err != nil {
		rn.record.FailedStage = err.Stage
		rn.record.Error = err.Error()
	}
	r.recordRun(ctx, rn)
	r.metrics.RecordRunCompleted(string(req.Mode), string(rn.record.Status), timer.Duration())

	span.SetAttributes(
		telemetry.AttrRunStatus.String(string(rn.record.Status)),
		telemetry.AttrBackupID.String(result.BackupID),
	)
	done := rn.logger.WithFields(map[string]interface{}{
		"status":    rn.record.Status,
		"backup_id": result.BackupID,
	})
	if err != nil {
		span.SetAttributes(telemetry.AttrErrorClass.String(string(err.Class)))
		telemetry.EndSpan(span, err)
		done.WithError(err).WithStage(string(err.Stage)).
			Errorf("run %s", rn.record.Status)
		return result, err
	}
	telemetry.EndSpan(span, nil)
	done.Info("run succeeded")
	return result, nil
}

func (r *Runner) preview(ctx context.Context, rn *run, op Operation, req RunRequest, result *RunResult) *Error {
	return r.stage(ctx, rn, StagePreview, func(ctx context.Context) *Error {
		report, err := op.Preview(ctx, req.Targets)
		if err != nil {
			return NewOperationError("preview failed", err)
		}
		result.Report = nonNilReport(report)
		return nil
	})
}

func (r *Runner) snapshot(ctx context.Context, rn *run, req RunRequest, result *RunResult) *Error {
	return r.stage(ctx, rn, StageSnapshotCreation, func(ctx context.Context) *Error {
		manifest, err := r.snapshots.Create(ctx, req.Targets)
		if err != nil {
			return asError(err, NewBackupError, "snapshot failed")
		}
		result.BackupID = manifest.ID
		rn.record.BackupID = manifest.ID
		return nil
	})
}

func (r *Runner) restore(ctx context.Context, rn *run, req RunRequest, result *RunResult) *Error {
	return r.stage(ctx, rn, StageRestore, func(ctx context.Context) *Error {
		id := req.BackupID
		if id == "" {
			latest, err := r.snapshots.Latest(ctx)
			if errors.Is(err, ErrNoBackups) {
				return NewBackupError("nothing to restore", err).WithCode(ErrCodeNotFound)
			}
			if err != nil {
				return NewBackupError("cannot find latest backup", err)
			}
			id = latest
		}
		rn.record.BackupID = id
		if err := r.snapshots.Restore(ctx, id); err != nil {
			return asError(err, NewBackupError, "restore failed")
		}
		result.BackupID = id
		return nil
	})
}

func (r *Runner) apply(ctx context.Context, rn *run, op Operation, req RunRequest, result *RunResult) *Error {
	var (
		files    []string
		before   DiagnosticCountMap
		after    DiagnosticCountMap
		manifest *BackupManifest
		report   *Report
	)

	if err := r.stage(ctx, rn, StageBaselineValidation, func(ctx context.Context) *Error {
		var err error
		if files, err = r.expand(req.Targets); err != nil {
			return NewValidationError("cannot resolve targets", err)
		}
		if before, err = r.validator.ValidateFiles(ctx, files); err != nil {
			return validationFailure("baseline validation failed", err)
		}
		rn.record.ErrorsBefore = before.Total()
		return nil
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, rn, StageSnapshotCreation, func(ctx context.Context) *Error {
		var err error
		if manifest, err = r.snapshots.Create(ctx, req.Targets); err != nil {
			return asError(err, NewBackupError, "snapshot failed")
		}
		rn.record.BackupID = manifest.ID
		result.BackupID = manifest.ID
		return nil
	}); err != nil {
		return err
	}

	if err := r.stage(ctx, rn, StageOperationApply, func(ctx context.Context) *Error {
		var err error
		if report, err = op.Apply(ctx, req.Targets, manifest.ID); err != nil {
			return NewOperationError(fmt.Sprintf("operation %s failed", op.Name()), err)
		}
		report = nonNilReport(report)
		return nil
	}); err != nil {
		return r.compensate(ctx, rn, op, manifest.ID, err)
	}

	if err := r.stage(ctx, rn, StagePostValidation, func(ctx context.Context) *Error {
		var err error
		if after, err = r.validator.ValidateFiles(ctx, files); err != nil {
			return validationFailure("post-change validation failed", err)
		}
		rn.record.ErrorsAfter = after.Total()
		return nil
	}); err != nil {
		return r.compensate(ctx, rn, op, manifest.ID, err)
	}

	r.metrics.SetDiagnostics(before.Total(), after.Total())

	if err := r.stage(ctx, rn, StageRatchetComparison, func(ctx context.Context) *Error {
		cmp, err := r.comparator.Compare(before, after)
		if err != nil {
			return NewValidationError("cannot compare diagnostics", err)
		}
		if !cmp.Passed {
			return NewRatchetViolation(cmp.Violations).
				WithDetail("errors_before", before.Total()).
				WithDetail("errors_after", after.Total())
		}
		return nil
	}); err != nil {
		return r.compensate(ctx, rn, op, manifest.ID, err)
	}

	result.Report = report
	result.Execution = &ExecutionReport{
		Status:        RunStatusSucceeded,
		FilesModified: report.FilesModified,
		BackupID:      manifest.ID,
		ErrorsBefore:  before.Total(),
		ErrorsAfter:   after.Total(),
		ErrorsReduced: before.Total() - after.Total(),
	}
	return nil
}

// compensate restores the snapshot and lets the operation undo its own side
// effects. Failures are attached to cause, which stays the returned error.
func (r *Runner) compensate(ctx context.Context, rn *run, op Operation, backupID string, cause *Error) *Error {
	// Cancellation of the run must not stop the rollback.
	ctx = context.WithoutCancel(ctx)
	logger := rn.logger.WithBackupID(backupID).WithStage(string(cause.Stage))

	ctx, span := r.tracer.StartStageSpan(ctx, string(StageRestore))
	var failed error

	if err := r.snapshots.Restore(ctx, backupID); err != nil {
		failed = fmt.Errorf("restore backup %s: %w", backupID, err)
		cause.WithRestoreError(failed)
		logger.WithError(err).Error("restore after failure did not complete")
	} else {
		logger.Warn("targets restored from backup")
	}
	if err := op.Compensate(ctx, backupID); err != nil {
		compErr := fmt.Errorf("compensate %s: %w", op.Name(), err)
		failed = errors.Join(failed, compErr)
		cause.WithRestoreError(compErr)
		logger.WithError(err).Error("operation compensation failed")
	}

	rn.rolledBack = failed == nil
	telemetry.EndSpan(span, failed)
	r.metrics.RecordCompensation(string(cause.Stage), failed)

	level, msg := "warning", "rolled back"
	details := map[string]interface{}{"backup_id": backupID, "cause_stage": string(cause.Stage)}
	if failed != nil {
		level, msg = "error", "rollback failed"
		details["error"] = failed.Error()
	}
	r.event(ctx, rn, StageRestore, level, msg, details)
	return cause
}

// stage runs fn as one protocol step: it is traced, timed and recorded, and
// its error is tagged with the stage.
func (r *Runner) stage(ctx context.Context, rn *run, stage Stage, fn func(context.Context) *Error) *Error {
	ctx, span := r.tracer.StartStageSpan(ctx, string(stage))
	timer := telemetry.NewTimer()

	err := fn(ctx)
	r.metrics.RecordStage(string(stage), timer.Duration())

	if err != nil {
		err.WithStage(stage)
		telemetry.EndSpan(span, err)
		r.metrics.RecordStageFailure(string(stage), string(err.Class))
		r.event(ctx, rn, stage, "error", err.Message, map[string]interface{}{
			"class": string(err.Class),
			"code":  err.Code,
		})
		return err
	}

	telemetry.EndSpan(span, nil)
	rn.logger.WithStage(string(stage)).Debugf("stage completed in %s", timer.Duration())
	r.event(ctx, rn, stage, "info", "completed", nil)
	return nil
}

func (r *Runner) expand(targets []string) ([]string, error) {
	if r.expander == nil {
		return targets, nil
	}
	return r.expander.Expand(targets)
}

func (r *Runner) recordRun(ctx context.Context, rn *run) {
	if r.recorder == nil {
		return
	}
	if err := r.recorder.RecordRun(context.WithoutCancel(ctx), rn.record); err != nil {
		rn.logger.WithError(err).Warn("failed to record run")
	}
}

func (r *Runner) event(ctx context.Context, rn *run, stage Stage, level, msg string, details map[string]interface{}) {
	if r.recorder == nil {
		return
	}
	ev := &Event{
		ID:        uuid.New().String(),
		RunID:     rn.record.ID,
		Stage:     stage,
		Level:     level,
		Message:   msg,
		Details:   details,
		Timestamp: r.now().UTC(),
	}
	if err := r.recorder.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		rn.logger.WithError(err).Warn("failed to record event")
	}
}

// asError keeps an *Error returned by a collaborator and wraps anything else.
func asError(err error, wrap func(string, error) *Error, msg string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return wrap(msg, err)
}

func validationFailure(msg string, err error) *Error {
	e := NewValidationError(msg, err)
	if errors.Is(err, context.DeadlineExceeded) {
		e.WithCode(ErrCodeTimeout)
	}
	return e
}

func nonNilReport(r *Report) *Report {
	if r == nil {
		return &Report{}
	}
	return r
}
