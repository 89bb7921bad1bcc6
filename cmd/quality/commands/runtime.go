package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/flext-sh/flext-quality-sub003/pkg/baseline"
	"github.com/flext-sh/flext-quality-sub003/pkg/config"
	"github.com/flext-sh/flext-quality-sub003/pkg/engine"
	"github.com/flext-sh/flext-quality-sub003/pkg/snapshot"
	"github.com/flext-sh/flext-quality-sub003/pkg/stores"
	"github.com/flext-sh/flext-quality-sub003/pkg/telemetry"
	"github.com/flext-sh/flext-quality-sub003/pkg/validator"
)

// runtime holds the components one command invocation needs.
type runtime struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	store     *stores.SQLiteStore
	snapshots *snapshot.Manager
	validator *validator.Validator
	runner    *engine.Runner
	ledger    *baseline.Store
}

func newRuntime(ctx context.Context) (rt *runtime, err error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tc := cfg.TelemetryConfig(buildVersion)
	if verbose {
		tc.Logging.Level = "debug"
	}
	if metricsFile != "" {
		tc.Metrics.Enabled = true
		tc.Metrics.Textfile = metricsFile
	}
	tel, err := telemetry.NewTelemetry(tc)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	rt = &runtime{cfg: cfg, tel: tel, ledger: baseline.New(cfg.Baseline.Path)}
	defer func() {
		if err != nil {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	rt.store, err = stores.Open(ctx, stores.Config{Path: cfg.Catalog.Path})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	rt.snapshots, err = snapshot.NewManager(cfg.Backup.Root,
		snapshot.WithRepository(rt.store),
		snapshot.WithLogger(tel.Logger),
		snapshot.WithMetrics(tel.Metrics),
	)
	if err != nil {
		return nil, err
	}

	tools, err := cfg.Tools()
	if err != nil {
		return nil, err
	}
	opts := append(cfg.ValidatorOptions(),
		validator.WithLogger(tel.Logger),
		validator.WithMetrics(tel.Metrics),
	)
	rt.validator = validator.New(tools, opts...)

	rt.runner, err = engine.NewRunner(rt.snapshots, rt.validator, validator.Comparator{},
		engine.WithExpander(rt.validator),
		engine.WithRecorder(rt.store),
		engine.WithLogger(tel.Logger),
		engine.WithMetrics(tel.Metrics),
		engine.WithTracer(tel.Tracer),
	)
	if err != nil {
		return nil, err
	}

	log.Debug().
		Str("backup_root", rt.snapshots.Root()).
		Str("catalog", cfg.Catalog.Path).
		Strs("tools", cfg.Validator.Tools).
		Msg("runtime ready")
	return rt, nil
}

// Close releases the catalog and flushes telemetry.
func (rt *runtime) Close(ctx context.Context) error {
	var errs []error
	if rt.store != nil {
		errs = append(errs, rt.store.Close())
	}
	if rt.tel != nil {
		errs = append(errs, rt.tel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// withRuntime builds the runtime, calls fn and closes the runtime.
func withRuntime(ctx context.Context, fn func(*runtime) error) (err error) {
	rt, err := newRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := rt.Close(context.WithoutCancel(ctx)); cerr != nil {
			log.Warn().Err(cerr).Msg("failed to close runtime")
		}
	}()
	return fn(rt)
}

// audit records a change made outside a run. Failures are logged only.
func (rt *runtime) audit(ctx context.Context, action, target string, details map[string]interface{}) {
	entry := &stores.AuditEntry{
		Action:   action,
		Actor:    actor(),
		TargetID: &target,
	}
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err == nil {
			s := string(data)
			entry.Details = &s
		}
	}
	if err := rt.store.CreateAuditEntry(ctx, entry); err != nil {
		log.Warn().Err(err).Str("action", action).Msg("failed to write audit entry")
	}
}

func actor() string {
	for _, key := range []string{"QUALITY_ACTOR", "USER", "USERNAME"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return "cli"
}
