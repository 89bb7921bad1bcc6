package telemetry_test

import (
	"context"
	"fmt"

	"github.com/flext-sh/flext-quality-sub003/pkg/telemetry"
)

// Example_basicSetup demonstrates basic telemetry setup.
func Example_basicSetup() {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = "1.0.0"

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		panic(err)
	}
	defer tel.Shutdown(context.Background())

	logger := tel.Logger.NewComponentLogger("runner")
	logger.Info("runner started")

	// Output can vary, so we don't specify output for this example
}

// Example_runSpans demonstrates how a run and its stages are traced.
func Example_runSpans() {
	cfg := telemetry.DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"

	tel, _ := telemetry.NewTelemetry(cfg)
	defer tel.Shutdown(context.Background())

	ctx, runSpan := tel.Tracer.StartRunSpan(context.Background(), "run-123", "apply")
	_, stageSpan := tel.Tracer.StartStageSpan(ctx, "baseline_validation")
	telemetry.EndSpan(stageSpan, nil)
	telemetry.EndSpan(runSpan, fmt.Errorf("ratchet violation"))

	// Output varies, no output specified
}
