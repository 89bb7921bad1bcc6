// Package telemetry provides logging, tracing and metrics for the quality runner.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry) and metrics (Prometheus) behind one Config.
//
// # Usage
//
// Initialize telemetry at process startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Metrics.Textfile = "/var/lib/node_exporter/quality.prom"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
// # Structured Logging
//
//	logger := tel.Logger.NewComponentLogger("runner")
//	logger = logger.WithRunID(runID).WithStage("post_validation")
//	logger.WithError(err).Error("validation after apply failed")
//
// # Tracing
//
// A run gets one span named after its mode, and each apply stage a child span:
//
//	ctx, span := tel.Tracer.StartRunSpan(ctx, runID, "apply")
//	defer telemetry.EndSpan(span, err)
//
// Tracing is off by default. With the "stdout" exporter spans are printed; with
// "otlp" they are sent to a collector over gRPC.
//
// # Metrics
//
// The runner is a short-lived process, so metrics are not served over HTTP.
// Instead the private registry is written to a textfile on Shutdown, ready for
// the node_exporter textfile collector.
//
// Metric names are prefixed with the configured namespace (default "flext_quality"):
//
//   - runs_started_total, runs_completed_total, run_duration_seconds
//   - stage_duration_seconds, stage_failures_total
//   - tool_invocations_total, tool_duration_seconds, tool_fail_open_total
//   - diagnostics, compensations_total, backup_size_bytes
package telemetry
