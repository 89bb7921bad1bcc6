package telemetry

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	assert.Error(t, cfg.Validate(), "otlp without endpoint")

	cfg = DefaultConfig()
	cfg.Tracing.SamplingRate = 1.5
	assert.Error(t, cfg.Validate())
}

func TestLoggerJSONFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "info", Format: "json"})

	logger.NewComponentLogger("runner").WithRunID("run-1").WithStage("restore").Info("restored")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "runner", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "restore", entry["stage"])
	assert.Equal(t, "restored", entry["message"])
}

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "info", Format: "json"})

	logger.WithFields(map[string]interface{}{"status": "rolled_back", "backup_id": "b-1"}).Info("run finished")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "rolled_back", entry["status"])
	assert.Equal(t, "b-1", entry["backup_id"])
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordRunStarted("apply")
	m.RecordRunCompleted("apply", "succeeded", time.Second)
	m.RecordCompensation("post_validation", errors.New("boom"))
	assert.NoError(t, m.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)
	disabled.RecordToolInvocation("ruff", "ok", time.Millisecond)
	assert.Nil(t, disabled.Registry())
}

func TestMetricsWriteTextfile(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordRunStarted("apply")
	m.RecordRunCompleted("apply", "rolled_back", 2*time.Second)
	m.RecordStageFailure("ratchet_comparison", "ratchet")
	m.RecordFailOpen("mypy")
	m.SetDiagnostics(7, 3)

	path := filepath.Join(t.TempDir(), "metrics", "quality.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, `flext_quality_runs_completed_total{mode="apply",status="rolled_back"} 1`)
	assert.Contains(t, out, `flext_quality_stage_failures_total{class="ratchet",stage="ratchet_comparison"} 1`)
	assert.Contains(t, out, `flext_quality_tool_fail_open_total{tool="mypy"} 1`)
	assert.Contains(t, out, `flext_quality_diagnostics{phase="before"} 7`)
}

func TestNopTelemetry(t *testing.T) {
	tel := Nop()
	_, span := tel.Tracer.StartStageSpan(t.Context(), "snapshot_creation")
	EndSpan(span, nil)
	assert.NoError(t, tel.Shutdown(t.Context()))
}

func TestTraceID(t *testing.T) {
	ctx, span := Nop().Tracer.StartRunSpan(t.Context(), "run-1", "apply")
	assert.Empty(t, TraceID(ctx), "noop spans carry no trace")
	EndSpan(span, nil)

	cfg := DefaultConfig()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "none"
	tracer, err := NewTracer(cfg.Tracing, "flext-quality", "test", "")
	require.NoError(t, err)
	defer tracer.Shutdown(t.Context())

	ctx, span = tracer.StartRunSpan(t.Context(), "run-2", "apply")
	defer EndSpan(span, nil)
	assert.Len(t, TraceID(ctx), 32)
	assert.Equal(t, span.SpanContext().TraceID().String(), TraceID(ctx))
}
