package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for runner invocations.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Stage metrics
	stageDuration *prometheus.HistogramVec
	stageFailures *prometheus.CounterVec

	// Tool metrics
	toolInvocations *prometheus.CounterVec
	toolDuration    *prometheus.HistogramVec
	failOpen        *prometheus.CounterVec

	// Ratchet metrics
	diagnostics   *prometheus.GaugeVec
	compensations *prometheus.CounterVec

	// Snapshot metrics
	backupBytes prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of runner invocations started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runner invocations completed",
			},
			[]string{"mode", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of runner invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"mode", "status"},
		),

		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of apply protocol stages in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		stageFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_failures_total",
				Help:      "Total number of failed stages by error class",
			},
			[]string{"stage", "class"},
		),

		toolInvocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_invocations_total",
				Help:      "Total number of diagnostic tool invocations by outcome",
			},
			[]string{"tool", "outcome"},
		),
		toolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_duration_seconds",
				Help:      "Duration of diagnostic tool invocations in seconds",
				Buckets:   buckets,
			},
			[]string{"tool"},
		),
		failOpen: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_fail_open_total",
				Help:      "Total number of missing-tool results downgraded to a zero count",
			},
			[]string{"tool"},
		),

		diagnostics: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "diagnostics",
				Help:      "Diagnostic totals measured by the last apply",
			},
			[]string{"phase"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compensations_total",
				Help:      "Total number of compensating restores by result",
			},
			[]string{"stage", "result"},
		),

		backupBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "backup_size_bytes",
				Help:      "Size of created backups in bytes",
				Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.stageDuration,
		m.stageFailures,
		m.toolInvocations,
		m.toolDuration,
		m.failOpen,
		m.diagnostics,
		m.compensations,
		m.backupBytes,
	)

	return m, nil
}

// Registry returns the private registry, nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(mode string) {
	if m == nil || m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(mode, status string, duration time.Duration) {
	if m == nil || m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode, status).Observe(duration.Seconds())
}

// Stage Metrics

// RecordStage records the duration of a stage.
func (m *Metrics) RecordStage(stage string, duration time.Duration) {
	if m == nil || m.stageDuration == nil {
		return
	}
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordStageFailure records a failed stage by error class.
func (m *Metrics) RecordStageFailure(stage, class string) {
	if m == nil || m.stageFailures == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, class).Inc()
}

// Tool Metrics

// RecordToolInvocation records one diagnostic tool run and its outcome.
func (m *Metrics) RecordToolInvocation(tool, outcome string, duration time.Duration) {
	if m == nil || m.toolInvocations == nil {
		return
	}
	m.toolInvocations.WithLabelValues(tool, outcome).Inc()
	m.toolDuration.WithLabelValues(tool).Observe(duration.Seconds())
}

// RecordFailOpen records a missing tool whose count was taken as zero.
func (m *Metrics) RecordFailOpen(tool string) {
	if m == nil || m.failOpen == nil {
		return
	}
	m.failOpen.WithLabelValues(tool).Inc()
}

// Ratchet Metrics

// SetDiagnostics records the diagnostic totals of an apply.
func (m *Metrics) SetDiagnostics(before, after int) {
	if m == nil || m.diagnostics == nil {
		return
	}
	m.diagnostics.WithLabelValues("before").Set(float64(before))
	m.diagnostics.WithLabelValues("after").Set(float64(after))
}

// RecordCompensation records a compensating restore triggered by stage.
func (m *Metrics) RecordCompensation(stage string, err error) {
	if m == nil || m.compensations == nil {
		return
	}
	result := "restored"
	if err != nil {
		result = "failed"
	}
	m.compensations.WithLabelValues(stage, result).Inc()
}

// Snapshot Metrics

// RecordBackupSize records the stored size of a new backup.
func (m *Metrics) RecordBackupSize(bytes int64) {
	if m == nil || m.backupBytes == nil {
		return
	}
	m.backupBytes.Observe(float64(bytes))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// WriteTextfile dumps the registry to path in the textfile collector format.
// It is a no-op when metrics are disabled or no path is configured.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || m.registry == nil {
		return nil
	}
	if path == "" {
		path = m.config.Textfile
	}
	if path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
