package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the deployment pipeline.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Stage metrics
	stagesExecuted *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	// Merge and guard metrics
	recordsMerged     *prometheus.GaugeVec
	recordsPreserved  *prometheus.CounterVec
	snapshotSkipped   *prometheus.CounterVec
	guardVerdicts     *prometheus.CounterVec
	destructiveDiffs  prometheus.Gauge
	verifyWarnings    *prometheus.CounterVec

	// Engine metrics
	engineCalls    *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op metrics instance
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
				Help:      "Total number of pipeline runs started",
			},
			[]string{"command"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of pipeline runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Pipeline run duration in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		stagesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stages_executed_total",
				Help:      "Total number of pipeline stages executed",
			},
			[]string{"stage", "result"},
		),
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Pipeline stage duration in seconds",
				Buckets:   buckets,
			},
			[]string{"stage"},
		),
		recordsMerged: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "records_merged",
				Help:      "Number of records in the merged desired state",
			},
			[]string{"category", "origin"},
		),
		recordsPreserved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_preserved_total",
				Help:      "Records reconstructed from the applied-state snapshot",
			},
			[]string{"category"},
		),
		snapshotSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "snapshot_entries_skipped_total",
				Help:      "Snapshot entries skipped during merge due to coercion failures",
			},
			[]string{"category"},
		),
		guardVerdicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "guard_verdicts_total",
				Help:      "Safety guard verdicts by outcome",
			},
			[]string{"outcome"},
		),
		destructiveDiffs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "destructive_diff_size",
				Help:      "Number of resources the last evaluated plan would destroy",
			},
		),
		verifyWarnings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "verify_warnings_total",
				Help:      "Post-apply verification warnings",
			},
			[]string{"category"},
		),
		engineCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "engine_calls_total",
				Help:      "Apply engine invocations by operation and result",
			},
			[]string{"operation", "result"},
		),
		engineDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "engine_call_duration_seconds",
				Help:      "Apply engine invocation duration in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
	}

	collectors := []prometheus.Collector{
		m.runsStarted, m.runsCompleted, m.runDuration,
		m.stagesExecuted, m.stageDuration,
		m.recordsMerged, m.recordsPreserved, m.snapshotSkipped,
		m.guardVerdicts, m.destructiveDiffs, m.verifyWarnings,
		m.engineCalls, m.engineDuration,
	}
	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			return nil, fmt.Errorf("failed to register metrics collector: %w", err)
		}
	}

	return m, nil
}

// RecordRunStarted increments the started-runs counter.
func (m *Metrics) RecordRunStarted(command string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(command).Inc()
}

// RecordRunCompleted records a finished run with its terminal status.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordStage records one executed pipeline stage.
func (m *Metrics) RecordStage(stage, result string, duration time.Duration) {
	if m.stagesExecuted == nil {
		return
	}
	m.stagesExecuted.WithLabelValues(stage, result).Inc()
	m.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordMerged sets the merged-record gauge for a category.
// Origin is "collected" or "preserved".
func (m *Metrics) RecordMerged(category, origin string, count int) {
	if m.recordsMerged == nil {
		return
	}
	m.recordsMerged.WithLabelValues(category, origin).Set(float64(count))
	if origin == "preserved" && count > 0 {
		m.recordsPreserved.WithLabelValues(category).Add(float64(count))
	}
}

// RecordSnapshotSkip counts a snapshot entry dropped during merge.
func (m *Metrics) RecordSnapshotSkip(category string) {
	if m.snapshotSkipped == nil {
		return
	}
	m.snapshotSkipped.WithLabelValues(category).Inc()
}

// RecordGuardVerdict records the safety guard's outcome ("allowed" or
// "blocked") and the destructive diff size it evaluated.
func (m *Metrics) RecordGuardVerdict(outcome string, diffSize int) {
	if m.guardVerdicts == nil {
		return
	}
	m.guardVerdicts.WithLabelValues(outcome).Inc()
	m.destructiveDiffs.Set(float64(diffSize))
}

// RecordVerifyWarning counts a post-apply verification mismatch.
func (m *Metrics) RecordVerifyWarning(category string) {
	if m.verifyWarnings == nil {
		return
	}
	m.verifyWarnings.WithLabelValues(category).Inc()
}

// RecordEngineCall records one apply-engine invocation.
func (m *Metrics) RecordEngineCall(operation, result string, duration time.Duration) {
	if m.engineCalls == nil {
		return
	}
	m.engineCalls.WithLabelValues(operation, result).Inc()
	m.engineDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// StartMetricsServer starts the metrics HTTP server if metrics are enabled.
// The server runs until the process exits; a one-shot CLI run that disables
// metrics never binds the port.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	go func() {
		// Error intentionally ignored: the exporter is best-effort
		_ = http.ListenAndServe(m.config.ListenAddress, mux)
	}()

	return nil
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
