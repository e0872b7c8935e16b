package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for Runbox.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec
	ActiveExecutions  prometheus.Gauge

	// Artifact metrics.
	ArtifactsCollectedTotal *prometheus.CounterVec
	ArtifactBytesTotal      *prometheus.CounterVec

	// Output capture metrics.
	OutputBytesTotal *prometheus.CounterVec
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Total command executions.",
		}, []string{"backend", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "runbox",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Command execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 120},
		}, []string{"backend"}),

		ActiveExecutions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "runbox",
			Subsystem: "engine",
			Name:      "active_executions",
			Help:      "Number of currently running executions.",
		}),

		ArtifactsCollectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "artifacts",
			Name:      "collected_total",
			Help:      "Total artifacts collected from output directories.",
		}, []string{"backend"}),

		ArtifactBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "artifacts",
			Name:      "bytes_total",
			Help:      "Total artifact bytes copied to durable storage.",
		}, []string{"backend"}),

		OutputBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "runbox",
			Subsystem: "engine",
			Name:      "output_bytes_total",
			Help:      "Total captured output bytes.",
		}, []string{"backend", "stream"}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.ActiveExecutions,
		m.ArtifactsCollectedTotal,
		m.ArtifactBytesTotal,
		m.OutputBytesTotal,
	)

	return m
}
