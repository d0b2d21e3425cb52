// Package metrics exposes Prometheus instrumentation for the pipeline:
// per-stage latency, provider failures and retries, and how many streams
// are running concurrently.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the collectors the orchestrator updates as a pipeline run
// progresses. A single instance is constructed at startup
// and shared across requests.
type Metrics struct {
	StageDuration    *prometheus.HistogramVec
	ProviderErrors   *prometheus.CounterVec
	ProviderRetries  *prometheus.CounterVec
	ActiveStreams    prometheus.Gauge
	PipelinesStarted prometheus.Counter
	PipelinesFailed  *prometheus.CounterVec
}

// New registers every collector against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the global
// default registry across test runs.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kea",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent running one pipeline stage across all participating providers.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"stage"}),

		ProviderErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kea",
			Subsystem: "provider",
			Name:      "errors_total",
			Help:      "Count of provider stream errors, by provider and stage.",
		}, []string{"provider", "stage"}),

		ProviderRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kea",
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Count of provider stream retries, by provider and stage.",
		}, []string{"provider", "stage"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "kea",
			Subsystem: "provider",
			Name:      "active_streams",
			Help:      "Number of provider streams currently in flight.",
		}),

		PipelinesStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "kea",
			Subsystem: "pipeline",
			Name:      "runs_started_total",
			Help:      "Count of pipeline runs started.",
		}),

		PipelinesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kea",
			Subsystem: "pipeline",
			Name:      "runs_failed_total",
			Help:      "Count of pipeline runs that ended in an error, by reason.",
		}, []string{"reason"}),
	}
}
