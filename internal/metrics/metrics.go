// Package metrics exposes Prometheus instrumentation for pipeline
// executions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_pipeline_executions_total",
			Help: "Total number of pipeline executions",
		},
		[]string{"pipeline", "status"},
	)

	executionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduit_pipeline_duration_seconds",
			Help:    "Pipeline execution time in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"pipeline"},
	)

	executionsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "conduit_pipeline_executions_in_flight",
			Help: "Number of pipeline executions currently running",
		},
	)

	hookExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_hook_executions_total",
			Help: "Total number of hook invocations",
		},
		[]string{"hook", "phase", "status"},
	)

	phaseDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conduit_phase_duration_seconds",
			Help:    "Phase execution time in seconds",
			Buckets: []float64{.0001, .001, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"phase"},
	)

	manifestStoreWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conduit_manifest_store_writes_total",
			Help: "Total number of manifest store writes",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordExecution records a completed pipeline execution.
func RecordExecution(pipeline, status string, duration time.Duration) {
	pipelineExecutions.WithLabelValues(pipeline, status).Inc()
	executionDuration.WithLabelValues(pipeline).Observe(duration.Seconds())
}

// IncrementInFlight marks an execution as started.
func IncrementInFlight() {
	executionsInFlight.Inc()
}

// DecrementInFlight marks an execution as finished.
func DecrementInFlight() {
	executionsInFlight.Dec()
}

// RecordHook records one hook invocation outcome.
func RecordHook(hookName, phase, status string) {
	hookExecutions.WithLabelValues(hookName, phase, status).Inc()
}

// RecordPhase records one phase's duration.
func RecordPhase(phase string, duration time.Duration) {
	phaseDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// RecordStoreWrite records a manifest store write outcome.
func RecordStoreWrite(status string) {
	manifestStoreWrites.WithLabelValues(status).Inc()
}
