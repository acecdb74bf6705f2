package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	recomputes  *prometheus.CounterVec
	artifacts   *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

// New creates a recorder on the default Prometheus registry.
func New() *Recorder {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a recorder on reg. Tests pass a fresh registry.
func NewWithRegistry(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		recomputes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicpulse_recomputes_total",
				Help: "Recompute runs by entry point and result",
			},
			[]string{"entry", "result"},
		),
		artifacts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicpulse_artifacts_written_total",
				Help: "Artifacts written by kind",
			},
			[]string{"kind"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clinicpulse_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clinicpulse_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"operation"},
		),
	}
	reg.MustRegister(r.recomputes, r.artifacts, r.errorsTotal, r.latency)
	return r
}

// RecordRecompute counts one finished entry point run.
func (r *Recorder) RecordRecompute(entry, result string) {
	r.recomputes.WithLabelValues(entry, result).Inc()
}

// RecordArtifacts adds n written artifacts of kind.
func (r *Recorder) RecordArtifacts(kind string, n int) {
	if n <= 0 {
		return
	}
	r.artifacts.WithLabelValues(kind).Add(float64(n))
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
