package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	APILatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clinicpulse",
			Subsystem: "api",
			Name:      "latency_seconds",
			Help:      "Latency of analytics API endpoints",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	APIErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicpulse",
			Subsystem: "api",
			Name:      "errors_total",
			Help:      "Errors by analytics API endpoint and error code",
		},
		[]string{"endpoint", "code"},
	)

	APIRateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clinicpulse",
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Requests rejected by the per-tenant rate limiter",
		},
		[]string{"endpoint"},
	)
)

// Register registers the API collectors once with the default registry.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(APILatency, APIErrors, APIRateLimited)
	})
}
