// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microloan_backend_requests_total",
			Help: "Total number of backend REST calls by route and status class",
		},
		[]string{"method", "route", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "microloan_backend_request_duration_seconds",
			Help:    "Duration of backend REST calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	SessionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microloan_session_transitions_total",
			Help: "Session state changes by event",
		},
		[]string{"event"},
	)

	WorkflowOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microloan_workflow_operations_total",
			Help: "Application workflow operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	PaymentSagaPhases = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microloan_payment_saga_phases_total",
			Help: "Payment saga phase transitions",
		},
		[]string{"phase"},
	)

	GuardDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "microloan_guard_decisions_total",
			Help: "Route guard outcomes by requirement",
		},
		[]string{"requirement", "outcome"},
	)

	SessionSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "microloan_session_subscribers",
			Help: "Number of active session subscribers",
		},
	)
)

// StatusClass collapses an HTTP status into 2xx/4xx/5xx, or "error" for transport failures.
func StatusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
