// Package metrics provides Prometheus metrics for the prescription lifecycle.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	PrescriptionsCreated   prometheus.Counter
	PrescriptionsDispensed prometheus.Counter
	PrescriptionsExpired   prometheus.Counter
	PrescriptionsFailed    prometheus.Counter
	VerificationsSucceeded prometheus.Counter
	VerificationsFailed    prometheus.Counter
	OperationDuration      *prometheus.HistogramVec
	OutboxPending          prometheus.Gauge
	NotificationsSent      prometheus.Counter
	NotificationsFailed    prometheus.Counter
	CircuitBreakerState    *prometheus.GaugeVec
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		PrescriptionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_created_total",
			Help: "Total prescriptions created",
		}),
		PrescriptionsDispensed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_dispensed_total",
			Help: "Total prescriptions dispensed",
		}),
		PrescriptionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_expired_total",
			Help: "Total prescriptions expired by the sweep",
		}),
		PrescriptionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_failed_total",
			Help: "Total prescriptions that failed post-creation processing",
		}),
		VerificationsSucceeded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verifications_succeeded_total",
			Help: "Total successful verification attempts",
		}),
		VerificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verifications_failed_total",
			Help: "Total rejected verification attempts",
		}),
		OperationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lifecycle_operation_duration_seconds",
			Help:    "Lifecycle operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"operation"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "notification_outbox_pending",
			Help: "Notifications queued awaiting relay",
		}),
		NotificationsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total SMS notifications delivered",
		}),
		NotificationsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total SMS notifications that failed delivery",
		}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
	}

	prometheus.MustRegister(
		m.PrescriptionsCreated,
		m.PrescriptionsDispensed,
		m.PrescriptionsExpired,
		m.PrescriptionsFailed,
		m.VerificationsSucceeded,
		m.VerificationsFailed,
		m.OperationDuration,
		m.OutboxPending,
		m.NotificationsSent,
		m.NotificationsFailed,
		m.CircuitBreakerState,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
