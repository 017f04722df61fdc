package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics instruments the cart → order → payment pipeline.
type CheckoutMetrics struct {
	outcomes        *prometheus.CounterVec
	classifications *prometheus.CounterVec
	backendDuration *prometheus.HistogramVec
	sessions        prometheus.Gauge
}

// NewCheckoutMetrics registers the pipeline metrics on the provided registerer.
// A nil registerer yields a no-op collector.
func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_checkout_outcomes_total",
		Help: "Checkout flows reaching a terminal state, by state and failure code.",
	}, []string{"state", "code"})
	classifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "storefront_payment_classifications_total",
		Help: "Gateway return lookups by classified payment status.",
	}, []string{"status"})
	backendDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "storefront_backend_request_duration_seconds",
		Help:    "Latency of order backend calls.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "outcome"})
	sessions := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "storefront_active_sessions",
		Help: "Browser sessions currently held in memory.",
	})
	reg.MustRegister(outcomes, classifications, backendDuration, sessions)
	return &CheckoutMetrics{
		outcomes:        outcomes,
		classifications: classifications,
		backendDuration: backendDuration,
		sessions:        sessions,
	}
}

// IncOutcome counts a terminal checkout state. code is empty on success.
func (m *CheckoutMetrics) IncOutcome(state, code string) {
	if m == nil || m.outcomes == nil {
		return
	}
	if code == "" {
		code = "none"
	}
	m.outcomes.WithLabelValues(normalizeLabel(state), code).Inc()
}

// IncClassification counts a classified payment status.
func (m *CheckoutMetrics) IncClassification(status string) {
	if m == nil || m.classifications == nil {
		return
	}
	m.classifications.WithLabelValues(normalizeLabel(status)).Inc()
}

// ObserveBackend records the latency of a backend operation.
func (m *CheckoutMetrics) ObserveBackend(operation string, err error, duration time.Duration) {
	if m == nil || m.backendDuration == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.backendDuration.WithLabelValues(normalizeLabel(operation), outcome).Observe(duration.Seconds())
}

// SetSessions publishes the live session count.
func (m *CheckoutMetrics) SetSessions(n int) {
	if m == nil || m.sessions == nil {
		return
	}
	m.sessions.Set(float64(n))
}
