package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Confirmation channels.
const (
	ChannelCallback = "callback"
	ChannelWebhook  = "webhook"
)

// Confirmation outcomes.
const (
	OutcomeConfirmed    = "confirmed"
	OutcomeAlreadyPaid  = "already_paid"
	OutcomeRejected     = "rejected"
	OutcomeHeld         = "held"
	OutcomeVerifyFailed = "verify_failed"
	OutcomeIgnored      = "ignored"
	OutcomeError        = "error"
)

// ConfirmationMetrics counts confirmation attempts per channel and
// outcome, so the two paths can be compared on a dashboard.
type ConfirmationMetrics struct {
	attempts *prometheus.CounterVec
}

// NewConfirmationMetrics registers the counters on the provided
// registerer. A nil registerer yields a no-op instance for tests.
func NewConfirmationMetrics(reg prometheus.Registerer) *ConfirmationMetrics {
	if reg == nil {
		return &ConfirmationMetrics{}
	}
	attempts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmation_attempts",
		Help: "Payment confirmation attempts by channel and outcome.",
	}, []string{"channel", "outcome"})
	reg.MustRegister(attempts)
	return &ConfirmationMetrics{attempts: attempts}
}

// Inc records one confirmation attempt.
func (m *ConfirmationMetrics) Inc(channel, outcome string) {
	if m == nil || m.attempts == nil {
		return
	}
	if channel == "" {
		channel = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.attempts.WithLabelValues(channel, outcome).Inc()
}
