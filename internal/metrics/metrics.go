// Package metrics exposes Prometheus collectors for the prediction loop.
//
// All recording methods are safe to call on a nil *Collectors, so components
// can run without metrics wired in (tests, CLI commands).
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pantry"

// Attempt outcomes for provider calls.
const (
	OutcomeSuccess       = "success"
	OutcomeProviderError = "provider_error"
	OutcomeParseError    = "parse_error"
)

// Collectors groups every metric the service records.
type Collectors struct {
	providerAttempts   *prometheus.CounterVec
	contextLimitHits   *prometheus.CounterVec
	predictionDuration prometheus.Histogram
	webhookEvents      *prometheus.CounterVec
	duplicateEvents    prometheus.Counter
	sessionsClosed     *prometheus.CounterVec
	remindersSent      prometheus.Counter
	receiptsProcessed  *prometheus.CounterVec
	learningUpdates    prometheus.Counter
}

// New creates the collectors and registers them on registerer, falling back to
// the default registerer when nil.
func New(registerer prometheus.Registerer) *Collectors {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	c := &Collectors{
		providerAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "LLM provider call attempts by outcome.",
		}, []string{"provider", "outcome"}),
		contextLimitHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_context_limit_hits_total",
			Help:      "Provider failures that looked like an oversized prompt.",
		}, []string{"provider"}),
		predictionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "prediction_duration_seconds",
			Help:      "Time spent walking the provider chain for one prediction.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_events_total",
			Help:      "Inbound messaging events by type.",
		}, []string{"type"}),
		duplicateEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_duplicate_events_total",
			Help:      "Inbound events dropped by the idempotency cache.",
		}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_closed_total",
			Help:      "Feedback sessions moved to a terminal state.",
		}, []string{"status"}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_reminders_sent_total",
			Help:      "Reminder messages delivered for open feedback sessions.",
		}),
		receiptsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "receipts_processed_total",
			Help:      "Receipt intake runs by final extraction status.",
		}, []string{"status"}),
		learningUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "learning_updates_total",
			Help:      "Learning updates created from accumulated feedback.",
		}),
	}

	registerer.MustRegister(
		c.providerAttempts,
		c.contextLimitHits,
		c.predictionDuration,
		c.webhookEvents,
		c.duplicateEvents,
		c.sessionsClosed,
		c.remindersSent,
		c.receiptsProcessed,
		c.learningUpdates,
	)
	return c
}

// ProviderAttempt counts one provider call.
func (c *Collectors) ProviderAttempt(provider, outcome string) {
	if c == nil {
		return
	}
	c.providerAttempts.WithLabelValues(provider, outcome).Inc()
}

// ContextLimitHit counts one detected context-limit failure.
func (c *Collectors) ContextLimitHit(provider string) {
	if c == nil {
		return
	}
	c.contextLimitHits.WithLabelValues(provider).Inc()
}

// PredictionDuration observes one full provider chain run.
func (c *Collectors) PredictionDuration(d time.Duration) {
	if c == nil {
		return
	}
	c.predictionDuration.Observe(d.Seconds())
}

// WebhookEvent counts an inbound event of the given message type.
func (c *Collectors) WebhookEvent(kind string) {
	if c == nil {
		return
	}
	c.webhookEvents.WithLabelValues(kind).Inc()
}

// DuplicateEvent counts a re-delivered event that was dropped.
func (c *Collectors) DuplicateEvent() {
	if c == nil {
		return
	}
	c.duplicateEvents.Inc()
}

// SessionClosed counts a session transition into status.
func (c *Collectors) SessionClosed(status string) {
	if c == nil {
		return
	}
	c.sessionsClosed.WithLabelValues(status).Inc()
}

// ReminderSent counts one delivered reminder.
func (c *Collectors) ReminderSent() {
	if c == nil {
		return
	}
	c.remindersSent.Inc()
}

// ReceiptProcessed counts a finished receipt intake.
func (c *Collectors) ReceiptProcessed(status string) {
	if c == nil {
		return
	}
	c.receiptsProcessed.WithLabelValues(status).Inc()
}

// LearningUpdateCreated counts a new learning update.
func (c *Collectors) LearningUpdateCreated() {
	if c == nil {
		return
	}
	c.learningUpdates.Inc()
}
