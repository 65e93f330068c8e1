package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics.
type Metrics struct {
	// Webhook metrics
	WebhookEventsTotal     *prometheus.CounterVec
	WebhookHandlerDuration *prometheus.HistogramVec
	DegradedStepsTotal     *prometheus.CounterVec

	// Processor (Stripe) lookup metrics
	ProcessorLookupsTotal   *prometheus.CounterVec
	ProcessorLookupDuration *prometheus.HistogramVec

	// Notification metrics
	NotificationsEnqueuedTotal *prometheus.CounterVec
}

// New creates a new Metrics instance with all metrics registered.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "clinicpay"
	}

	return &Metrics{
		WebhookEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Total number of webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		WebhookHandlerDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "handler_duration_seconds",
				Help:      "Webhook event processing duration in seconds",
				Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"type"},
		),
		DegradedStepsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "webhook",
				Name:      "degraded_steps_total",
				Help:      "Best-effort sub-steps that failed without aborting the event",
			},
			[]string{"handler", "step"},
		),
		ProcessorLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "lookups_total",
				Help:      "Total number of processor API lookups",
			},
			[]string{"operation", "status"},
		),
		ProcessorLookupDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "processor",
				Name:      "lookup_duration_seconds",
				Help:      "Processor API lookup duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"operation"},
		),
		NotificationsEnqueuedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notification",
				Name:      "enqueued_total",
				Help:      "Total number of notification queue inserts",
			},
			[]string{"recipient", "status"},
		),
	}
}

// ObserveWebhookEvent records a processed webhook event.
func (m *Metrics) ObserveWebhookEvent(eventType, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
	m.WebhookHandlerDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

// ObserveDegradedStep records a best-effort sub-step failure.
func (m *Metrics) ObserveDegradedStep(handler, step string) {
	if m == nil {
		return
	}
	m.DegradedStepsTotal.WithLabelValues(handler, step).Inc()
}

// ObserveProcessorLookup records an outbound processor API call.
func (m *Metrics) ObserveProcessorLookup(operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.ProcessorLookupsTotal.WithLabelValues(operation, status).Inc()
	m.ProcessorLookupDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// ObserveNotificationEnqueued records a notification queue insert attempt.
func (m *Metrics) ObserveNotificationEnqueued(recipient string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.NotificationsEnqueuedTotal.WithLabelValues(recipient, status).Inc()
}
