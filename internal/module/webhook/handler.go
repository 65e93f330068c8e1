// Package webhook receives signed payment processor deliveries, verifies
// them against the raw body and routes them to the reconciliation
// handlers. Once a delivery is authenticated the response is always 2xx;
// application-level failures must not trigger processor redelivery.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/module/payment"
	"github.com/clinicpay/server/internal/module/processor"
	"github.com/clinicpay/server/internal/shared/cache"
	"github.com/clinicpay/server/internal/utils/metrics"
)

// Event types this endpoint acts on. Everything else is acknowledged
// without action so new processor event types never cause redelivery
// storms.
const (
	eventPaymentSucceeded = "payment_intent.succeeded"
	eventPaymentFailed    = "payment_intent.payment_failed"
	eventRefundUpdated    = "refund.updated"
)

const signatureHeader = "Stripe-Signature"

// Handler is the webhook HTTP endpoint.
type Handler struct {
	client    processor.Client
	events    payment.Repository
	cache     *cache.Cache
	succeeded *payment.SucceededHandler
	failed    *payment.FailedHandler
	refund    *payment.RefundHandler
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewHandler creates the webhook handler.
func NewHandler(
	client processor.Client,
	events payment.Repository,
	c *cache.Cache,
	succeeded *payment.SucceededHandler,
	failed *payment.FailedHandler,
	refund *payment.RefundHandler,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		client:    client,
		events:    events,
		cache:     c,
		succeeded: succeeded,
		failed:    failed,
		refund:    refund,
		metrics:   m,
		logger:    logger,
	}
}

// RegisterRoutes registers the webhook endpoint.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/webhooks/stripe", h.HandleWebhook)
}

// HandleWebhook receives one processor delivery. The body must stay raw
// until the signature is verified; parsing first would let an attacker
// feed us unauthenticated JSON.
func (h *Handler) HandleWebhook(c *gin.Context) {
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("failed to read webhook body", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	if err := h.client.VerifyWebhookSignature(payload, c.GetHeader(signatureHeader)); err != nil {
		if errors.Is(err, processor.ErrNotConfigured) {
			h.logger.Error("webhook secret is not configured")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "server configuration error"})
			return
		}
		h.logger.Warn("webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Warn("failed to parse webhook envelope", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed event"})
		return
	}

	log := h.logger.With(
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
	)

	// Fast duplicate drop. The cache is an optimization only; the event
	// store check below stays authoritative when it is down.
	if seen, err := h.cache.MarkEventSeen(c.Request.Context(), event.ID); err != nil {
		log.Warn("event dedup cache unavailable", zap.Error(err))
	} else if seen {
		log.Info("duplicate webhook delivery, acknowledging without action")
		h.metrics.ObserveWebhookEvent(string(event.Type), "duplicate", 0)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	// Authoritative duplicate drop. A redelivery that slipped past the
	// cache must not re-run side effects for events the success-path
	// payments dedup does not cover.
	if seen, err := h.events.WebhookEventSeen(c.Request.Context(), event.ID); err != nil {
		log.Warn("event store dedup check failed", zap.Error(err))
	} else if seen {
		log.Info("duplicate webhook delivery, acknowledging without action")
		h.metrics.ObserveWebhookEvent(string(event.Type), "duplicate", 0)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	h.recordEvent(c.Request.Context(), event, payload, log)

	start := time.Now()
	outcome, procErr := h.route(c.Request.Context(), event, log)
	h.finishEvent(c.Request.Context(), event, outcome, procErr, time.Since(start), log)

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// recordEvent appends the delivery to the webhook event store.
// Best-effort; a store outage must not block reconciliation.
func (h *Handler) recordEvent(ctx context.Context, event stripe.Event, payload []byte, log *zap.Logger) {
	err := h.events.CreateWebhookEvent(ctx, &payment.WebhookEvent{
		ID:      uuid.New(),
		EventID: event.ID,
		Type:    string(event.Type),
		Data:    string(payload),
	})
	if err != nil {
		log.Warn("failed to record webhook event", zap.Error(err))
	}
}

func (h *Handler) route(ctx context.Context, event stripe.Event, log *zap.Logger) (*payment.Outcome, error) {
	switch string(event.Type) {
	case eventPaymentSucceeded:
		ev, err := decodeSucceeded(event)
		if err != nil {
			log.Error("failed to decode payment intent", zap.Error(err))
			return nil, err
		}
		return h.succeeded.Handle(ctx, ev)

	case eventPaymentFailed:
		ev, err := decodeFailed(event)
		if err != nil {
			log.Error("failed to decode payment intent", zap.Error(err))
			return nil, err
		}
		return h.failed.Handle(ctx, ev)

	case eventRefundUpdated:
		ev, err := decodeRefund(event)
		if err != nil {
			log.Error("failed to decode refund", zap.Error(err))
			return nil, err
		}
		return h.refund.Handle(ctx, ev)

	default:
		log.Info("unhandled webhook event type, acknowledging")
		return &payment.Outcome{Skipped: true}, nil
	}
}

func (h *Handler) finishEvent(ctx context.Context, event stripe.Event, outcome *payment.Outcome, procErr error, elapsed time.Duration, log *zap.Logger) {
	result := outcomeLabel(outcome, procErr)
	h.metrics.ObserveWebhookEvent(string(event.Type), result, elapsed)

	if procErr != nil {
		log.Error("webhook event processing failed",
			zap.Error(procErr),
			zap.Duration("elapsed", elapsed),
		)
	} else if outcome != nil && outcome.IsDegraded() {
		log.Warn("webhook event processed with degraded sub-steps",
			zap.Strings("degraded", outcome.Degraded),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		log.Info("webhook event processed",
			zap.String("outcome", result),
			zap.Duration("elapsed", elapsed),
		)
	}

	if err := h.events.MarkWebhookEventProcessed(ctx, event.ID, procErr); err != nil {
		log.Warn("failed to update webhook event store", zap.Error(err))
	}
}

func outcomeLabel(outcome *payment.Outcome, procErr error) string {
	switch {
	case procErr != nil:
		return "error"
	case outcome == nil:
		return "skipped"
	case outcome.Duplicate:
		return "duplicate"
	case outcome.Skipped:
		return "skipped"
	case outcome.IsDegraded():
		return "degraded"
	default:
		return "processed"
	}
}

func decodeSucceeded(event stripe.Event) (payment.SucceededEvent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return payment.SucceededEvent{}, err
	}
	ev := payment.SucceededEvent{
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		Metadata:        pi.Metadata,
	}
	if pi.LatestCharge != nil {
		ev.ChargeID = pi.LatestCharge.ID
	}
	return ev, nil
}

func decodeFailed(event stripe.Event) (payment.FailedEvent, error) {
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return payment.FailedEvent{}, err
	}
	ev := payment.FailedEvent{
		PaymentIntentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        string(pi.Currency),
		Metadata:        pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		ev.FailureCode = string(pi.LastPaymentError.Code)
		ev.FailureMessage = pi.LastPaymentError.Msg
	}
	return ev, nil
}

func decodeRefund(event stripe.Event) (payment.RefundEvent, error) {
	var r stripe.Refund
	if err := json.Unmarshal(event.Data.Raw, &r); err != nil {
		return payment.RefundEvent{}, err
	}
	ev := payment.RefundEvent{
		RefundID: r.ID,
		Amount:   r.Amount,
		Status:   string(r.Status),
		Created:  time.Unix(r.Created, 0),
	}
	if r.Charge != nil {
		ev.ChargeID = r.Charge.ID
	}
	if r.PaymentIntent != nil {
		ev.PaymentIntentID = r.PaymentIntent.ID
	}
	if r.BalanceTransaction != nil {
		ev.BalanceTransactionID = r.BalanceTransaction.ID
	}
	return ev, nil
}
