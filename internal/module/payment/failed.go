package payment

import (
	"context"

	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/module/activity"
	"github.com/clinicpay/server/internal/module/clinic"
	"github.com/clinicpay/server/internal/module/notification"
	"github.com/clinicpay/server/internal/utils/metrics"
)

// FailedHandler handles payment_intent.payment_failed events. A failed
// attempt is a terminal processor-side outcome: nothing to retry, no
// ledger row to write. The handler only notifies the patient and logs
// the failure context, and never propagates an error past its boundary.
type FailedHandler struct {
	clinics  clinic.Repository
	enqueuer *notification.Enqueuer
	activity *activity.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewFailedHandler creates the failure handler.
func NewFailedHandler(
	clinics clinic.Repository,
	enqueuer *notification.Enqueuer,
	rec *activity.Recorder,
	m *metrics.Metrics,
	logger *zap.Logger,
) *FailedHandler {
	return &FailedHandler{
		clinics:  clinics,
		enqueuer: enqueuer,
		activity: rec,
		metrics:  m,
		logger:   logger,
	}
}

// Handle processes one failure event. Always returns a nil error; every
// problem is logged and recorded in the Outcome.
func (h *FailedHandler) Handle(ctx context.Context, ev FailedEvent) (*Outcome, error) {
	out := &Outcome{Processed: true}
	log := h.logger.With(
		zap.String("payment_intent_id", ev.PaymentIntentID),
		zap.String("failure_code", ev.FailureCode),
	)
	log.Info("payment failed",
		zap.Int64("amount", ev.Amount),
		zap.String("failure_message", ev.FailureMessage),
		zap.String("clinic_id", ev.Metadata[metaClinicID]),
		zap.String("request_id", ev.Metadata[metaRequestID]),
	)

	clinicID, err := requiredClinicID(ev.Metadata)
	if err != nil {
		// Without a clinic there is no one to notify on behalf of; log
		// and finish cleanly.
		log.Warn("failed payment event without clinic linkage", zap.Error(err))
		out.degrade("clinic_linkage")
		h.metrics.ObserveDegradedStep("failed", "clinic_linkage")
		return out, nil
	}

	cl, err := h.clinics.GetClinic(ctx, clinicID)
	if err != nil {
		log.Error("failed to load clinic", zap.Error(err))
		out.degrade("clinic_lookup")
		h.metrics.ObserveDegradedStep("failed", "clinic_lookup")
		return out, nil
	}

	if err := h.activity.Record(ctx, activity.Entry{
		ClinicID:   clinicID,
		ActionType: activity.ActionPaymentFailed,
		Details: map[string]any{
			"payment_intent_id": ev.PaymentIntentID,
			"amount":            ev.Amount,
			"currency":          ev.Currency,
			"failure_code":      ev.FailureCode,
			"failure_message":   ev.FailureMessage,
		},
	}); err != nil {
		out.degrade("activity")
		h.metrics.ObserveDegradedStep("failed", "activity")
	}

	patientContact := notification.ContactInfo{
		Name:  ev.Metadata["patientName"],
		Email: ev.Metadata["patientEmail"],
		Phone: ev.Metadata["patientPhone"],
	}
	if err := h.enqueuer.Enqueue(ctx, notification.Message{
		Type:          notification.TypePaymentFailed,
		RecipientType: notification.RecipientPatient,
		Patient:       patientContact,
		Clinic:        notification.ContactInfo{Name: cl.Name, Email: cl.Email, Phone: cl.Phone},
		ClinicPrefs:   notification.ClinicPreferences{NotifyByEmail: cl.NotifyByEmail, NotifyBySMS: cl.NotifyBySMS},
		Payment: notification.PaymentDetails{
			Amount:  ev.Amount,
			Message: ev.FailureMessage,
		},
		ClinicID: clinicID,
	}); err != nil {
		out.degrade("notify_patient")
		h.metrics.ObserveDegradedStep("failed", "notify_patient")
	}

	return out, nil
}
