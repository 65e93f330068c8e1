package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/module/activity"
	"github.com/clinicpay/server/internal/module/clinic"
	"github.com/clinicpay/server/internal/module/notification"
	"github.com/clinicpay/server/internal/module/patient"
	"github.com/clinicpay/server/internal/module/plan"
	"github.com/clinicpay/server/internal/utils/metrics"
	"github.com/clinicpay/server/internal/utils/money"
	"github.com/clinicpay/server/internal/utils/payref"
)

// Metadata keys set by the checkout flow when it creates the payment
// intent.
const (
	metaClinicID      = "clinicId"
	metaPaymentLinkID = "paymentLinkId"
	metaRequestID     = "requestId"
)

// SucceededHandler reconciles payment_intent.succeeded events into the
// ledger. The payment row is the durable anchor: everything after it is
// best-effort against an already-recorded fact and is tracked in the
// Outcome instead of aborting.
type SucceededHandler struct {
	payments Repository
	plans    plan.Repository
	agg      *plan.Aggregator
	clinics  clinic.Repository
	patients patient.Repository
	fees     *FeeResolver
	enqueuer *notification.Enqueuer
	activity *activity.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewSucceededHandler creates the success handler.
func NewSucceededHandler(
	payments Repository,
	plans plan.Repository,
	agg *plan.Aggregator,
	clinics clinic.Repository,
	patients patient.Repository,
	fees *FeeResolver,
	enqueuer *notification.Enqueuer,
	rec *activity.Recorder,
	m *metrics.Metrics,
	logger *zap.Logger,
) *SucceededHandler {
	return &SucceededHandler{
		payments: payments,
		plans:    plans,
		agg:      agg,
		clinics:  clinics,
		patients: patients,
		fees:     fees,
		enqueuer: enqueuer,
		activity: rec,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one success event. Returns an error only when nothing
// was written: dedup hits, missing required linkage and the initial
// insert failing. Once the payment row is durable every later sub-step
// failure is recorded in the Outcome and processing continues.
func (h *SucceededHandler) Handle(ctx context.Context, ev SucceededEvent) (*Outcome, error) {
	out := &Outcome{}
	log := h.logger.With(zap.String("payment_intent_id", ev.PaymentIntentID))

	// At-least-once delivery: a second delivery for the same transaction
	// id must be a clean no-op.
	exists, err := h.payments.PaymentExistsByTransactionID(ctx, ev.PaymentIntentID)
	if err != nil {
		return out, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		log.Info("duplicate payment event, skipping")
		out.Duplicate = true
		return out, nil
	}

	clinicID, err := requiredClinicID(ev.Metadata)
	if err != nil {
		// No partial write happens here by construction; nothing has
		// been persisted yet.
		return out, err
	}

	linkID, requestID, req, err := h.resolveLinkage(ctx, ev.Metadata)
	if err != nil {
		return out, err
	}

	// Fees are observability. A processor outage here still records the
	// payment, just with zero fee fields.
	var fees FeeBreakdown
	if ev.ChargeID != "" {
		fees, err = h.fees.ResolveChargeFees(ctx, ev.ChargeID)
		if err != nil {
			log.Warn("fee lookup failed, recording payment with zero fees", zap.Error(err))
			fees = FeeBreakdown{}
			out.degrade("fee_lookup")
			h.metrics.ObserveDegradedStep("succeeded", "fee_lookup")
		}
	}

	var patientID *uuid.UUID
	if req != nil {
		patientID = req.PatientID
	}

	p := &Payment{
		ID:                  uuid.New(),
		StripeTransactionID: ev.PaymentIntentID,
		ClinicID:            clinicID,
		PatientID:           patientID,
		PaymentLinkID:       linkID,
		Reference:           payref.New(),
		AmountPaid:          ev.Amount,
		StripeFee:           fees.StripeFee,
		NetAmount:           fees.NetAmount,
		PlatformFee:         fees.PlatformFee,
		Currency:            ev.Currency,
		Status:              PaymentStatusPaid,
		PaidAt:              h.now(),
	}
	if err := h.payments.CreatePayment(ctx, p); err != nil {
		return out, fmt.Errorf("persist payment: %w", err)
	}
	out.Processed = true
	out.PaymentID = &p.ID
	log = log.With(zap.String("payment_id", p.ID.String()))
	log.Info("payment recorded",
		zap.Int64("amount", ev.Amount),
		zap.String("display_amount", money.FormatMinor(ev.Amount, ev.Currency)),
	)

	var planID *uuid.UUID
	if req != nil {
		if err := h.advanceRequest(ctx, req, p); err != nil {
			log.Error("failed to advance payment request", zap.Error(err))
			out.degrade("advance_request")
			h.metrics.ObserveDegradedStep("succeeded", "advance_request")
		}
		planID = h.advanceSchedule(ctx, requestID, out, log)
	}

	if err := h.activity.Record(ctx, activity.Entry{
		ClinicID:      clinicID,
		PatientID:     patientID,
		PaymentLinkID: linkID,
		PlanID:        planID,
		ActionType:    activity.ActionPaymentMade,
		Details: map[string]any{
			"payment_id": p.ID.String(),
			"reference":  p.Reference,
			"amount":     ev.Amount,
			"currency":   ev.Currency,
		},
	}); err != nil {
		out.degrade("activity")
		h.metrics.ObserveDegradedStep("succeeded", "activity")
	}

	h.notify(ctx, p, out, log)
	return out, nil
}

func requiredClinicID(metadata map[string]string) (uuid.UUID, error) {
	raw, ok := metadata[metaClinicID]
	if !ok || raw == "" {
		return uuid.Nil, errors.New("event metadata is missing clinicId")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("event metadata clinicId %q is not a uuid: %w", raw, err)
	}
	return id, nil
}

// resolveLinkage determines the payment link and request this payment
// belongs to. A request-derived link takes precedence over any link id
// the checkout flow put in metadata.
func (h *SucceededHandler) resolveLinkage(ctx context.Context, metadata map[string]string) (*uuid.UUID, *uuid.UUID, *PaymentRequest, error) {
	var linkID *uuid.UUID
	if raw := metadata[metaPaymentLinkID]; raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			linkID = &id
		} else {
			h.logger.Warn("ignoring malformed paymentLinkId in metadata", zap.String("value", raw))
		}
	}

	raw := metadata[metaRequestID]
	if raw == "" {
		return linkID, nil, nil, nil
	}
	requestID, err := uuid.Parse(raw)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("event metadata requestId %q is not a uuid: %w", raw, err)
	}

	req, err := h.payments.GetRequest(ctx, requestID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("resolve payment request %s: %w", requestID, err)
	}
	if req.PaymentLinkID != nil {
		linkID = req.PaymentLinkID
	}
	return linkID, &requestID, req, nil
}

func (h *SucceededHandler) advanceRequest(ctx context.Context, req *PaymentRequest, p *Payment) error {
	now := h.now()
	req.Status = RequestStatusPaid
	req.PaymentID = &p.ID
	req.PaidAt = &now
	return h.payments.UpdateRequest(ctx, req)
}

// advanceSchedule marks the installment behind the request paid and
// recomputes the parent plan. Returns the plan id for the audit entry.
func (h *SucceededHandler) advanceSchedule(ctx context.Context, requestID *uuid.UUID, out *Outcome, log *zap.Logger) *uuid.UUID {
	if requestID == nil {
		return nil
	}
	inst, err := h.plans.GetInstallmentByRequestID(ctx, *requestID)
	if err != nil {
		if errors.Is(err, plan.ErrInstallmentNotFound) {
			// Not every request belongs to a plan.
			return nil
		}
		log.Error("failed to look up installment", zap.Error(err))
		out.degrade("schedule_lookup")
		h.metrics.ObserveDegradedStep("succeeded", "schedule_lookup")
		return nil
	}
	if err := h.agg.RecordInstallmentPaid(ctx, inst); err != nil {
		log.Error("failed to advance installment schedule", zap.Error(err))
		out.degrade("schedule_advance")
		h.metrics.ObserveDegradedStep("succeeded", "schedule_advance")
	}
	return &inst.PlanID
}

// notify enqueues the patient- and clinic-facing success notifications.
// Each insert is independently best-effort.
func (h *SucceededHandler) notify(ctx context.Context, p *Payment, out *Outcome, log *zap.Logger) {
	cl, err := h.clinics.GetClinic(ctx, p.ClinicID)
	if err != nil {
		log.Error("failed to load clinic for notifications", zap.Error(err))
		out.degrade("notify_patient")
		out.degrade("notify_clinic")
		h.metrics.ObserveDegradedStep("succeeded", "notify")
		return
	}

	var patientContact notification.ContactInfo
	if p.PatientID != nil {
		if pat, err := h.patients.GetPatient(ctx, *p.PatientID); err == nil {
			patientContact = notification.ContactInfo{Name: pat.Name, Email: pat.Email, Phone: pat.Phone}
		} else {
			log.Warn("failed to load patient for notifications", zap.Error(err))
		}
	}

	details := notification.PaymentDetails{
		Reference: p.Reference,
		Amount:    p.AmountPaid,
	}
	clinicContact := notification.ContactInfo{Name: cl.Name, Email: cl.Email, Phone: cl.Phone}
	prefs := notification.ClinicPreferences{NotifyByEmail: cl.NotifyByEmail, NotifyBySMS: cl.NotifyBySMS}

	if err := h.enqueuer.Enqueue(ctx, notification.Message{
		Type:          notification.TypePaymentSuccess,
		RecipientType: notification.RecipientPatient,
		Patient:       patientContact,
		Clinic:        clinicContact,
		ClinicPrefs:   prefs,
		Payment:       details,
		PaymentID:     &p.ID,
		ClinicID:      p.ClinicID,
	}); err != nil {
		out.degrade("notify_patient")
		h.metrics.ObserveDegradedStep("succeeded", "notify_patient")
	}

	if err := h.enqueuer.Enqueue(ctx, notification.Message{
		Type:          notification.TypePaymentSuccess,
		RecipientType: notification.RecipientClinic,
		Patient:       patientContact,
		Clinic:        clinicContact,
		ClinicPrefs:   prefs,
		Payment:       details,
		PaymentID:     &p.ID,
		ClinicID:      p.ClinicID,
	}); err != nil {
		out.degrade("notify_clinic")
		h.metrics.ObserveDegradedStep("succeeded", "notify_clinic")
	}
}
