package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/module/activity"
	"github.com/clinicpay/server/internal/module/clinic"
	"github.com/clinicpay/server/internal/module/notification"
	"github.com/clinicpay/server/internal/module/patient"
	"github.com/clinicpay/server/internal/module/plan"
	"github.com/clinicpay/server/internal/module/processor"
	"github.com/clinicpay/server/internal/utils/metrics"
	"github.com/clinicpay/server/internal/utils/money"
)

// RefundHandler reconciles refund.updated events against the original
// payment. Orphaned refunds, ones with no matching payment row, are
// logged for manual reconciliation and dropped.
type RefundHandler struct {
	payments Repository
	plans    plan.Repository
	agg      *plan.Aggregator
	clinics  clinic.Repository
	patients patient.Repository
	resolver *patient.Resolver
	client   processor.Client
	fees     *FeeResolver
	enqueuer *notification.Enqueuer
	activity *activity.Recorder
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewRefundHandler creates the refund handler.
func NewRefundHandler(
	payments Repository,
	plans plan.Repository,
	agg *plan.Aggregator,
	clinics clinic.Repository,
	patients patient.Repository,
	resolver *patient.Resolver,
	client processor.Client,
	fees *FeeResolver,
	enqueuer *notification.Enqueuer,
	rec *activity.Recorder,
	m *metrics.Metrics,
	logger *zap.Logger,
) *RefundHandler {
	return &RefundHandler{
		payments: payments,
		plans:    plans,
		agg:      agg,
		clinics:  clinics,
		patients: patients,
		resolver: resolver,
		client:   client,
		fees:     fees,
		enqueuer: enqueuer,
		activity: rec,
		metrics:  m,
		logger:   logger,
		now:      time.Now,
	}
}

// Handle processes one refund event. Returns an error only when the
// payment update itself cannot be made durable; everything after that
// write is best-effort and tracked in the Outcome.
func (h *RefundHandler) Handle(ctx context.Context, ev RefundEvent) (*Outcome, error) {
	out := &Outcome{}
	log := h.logger.With(
		zap.String("refund_id", ev.RefundID),
		zap.String("charge_id", ev.ChargeID),
	)

	// refund.updated fires for every state transition; only the terminal
	// success state moves money.
	if !ev.Succeeded() {
		log.Debug("ignoring non-terminal refund state", zap.String("status", ev.Status))
		out.Skipped = true
		return out, nil
	}

	charge, p, err := h.resolvePayment(ctx, ev)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			log.Warn("refund references no known payment, dropping for manual reconciliation")
			out.Skipped = true
			return out, nil
		}
		return out, err
	}
	log = log.With(zap.String("payment_id", p.ID.String()))

	// Both amounts are integer minor units; the comparison is exact.
	full := ev.Amount >= p.AmountPaid

	p.Status = StatusForRefund(ev.Amount, p.AmountPaid)
	p.RefundAmount = ev.Amount
	p.StripeRefundID = ev.RefundID
	now := h.now()
	p.RefundedAt = &now

	h.backfillPatient(ctx, p, charge, out, log)

	refundFee := h.resolveRefundFee(ctx, charge, ev, out, log)
	p.StripeRefundFee = refundFee

	if err := h.payments.UpdatePayment(ctx, p); err != nil {
		return out, fmt.Errorf("update payment for refund: %w", err)
	}
	out.Processed = true
	out.PaymentID = &p.ID
	log.Info("refund recorded",
		zap.Int64("refund_amount", ev.Amount),
		zap.String("display_amount", money.FormatMinor(ev.Amount, p.Currency)),
		zap.Bool("full_refund", full),
		zap.String("status", string(p.Status)),
	)

	action := activity.ActionPaymentPartiallyRefunded
	if full {
		action = activity.ActionPaymentRefunded
	}
	if err := h.activity.Record(ctx, activity.Entry{
		ClinicID:      p.ClinicID,
		PatientID:     p.PatientID,
		PaymentLinkID: p.PaymentLinkID,
		ActionType:    action,
		Details: map[string]any{
			"payment_id":    p.ID.String(),
			"reference":     p.Reference,
			"amount":        p.AmountPaid,
			"refund_amount": ev.Amount,
			"refund_id":     ev.RefundID,
		},
	}); err != nil {
		out.degrade("activity")
		h.metrics.ObserveDegradedStep("refund", "activity")
	}

	h.adjustRequestAndPlan(ctx, p, full, out, log)
	h.notify(ctx, p, ev, out, log)
	return out, nil
}

// resolvePayment walks charge, payment intent, stored transaction id to
// find the payment row the refund belongs to.
func (h *RefundHandler) resolvePayment(ctx context.Context, ev RefundEvent) (*processor.Charge, *Payment, error) {
	charge, err := h.client.GetCharge(ctx, ev.ChargeID)
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			return nil, nil, ErrPaymentNotFound
		}
		return nil, nil, fmt.Errorf("get charge %s: %w", ev.ChargeID, err)
	}
	txID := charge.PaymentIntentID
	if txID == "" {
		// Standalone charges do not embed the intent; fall back to the
		// intent the refund itself references.
		txID, err = h.intentFromRefund(ctx, ev)
		if err != nil {
			return nil, nil, err
		}
	}
	p, err := h.payments.GetPaymentByTransactionID(ctx, txID)
	if err != nil {
		return nil, nil, err
	}
	return charge, p, nil
}

func (h *RefundHandler) intentFromRefund(ctx context.Context, ev RefundEvent) (string, error) {
	if ev.PaymentIntentID == "" {
		return "", ErrPaymentNotFound
	}
	intent, err := h.client.GetPaymentIntent(ctx, ev.PaymentIntentID)
	if err != nil {
		if errors.Is(err, processor.ErrNotFound) {
			return "", ErrPaymentNotFound
		}
		return "", fmt.Errorf("get payment intent %s: %w", ev.PaymentIntentID, err)
	}
	return intent.ID, nil
}

// backfillPatient fills in patient linkage from the charge's billing
// details when the payment row predates patient tracking.
func (h *RefundHandler) backfillPatient(ctx context.Context, p *Payment, charge *processor.Charge, out *Outcome, log *zap.Logger) {
	if p.PatientID != nil {
		return
	}
	if charge.BillingEmail == "" && charge.BillingPhone == "" {
		return
	}
	pat, err := h.resolver.Resolve(ctx, p.ClinicID, charge.BillingName, charge.BillingEmail, charge.BillingPhone)
	if err != nil {
		log.Warn("failed to backfill patient linkage", zap.Error(err))
		out.degrade("patient_backfill")
		h.metrics.ObserveDegradedStep("refund", "patient_backfill")
		return
	}
	p.PatientID = &pat.ID
}

func (h *RefundHandler) resolveRefundFee(ctx context.Context, charge *processor.Charge, ev RefundEvent, out *Outcome, log *zap.Logger) int64 {
	fee, tier, err := h.fees.ResolveRefundFee(ctx, charge, ev)
	if err != nil {
		log.Warn("refund fee resolution failed, storing zero", zap.Error(err))
		out.degrade("refund_fee")
		h.metrics.ObserveDegradedStep("refund", "refund_fee")
		return 0
	}
	log.Debug("refund fee resolved",
		zap.Int64("fee", fee),
		zap.String("tier", tier),
	)
	return fee
}

// adjustRequestAndPlan mirrors the refund onto the owning request and
// installment. The plan's paid count stays put: refunding a settled
// installment does not un-complete the plan's payment history.
func (h *RefundHandler) adjustRequestAndPlan(ctx context.Context, p *Payment, full bool, out *Outcome, log *zap.Logger) {
	req, err := h.payments.GetRequestByPaymentID(ctx, p.ID)
	if err != nil {
		if errors.Is(err, ErrRequestNotFound) {
			return
		}
		log.Error("failed to look up payment request", zap.Error(err))
		out.degrade("request_lookup")
		h.metrics.ObserveDegradedStep("refund", "request_lookup")
		return
	}

	req.Status = RequestStatusFor(p.Status)
	if err := h.payments.UpdateRequest(ctx, req); err != nil {
		log.Error("failed to update payment request", zap.Error(err))
		out.degrade("request_update")
		h.metrics.ObserveDegradedStep("refund", "request_update")
	}

	inst, err := h.plans.GetInstallmentByRequestID(ctx, req.ID)
	if err != nil {
		if errors.Is(err, plan.ErrInstallmentNotFound) {
			return
		}
		log.Error("failed to look up installment", zap.Error(err))
		out.degrade("schedule_lookup")
		h.metrics.ObserveDegradedStep("refund", "schedule_lookup")
		return
	}
	if err := h.agg.AdjustForRefund(ctx, inst, full); err != nil {
		log.Error("failed to adjust plan for refund", zap.Error(err))
		out.degrade("plan_adjust")
		h.metrics.ObserveDegradedStep("refund", "plan_adjust")
	}
}

// notify enqueues the patient- and clinic-facing refund notifications.
// The money breakdown goes on the clinic payload only.
func (h *RefundHandler) notify(ctx context.Context, p *Payment, ev RefundEvent, out *Outcome, log *zap.Logger) {
	cl, err := h.clinics.GetClinic(ctx, p.ClinicID)
	if err != nil {
		log.Error("failed to load clinic for notifications", zap.Error(err))
		out.degrade("notify_patient")
		out.degrade("notify_clinic")
		h.metrics.ObserveDegradedStep("refund", "notify")
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

	clinicContact := notification.ContactInfo{Name: cl.Name, Email: cl.Email, Phone: cl.Phone}
	prefs := notification.ClinicPreferences{NotifyByEmail: cl.NotifyByEmail, NotifyBySMS: cl.NotifyBySMS}

	if err := h.enqueuer.Enqueue(ctx, notification.Message{
		Type:          notification.TypePaymentRefunded,
		RecipientType: notification.RecipientPatient,
		Patient:       patientContact,
		Clinic:        clinicContact,
		ClinicPrefs:   prefs,
		Payment: notification.PaymentDetails{
			Reference:    p.Reference,
			Amount:       p.AmountPaid,
			RefundAmount: ev.Amount,
		},
		PaymentID: &p.ID,
		ClinicID:  p.ClinicID,
	}); err != nil {
		out.degrade("notify_patient")
		h.metrics.ObserveDegradedStep("refund", "notify_patient")
	}

	if err := h.enqueuer.Enqueue(ctx, notification.Message{
		Type:          notification.TypePaymentRefunded,
		RecipientType: notification.RecipientClinic,
		Patient:       patientContact,
		Clinic:        clinicContact,
		ClinicPrefs:   prefs,
		Payment: notification.PaymentDetails{
			Reference:    p.Reference,
			Amount:       p.AmountPaid,
			RefundAmount: ev.Amount,
			FinancialDetails: &notification.FinancialDetails{
				GrossAmount: p.AmountPaid,
				StripeFee:   p.StripeFee,
				PlatformFee: p.PlatformFee,
				NetAmount:   p.NetAmount,
				RefundFee:   p.StripeRefundFee,
			},
		},
		PaymentID: &p.ID,
		ClinicID:  p.ClinicID,
	}); err != nil {
		out.degrade("notify_clinic")
		h.metrics.ObserveDegradedStep("refund", "notify_clinic")
	}
}
