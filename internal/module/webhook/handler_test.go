package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/module/activity"
	"github.com/clinicpay/server/internal/module/clinic"
	"github.com/clinicpay/server/internal/module/notification"
	"github.com/clinicpay/server/internal/module/patient"
	"github.com/clinicpay/server/internal/module/payment"
	"github.com/clinicpay/server/internal/module/plan"
	"github.com/clinicpay/server/internal/module/processor"
)

const testSecret = "whsec_test_secret"

// signPayload produces a Stripe-Signature header value for the payload.
func signPayload(secret string, payload []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", at.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// fakePaymentRepo implements payment.Repository in memory.
type fakePaymentRepo struct {
	payments    map[string]*payment.Payment
	requests    map[uuid.UUID]*payment.PaymentRequest
	events      map[string]*payment.WebhookEvent
	eventWrites int
}

func newFakePaymentRepo() *fakePaymentRepo {
	return &fakePaymentRepo{
		payments: make(map[string]*payment.Payment),
		requests: make(map[uuid.UUID]*payment.PaymentRequest),
		events:   make(map[string]*payment.WebhookEvent),
	}
}

func (f *fakePaymentRepo) CreatePayment(_ context.Context, p *payment.Payment) error {
	f.payments[p.StripeTransactionID] = p
	return nil
}

func (f *fakePaymentRepo) GetPaymentByTransactionID(_ context.Context, txID string) (*payment.Payment, error) {
	p, ok := f.payments[txID]
	if !ok {
		return nil, payment.ErrPaymentNotFound
	}
	return p, nil
}

func (f *fakePaymentRepo) PaymentExistsByTransactionID(_ context.Context, txID string) (bool, error) {
	_, ok := f.payments[txID]
	return ok, nil
}

func (f *fakePaymentRepo) UpdatePayment(_ context.Context, p *payment.Payment) error {
	f.payments[p.StripeTransactionID] = p
	return nil
}

func (f *fakePaymentRepo) GetRequest(_ context.Context, id uuid.UUID) (*payment.PaymentRequest, error) {
	r, ok := f.requests[id]
	if !ok {
		return nil, payment.ErrRequestNotFound
	}
	return r, nil
}

func (f *fakePaymentRepo) GetRequestByPaymentID(_ context.Context, paymentID uuid.UUID) (*payment.PaymentRequest, error) {
	for _, r := range f.requests {
		if r.PaymentID != nil && *r.PaymentID == paymentID {
			return r, nil
		}
	}
	return nil, payment.ErrRequestNotFound
}

func (f *fakePaymentRepo) UpdateRequest(_ context.Context, r *payment.PaymentRequest) error {
	f.requests[r.ID] = r
	return nil
}

func (f *fakePaymentRepo) CreateWebhookEvent(_ context.Context, e *payment.WebhookEvent) error {
	f.eventWrites++
	f.events[e.EventID] = e
	return nil
}

func (f *fakePaymentRepo) WebhookEventSeen(_ context.Context, eventID string) (bool, error) {
	_, ok := f.events[eventID]
	return ok, nil
}

func (f *fakePaymentRepo) MarkWebhookEventProcessed(_ context.Context, eventID string, procErr error) error {
	e, ok := f.events[eventID]
	if !ok {
		return nil
	}
	e.Processed = true
	if procErr != nil {
		e.Error = procErr.Error()
	}
	return nil
}

// fakeClinicRepo implements clinic.Repository.
type fakeClinicRepo struct {
	clinics map[uuid.UUID]*clinic.Clinic
}

func (f *fakeClinicRepo) GetClinic(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	c, ok := f.clinics[id]
	if !ok {
		return nil, clinic.ErrClinicNotFound
	}
	return c, nil
}

// fakePlanRepo implements plan.Repository with nothing in it.
type fakePlanRepo struct{}

func (fakePlanRepo) GetPlan(context.Context, uuid.UUID) (*plan.Plan, error) {
	return nil, plan.ErrPlanNotFound
}
func (fakePlanRepo) UpdatePlan(context.Context, *plan.Plan) error { return nil }
func (fakePlanRepo) GetInstallmentByRequestID(context.Context, uuid.UUID) (*plan.Installment, error) {
	return nil, plan.ErrInstallmentNotFound
}
func (fakePlanRepo) UpdateInstallmentStatus(context.Context, uuid.UUID, plan.InstallmentStatus) error {
	return nil
}
func (fakePlanRepo) ListInstallments(context.Context, uuid.UUID) ([]plan.Installment, error) {
	return nil, nil
}

// fakePatientRepo implements patient.Repository with nothing in it.
type fakePatientRepo struct{}

func (fakePatientRepo) GetPatient(context.Context, uuid.UUID) (*patient.Patient, error) {
	return nil, patient.ErrPatientNotFound
}
func (fakePatientRepo) FindByEmail(context.Context, uuid.UUID, string) (*patient.Patient, error) {
	return nil, patient.ErrPatientNotFound
}
func (fakePatientRepo) FindByPhone(context.Context, uuid.UUID, string) (*patient.Patient, error) {
	return nil, patient.ErrPatientNotFound
}
func (fakePatientRepo) CreatePatient(context.Context, *patient.Patient) error { return nil }

// fakeNotificationRepo implements notification.Repository.
type fakeNotificationRepo struct {
	entries []*notification.QueueEntry
}

func (f *fakeNotificationRepo) CreateEntry(_ context.Context, e *notification.QueueEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

// fakeActivityRepo implements activity.Repository.
type fakeActivityRepo struct {
	entries []*activity.Activity
}

func (f *fakeActivityRepo) CreateActivity(_ context.Context, a *activity.Activity) error {
	f.entries = append(f.entries, a)
	return nil
}

// stubProcessor verifies signatures with the real client and serves
// object lookups from memory so refund flows can run end to end.
type stubProcessor struct {
	verifier processor.Client
	charges  map[string]*processor.Charge
}

func (s *stubProcessor) VerifyWebhookSignature(payload []byte, signature string) error {
	return s.verifier.VerifyWebhookSignature(payload, signature)
}

func (s *stubProcessor) GetCharge(_ context.Context, chargeID string) (*processor.Charge, error) {
	ch, ok := s.charges[chargeID]
	if !ok {
		return nil, processor.ErrNotFound
	}
	return ch, nil
}

func (s *stubProcessor) GetBalanceTransaction(context.Context, string) (*processor.BalanceTransaction, error) {
	return nil, processor.ErrNotFound
}

func (s *stubProcessor) GetApplicationFee(context.Context, string) (*processor.ApplicationFee, error) {
	return nil, processor.ErrNotFound
}

func (s *stubProcessor) ListFeeRefunds(context.Context, string) ([]*processor.FeeRefund, error) {
	return nil, processor.ErrNotFound
}

func (s *stubProcessor) GetPaymentIntent(context.Context, string) (*processor.PaymentIntent, error) {
	return nil, processor.ErrNotFound
}

type webhookFixture struct {
	router        *gin.Engine
	payments      *fakePaymentRepo
	notifications *fakeNotificationRepo
	activities    *fakeActivityRepo
	processor     *stubProcessor
	clinicID      uuid.UUID
}

func newWebhookFixture(t *testing.T, secret string) *webhookFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := zap.NewNop()

	payments := newFakePaymentRepo()
	notifications := &fakeNotificationRepo{}
	activities := &fakeActivityRepo{}
	planRepo := fakePlanRepo{}
	patientRepo := fakePatientRepo{}

	clinicID := uuid.New()
	clinics := &fakeClinicRepo{clinics: map[uuid.UUID]*clinic.Clinic{
		clinicID: {ID: clinicID, Name: "Harley Street Dental", Email: "reception@harleydental.example", NotifyByEmail: true},
	}}

	// Real signature verification; object lookups come from memory so
	// tests can seed charges without touching the network.
	client := &stubProcessor{
		verifier: processor.NewStripeClient(&processor.StripeConfig{
			WebhookSecret: secret,
		}, nil),
		charges: make(map[string]*processor.Charge),
	}

	agg := plan.NewAggregator(planRepo, log)
	enqueuer := notification.NewEnqueuer(notifications, nil, log)
	recorder := activity.NewRecorder(activities, log)
	resolver := patient.NewResolver(patientRepo, log)
	fees := payment.NewFeeResolver(client, 10*time.Second, log)

	succeeded := payment.NewSucceededHandler(
		payments, planRepo, agg, clinics, patientRepo, fees, enqueuer, recorder, nil, log,
	)
	failed := payment.NewFailedHandler(clinics, enqueuer, recorder, nil, log)
	refund := payment.NewRefundHandler(
		payments, planRepo, agg, clinics, patientRepo, resolver, client, fees, enqueuer, recorder, nil, log,
	)

	handler := NewHandler(client, payments, nil, succeeded, failed, refund, nil, log)

	router := gin.New()
	handler.RegisterRoutes(router)

	return &webhookFixture{
		router:        router,
		payments:      payments,
		notifications: notifications,
		activities:    activities,
		processor:     client,
		clinicID:      clinicID,
	}
}

func (f *webhookFixture) deliver(t *testing.T, body []byte, signature string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func succeededEventBody(eventID string, clinicID uuid.UUID) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "payment_intent.succeeded",
		"data": {
			"object": {
				"id": "pi_test_1",
				"amount": 5000,
				"currency": "gbp",
				"metadata": {"clinicId": %q}
			}
		}
	}`, eventID, clinicID))
}

func TestWebhookRejectsInvalidSignature(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body := succeededEventBody("evt_1", f.clinicID)

	w := f.deliver(t, body, "t=123,v1=deadbeef")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.deliver(t, body, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.deliver(t, body, signPayload("whsec_wrong_secret", body, time.Now()))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Empty(t, f.payments.payments)
}

func TestWebhookMissingSecretIsServerError(t *testing.T) {
	f := newWebhookFixture(t, "")

	body := succeededEventBody("evt_1", f.clinicID)
	w := f.deliver(t, body, signPayload(testSecret, body, time.Now()))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookProcessesSucceededEvent(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body := succeededEventBody("evt_1", f.clinicID)
	w := f.deliver(t, body, signPayload(testSecret, body, time.Now()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received": true}`, w.Body.String())

	p, ok := f.payments.payments["pi_test_1"]
	require.True(t, ok)
	assert.Equal(t, int64(5000), p.AmountPaid)
	assert.Equal(t, f.clinicID, p.ClinicID)
	assert.Len(t, f.notifications.entries, 2)

	e, ok := f.payments.events["evt_1"]
	require.True(t, ok)
	assert.True(t, e.Processed)
	assert.Empty(t, e.Error)
}

func TestWebhookAcknowledgesUnknownEventType(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body := []byte(`{"id": "evt_2", "type": "customer.created", "data": {"object": {}}}`)
	w := f.deliver(t, body, signPayload(testSecret, body, time.Now()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received": true}`, w.Body.String())
	assert.Empty(t, f.payments.payments)
}

func TestWebhookHandlerErrorStillAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	// Authenticated but unprocessable: no clinicId in metadata. The
	// processor must not redeliver for an application-level failure.
	body := []byte(`{
		"id": "evt_3",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_bad", "amount": 5000, "currency": "gbp", "metadata": {}}}
	}`)
	w := f.deliver(t, body, signPayload(testSecret, body, time.Now()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received": true}`, w.Body.String())
	assert.Empty(t, f.payments.payments)

	e, ok := f.payments.events["evt_3"]
	require.True(t, ok)
	assert.NotEmpty(t, e.Error)
}

func TestWebhookMalformedBodyRejected(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body := []byte(`{not json`)
	w := f.deliver(t, body, signPayload(testSecret, body, time.Now()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookReplayedRefundDroppedByEventStore(t *testing.T) {
	// No cache in this fixture, so the event store is the only duplicate
	// guard. A redelivered refund must be acknowledged without re-running
	// notifications, activity or the payment update.
	f := newWebhookFixture(t, testSecret)

	paymentID := uuid.New()
	f.payments.payments["pi_replay"] = &payment.Payment{
		ID:                  paymentID,
		StripeTransactionID: "pi_replay",
		ClinicID:            f.clinicID,
		Reference:           "PAY-REPLAY1",
		AmountPaid:          5000,
		Currency:            "gbp",
		Status:              payment.PaymentStatusPaid,
		PaidAt:              time.Now(),
	}
	f.processor.charges["ch_replay"] = &processor.Charge{
		ID:              "ch_replay",
		Amount:          5000,
		Currency:        "gbp",
		PaymentIntentID: "pi_replay",
	}

	body := []byte(`{
		"id": "evt_replay",
		"type": "refund.updated",
		"data": {"object": {"id": "re_replay", "amount": 5000, "status": "succeeded", "charge": "ch_replay"}}
	}`)

	w := f.deliver(t, body, signPayload(testSecret, body, time.Now()))
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, payment.PaymentStatusRefunded, f.payments.payments["pi_replay"].Status)
	require.Len(t, f.notifications.entries, 2)
	require.Len(t, f.activities.entries, 1)
	require.Equal(t, 1, f.payments.eventWrites)

	w = f.deliver(t, body, signPayload(testSecret, body, time.Now()))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received": true}`, w.Body.String())
	assert.Len(t, f.notifications.entries, 2)
	assert.Len(t, f.activities.entries, 1)
	assert.Equal(t, 1, f.payments.eventWrites)
}

func TestWebhookRefundForUnknownChargeAcknowledged(t *testing.T) {
	f := newWebhookFixture(t, testSecret)

	body := []byte(`{
		"id": "evt_4",
		"type": "refund.updated",
		"data": {"object": {"id": "re_1", "amount": 5000, "status": "succeeded", "charge": "ch_unknown"}}
	}`)
	w := f.deliver(t, body, signPayload(testSecret, body, time.Now()))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"received": true}`, w.Body.String())
	assert.Empty(t, f.payments.payments)
}
