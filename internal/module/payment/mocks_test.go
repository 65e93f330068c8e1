package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/clinicpay/server/internal/module/activity"
	"github.com/clinicpay/server/internal/module/clinic"
	"github.com/clinicpay/server/internal/module/notification"
	"github.com/clinicpay/server/internal/module/patient"
	"github.com/clinicpay/server/internal/module/plan"
	"github.com/clinicpay/server/internal/module/processor"
)

// MockRepository implements Repository for testing.
type MockRepository struct {
	payments  map[string]*Payment
	requests  map[uuid.UUID]*PaymentRequest
	events    map[string]*WebhookEvent
	createErr error
	updateErr error
}

func NewMockRepository() *MockRepository {
	return &MockRepository{
		payments: make(map[string]*Payment),
		requests: make(map[uuid.UUID]*PaymentRequest),
		events:   make(map[string]*WebhookEvent),
	}
}

func (m *MockRepository) CreatePayment(_ context.Context, p *Payment) error {
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.payments[p.StripeTransactionID]; ok {
		return errors.New("duplicate key value violates unique constraint")
	}
	cp := *p
	m.payments[p.StripeTransactionID] = &cp
	return nil
}

func (m *MockRepository) GetPaymentByTransactionID(_ context.Context, txID string) (*Payment, error) {
	p, ok := m.payments[txID]
	if !ok {
		return nil, ErrPaymentNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockRepository) PaymentExistsByTransactionID(_ context.Context, txID string) (bool, error) {
	_, ok := m.payments[txID]
	return ok, nil
}

func (m *MockRepository) UpdatePayment(_ context.Context, p *Payment) error {
	if m.updateErr != nil {
		return m.updateErr
	}
	cp := *p
	m.payments[p.StripeTransactionID] = &cp
	return nil
}

func (m *MockRepository) GetRequest(_ context.Context, id uuid.UUID) (*PaymentRequest, error) {
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MockRepository) GetRequestByPaymentID(_ context.Context, paymentID uuid.UUID) (*PaymentRequest, error) {
	for _, r := range m.requests {
		if r.PaymentID != nil && *r.PaymentID == paymentID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrRequestNotFound
}

func (m *MockRepository) UpdateRequest(_ context.Context, r *PaymentRequest) error {
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MockRepository) CreateWebhookEvent(_ context.Context, e *WebhookEvent) error {
	cp := *e
	m.events[e.EventID] = &cp
	return nil
}

func (m *MockRepository) WebhookEventSeen(_ context.Context, eventID string) (bool, error) {
	_, ok := m.events[eventID]
	return ok, nil
}

func (m *MockRepository) MarkWebhookEventProcessed(_ context.Context, eventID string, procErr error) error {
	e, ok := m.events[eventID]
	if !ok {
		return nil
	}
	e.Processed = true
	if procErr != nil {
		e.Error = procErr.Error()
	}
	return nil
}

func (m *MockRepository) addRequest(r *PaymentRequest) {
	m.requests[r.ID] = r
}

func (m *MockRepository) paymentCount() int {
	return len(m.payments)
}

// MockPlanRepository implements plan.Repository for testing.
type MockPlanRepository struct {
	plans        map[uuid.UUID]*plan.Plan
	installments map[uuid.UUID]*plan.Installment
}

func NewMockPlanRepository() *MockPlanRepository {
	return &MockPlanRepository{
		plans:        make(map[uuid.UUID]*plan.Plan),
		installments: make(map[uuid.UUID]*plan.Installment),
	}
}

func (m *MockPlanRepository) GetPlan(_ context.Context, id uuid.UUID) (*plan.Plan, error) {
	p, ok := m.plans[id]
	if !ok {
		return nil, plan.ErrPlanNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MockPlanRepository) UpdatePlan(_ context.Context, p *plan.Plan) error {
	cp := *p
	m.plans[p.ID] = &cp
	return nil
}

func (m *MockPlanRepository) GetInstallmentByRequestID(_ context.Context, requestID uuid.UUID) (*plan.Installment, error) {
	for _, inst := range m.installments {
		if inst.PaymentRequestID != nil && *inst.PaymentRequestID == requestID {
			cp := *inst
			return &cp, nil
		}
	}
	return nil, plan.ErrInstallmentNotFound
}

func (m *MockPlanRepository) UpdateInstallmentStatus(_ context.Context, id uuid.UUID, status plan.InstallmentStatus) error {
	inst, ok := m.installments[id]
	if !ok {
		return plan.ErrInstallmentNotFound
	}
	inst.Status = status
	return nil
}

func (m *MockPlanRepository) ListInstallments(_ context.Context, planID uuid.UUID) ([]plan.Installment, error) {
	var out []plan.Installment
	for _, inst := range m.installments {
		if inst.PlanID == planID {
			out = append(out, *inst)
		}
	}
	return out, nil
}

// MockClinicRepository implements clinic.Repository for testing.
type MockClinicRepository struct {
	clinics map[uuid.UUID]*clinic.Clinic
}

func NewMockClinicRepository() *MockClinicRepository {
	return &MockClinicRepository{clinics: make(map[uuid.UUID]*clinic.Clinic)}
}

func (m *MockClinicRepository) GetClinic(_ context.Context, id uuid.UUID) (*clinic.Clinic, error) {
	c, ok := m.clinics[id]
	if !ok {
		return nil, clinic.ErrClinicNotFound
	}
	return c, nil
}

// MockPatientRepository implements patient.Repository for testing.
type MockPatientRepository struct {
	patients map[uuid.UUID]*patient.Patient
}

func NewMockPatientRepository() *MockPatientRepository {
	return &MockPatientRepository{patients: make(map[uuid.UUID]*patient.Patient)}
}

func (m *MockPatientRepository) GetPatient(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, patient.ErrPatientNotFound
	}
	return p, nil
}

func (m *MockPatientRepository) FindByEmail(_ context.Context, clinicID uuid.UUID, email string) (*patient.Patient, error) {
	for _, p := range m.patients {
		if p.ClinicID == clinicID && p.Email == email {
			return p, nil
		}
	}
	return nil, patient.ErrPatientNotFound
}

func (m *MockPatientRepository) FindByPhone(_ context.Context, clinicID uuid.UUID, normalizedPhone string) (*patient.Patient, error) {
	for _, p := range m.patients {
		if p.ClinicID == clinicID && p.Phone == normalizedPhone {
			return p, nil
		}
	}
	return nil, patient.ErrPatientNotFound
}

func (m *MockPatientRepository) CreatePatient(_ context.Context, p *patient.Patient) error {
	m.patients[p.ID] = p
	return nil
}

// MockNotificationRepository implements notification.Repository for testing.
type MockNotificationRepository struct {
	entries []*notification.QueueEntry
	err     error
}

func (m *MockNotificationRepository) CreateEntry(_ context.Context, e *notification.QueueEntry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

// MockActivityRepository implements activity.Repository for testing.
type MockActivityRepository struct {
	entries []*activity.Activity
	err     error
}

func (m *MockActivityRepository) CreateActivity(_ context.Context, a *activity.Activity) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, a)
	return nil
}

// MockProcessorClient implements processor.Client for testing.
type MockProcessorClient struct {
	charges      map[string]*processor.Charge
	balanceTxns  map[string]*processor.BalanceTransaction
	appFees      map[string]*processor.ApplicationFee
	feeRefunds   map[string][]*processor.FeeRefund
	intents      map[string]*processor.PaymentIntent
	chargeErr    error
	appFeeErr    error
	feeRefundErr error
	balanceErr   error
	verifyErr    error
}

func NewMockProcessorClient() *MockProcessorClient {
	return &MockProcessorClient{
		charges:     make(map[string]*processor.Charge),
		balanceTxns: make(map[string]*processor.BalanceTransaction),
		appFees:     make(map[string]*processor.ApplicationFee),
		feeRefunds:  make(map[string][]*processor.FeeRefund),
		intents:     make(map[string]*processor.PaymentIntent),
	}
}

func (m *MockProcessorClient) VerifyWebhookSignature(_ []byte, _ string) error {
	return m.verifyErr
}

func (m *MockProcessorClient) GetCharge(_ context.Context, chargeID string) (*processor.Charge, error) {
	if m.chargeErr != nil {
		return nil, m.chargeErr
	}
	ch, ok := m.charges[chargeID]
	if !ok {
		return nil, processor.ErrNotFound
	}
	return ch, nil
}

func (m *MockProcessorClient) GetBalanceTransaction(_ context.Context, id string) (*processor.BalanceTransaction, error) {
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	bt, ok := m.balanceTxns[id]
	if !ok {
		return nil, processor.ErrNotFound
	}
	return bt, nil
}

func (m *MockProcessorClient) GetApplicationFee(_ context.Context, id string) (*processor.ApplicationFee, error) {
	if m.appFeeErr != nil {
		return nil, m.appFeeErr
	}
	fee, ok := m.appFees[id]
	if !ok {
		return nil, processor.ErrNotFound
	}
	return fee, nil
}

func (m *MockProcessorClient) ListFeeRefunds(_ context.Context, applicationFeeID string) ([]*processor.FeeRefund, error) {
	if m.feeRefundErr != nil {
		return nil, m.feeRefundErr
	}
	return m.feeRefunds[applicationFeeID], nil
}

func (m *MockProcessorClient) GetPaymentIntent(_ context.Context, id string) (*processor.PaymentIntent, error) {
	pi, ok := m.intents[id]
	if !ok {
		return nil, processor.ErrNotFound
	}
	return pi, nil
}
