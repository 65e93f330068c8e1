package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrPaymentNotFound indicates no payment matches the lookup.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrRequestNotFound indicates no payment request matches the lookup.
	ErrRequestNotFound = errors.New("payment request not found")
)

// Repository defines data access for payments, payment requests and the
// webhook event store.
type Repository interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPaymentByTransactionID(ctx context.Context, txID string) (*Payment, error)
	PaymentExistsByTransactionID(ctx context.Context, txID string) (bool, error)
	UpdatePayment(ctx context.Context, p *Payment) error

	GetRequest(ctx context.Context, id uuid.UUID) (*PaymentRequest, error)
	GetRequestByPaymentID(ctx context.Context, paymentID uuid.UUID) (*PaymentRequest, error)
	UpdateRequest(ctx context.Context, r *PaymentRequest) error

	CreateWebhookEvent(ctx context.Context, e *WebhookEvent) error
	WebhookEventSeen(ctx context.Context, eventID string) (bool, error)
	MarkWebhookEventProcessed(ctx context.Context, eventID string, procErr error) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new payment repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreatePayment(ctx context.Context, p *Payment) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create payment: %w", err)
	}
	return nil
}

func (r *repository) GetPaymentByTransactionID(ctx context.Context, txID string) (*Payment, error) {
	var p Payment
	err := r.db.WithContext(ctx).
		First(&p, "stripe_transaction_id = ?", txID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("get payment by transaction id: %w", err)
	}
	return &p, nil
}

func (r *repository) PaymentExistsByTransactionID(ctx context.Context, txID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&Payment{}).
		Where("stripe_transaction_id = ?", txID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count payments by transaction id: %w", err)
	}
	return count > 0, nil
}

func (r *repository) UpdatePayment(ctx context.Context, p *Payment) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (r *repository) GetRequest(ctx context.Context, id uuid.UUID) (*PaymentRequest, error) {
	var req PaymentRequest
	err := r.db.WithContext(ctx).First(&req, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get payment request: %w", err)
	}
	return &req, nil
}

func (r *repository) GetRequestByPaymentID(ctx context.Context, paymentID uuid.UUID) (*PaymentRequest, error) {
	var req PaymentRequest
	err := r.db.WithContext(ctx).
		First(&req, "payment_id = ?", paymentID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("get payment request by payment id: %w", err)
	}
	return &req, nil
}

func (r *repository) UpdateRequest(ctx context.Context, req *PaymentRequest) error {
	if err := r.db.WithContext(ctx).Save(req).Error; err != nil {
		return fmt.Errorf("update payment request: %w", err)
	}
	return nil
}

func (r *repository) CreateWebhookEvent(ctx context.Context, e *WebhookEvent) error {
	if err := r.db.WithContext(ctx).Create(e).Error; err != nil {
		return fmt.Errorf("create webhook event: %w", err)
	}
	return nil
}

func (r *repository) WebhookEventSeen(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("event_id = ?", eventID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("count webhook events: %w", err)
	}
	return count > 0, nil
}

func (r *repository) MarkWebhookEventProcessed(ctx context.Context, eventID string, procErr error) error {
	updates := map[string]any{
		"processed":    true,
		"processed_at": time.Now(),
	}
	if procErr != nil {
		updates["error"] = procErr.Error()
	}
	err := r.db.WithContext(ctx).
		Model(&WebhookEvent{}).
		Where("event_id = ?", eventID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return nil
}
