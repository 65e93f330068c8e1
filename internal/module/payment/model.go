package payment

import (
	"time"

	"github.com/google/uuid"
)

// PaymentStatus represents the settlement state of a payment row. Failed
// attempts never produce payment rows; only settled money is recorded.
type PaymentStatus string

const (
	PaymentStatusPaid              PaymentStatus = "paid"
	PaymentStatusRefunded          PaymentStatus = "refunded"
	PaymentStatusPartiallyRefunded PaymentStatus = "partially_refunded"
)

// RequestStatus represents the state of an outstanding ask for money.
type RequestStatus string

const (
	RequestStatusPending           RequestStatus = "pending"
	RequestStatusSent              RequestStatus = "sent"
	RequestStatusPaid              RequestStatus = "paid"
	RequestStatusRefunded          RequestStatus = "refunded"
	RequestStatusPartiallyRefunded RequestStatus = "partially_refunded"
)

// Payment is one row per settled charge. All monetary fields are integer
// minor units exactly as received from the processor. Rows are created
// once per processor transaction id and mutated in place by refunds,
// never deleted.
type Payment struct {
	ID                  uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	StripeTransactionID string        `json:"stripe_transaction_id" gorm:"uniqueIndex;not null"`
	ClinicID            uuid.UUID     `json:"clinic_id" gorm:"type:uuid;not null;index"`
	PatientID           *uuid.UUID    `json:"patient_id,omitempty" gorm:"type:uuid;index"`
	PaymentLinkID       *uuid.UUID    `json:"payment_link_id,omitempty" gorm:"type:uuid;index"`
	Reference           string        `json:"reference" gorm:"not null"`
	AmountPaid          int64         `json:"amount_paid" gorm:"not null"`
	StripeFee           int64         `json:"stripe_fee" gorm:"not null;default:0"`
	NetAmount           int64         `json:"net_amount" gorm:"not null;default:0"`
	PlatformFee         int64         `json:"platform_fee" gorm:"not null;default:0"`
	RefundAmount        int64         `json:"refund_amount" gorm:"not null;default:0"`
	StripeRefundFee     int64         `json:"stripe_refund_fee" gorm:"not null;default:0"`
	StripeRefundID      string        `json:"stripe_refund_id"`
	Currency            string        `json:"currency" gorm:"not null"`
	Status              PaymentStatus `json:"status" gorm:"not null"`
	PaidAt              time.Time     `json:"paid_at"`
	RefundedAt          *time.Time    `json:"refunded_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// TableName returns the database table name.
func (Payment) TableName() string {
	return "payments"
}

// PaymentRequest is an outstanding ask for money, optionally tied to a
// payment link and/or an installment schedule row.
type PaymentRequest struct {
	ID            uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ClinicID      uuid.UUID     `json:"clinic_id" gorm:"type:uuid;not null;index"`
	PatientID     *uuid.UUID    `json:"patient_id,omitempty" gorm:"type:uuid;index"`
	PaymentLinkID *uuid.UUID    `json:"payment_link_id,omitempty" gorm:"type:uuid"`
	PaymentID     *uuid.UUID    `json:"payment_id,omitempty" gorm:"type:uuid;index"`
	Amount        int64         `json:"amount" gorm:"not null"`
	Currency      string        `json:"currency" gorm:"not null"`
	Status        RequestStatus `json:"status" gorm:"not null;default:pending"`
	PaidAt        *time.Time    `json:"paid_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// TableName returns the database table name.
func (PaymentRequest) TableName() string {
	return "payment_requests"
}

// WebhookEvent records every authenticated webhook delivery for audit and
// replay diagnosis. The store doubles as the authoritative duplicate
// drop: a redelivered event id already present here is acknowledged
// without reprocessing.
type WebhookEvent struct {
	ID          uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	EventID     string     `json:"event_id" gorm:"uniqueIndex;not null"`
	Type        string     `json:"type" gorm:"not null;index"`
	Data        string     `json:"data" gorm:"type:jsonb"`
	Processed   bool       `json:"processed" gorm:"not null;default:false"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (WebhookEvent) TableName() string {
	return "webhook_events"
}
