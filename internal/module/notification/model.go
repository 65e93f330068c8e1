package notification

import (
	"time"

	"github.com/google/uuid"
)

// RecipientType identifies who a queued notification is addressed to.
type RecipientType string

const (
	RecipientPatient RecipientType = "patient"
	RecipientClinic  RecipientType = "clinic"
)

// Notification types.
const (
	TypePaymentSuccess  = "payment_success"
	TypePaymentFailed   = "payment_failed"
	TypePaymentRefunded = "payment_refunded"
)

// QueueEntry is a queued notification awaiting delivery by the dispatcher
// service. This core only ever inserts; the dispatcher drains.
type QueueEntry struct {
	ID            uuid.UUID     `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Type          string        `json:"type" gorm:"not null"`
	RecipientType RecipientType `json:"recipient_type" gorm:"not null"`
	Payload       string        `json:"payload" gorm:"type:jsonb;not null"`
	PaymentID     *uuid.UUID    `json:"payment_id,omitempty" gorm:"type:uuid;index"`
	ClinicID      uuid.UUID     `json:"clinic_id" gorm:"type:uuid;not null;index"`
	Status        string        `json:"status" gorm:"not null;default:pending"`
	CreatedAt     time.Time     `json:"created_at"`
}

// TableName returns the database table name.
func (QueueEntry) TableName() string {
	return "notification_queue"
}

// Method records which delivery channels apply to a notification.
type Method struct {
	Email bool `json:"email"`
	SMS   bool `json:"sms"`
}

// ContactInfo carries the contact details of one party.
type ContactInfo struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

// FinancialDetails is the clinic-facing money breakdown attached to
// refund notifications. All values are integer minor units.
type FinancialDetails struct {
	GrossAmount int64 `json:"gross_amount"`
	StripeFee   int64 `json:"stripe_fee"`
	PlatformFee int64 `json:"platform_fee"`
	NetAmount   int64 `json:"net_amount"`
	RefundFee   int64 `json:"refund_fee"`
}

// PaymentDetails carries the payment facts a notification references.
// Amounts are integer minor units; MonetaryValuesInPence on the payload
// tells the dispatcher to convert exactly once.
type PaymentDetails struct {
	Reference        string            `json:"reference"`
	Amount           int64             `json:"amount"`
	RefundAmount     int64             `json:"refund_amount,omitempty"`
	PaymentLink      string            `json:"payment_link,omitempty"`
	Message          string            `json:"message,omitempty"`
	FinancialDetails *FinancialDetails `json:"financial_details,omitempty"`
}

// Payload is the normalized notification body stored in the queue.
type Payload struct {
	NotificationType      string         `json:"notification_type"`
	NotificationMethod    Method         `json:"notification_method"`
	Patient               ContactInfo    `json:"patient"`
	Payment               PaymentDetails `json:"payment"`
	Clinic                ContactInfo    `json:"clinic"`
	MonetaryValuesInPence bool           `json:"monetary_values_in_pence"`
}
