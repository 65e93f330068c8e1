package activity

import (
	"time"

	"github.com/google/uuid"
)

// ActionType identifies the kind of ledger event being recorded.
type ActionType string

const (
	ActionPaymentMade              ActionType = "payment_made"
	ActionPaymentFailed            ActionType = "payment_failed"
	ActionPaymentRefunded          ActionType = "payment_refunded"
	ActionPaymentPartiallyRefunded ActionType = "payment_partially_refunded"
)

// Activity is an append-only audit log entry. Rows are never updated or
// deleted once written.
type Activity struct {
	ID            uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ClinicID      uuid.UUID  `json:"clinic_id" gorm:"type:uuid;not null;index"`
	PatientID     *uuid.UUID `json:"patient_id,omitempty" gorm:"type:uuid;index"`
	PaymentLinkID *uuid.UUID `json:"payment_link_id,omitempty" gorm:"type:uuid"`
	PlanID        *uuid.UUID `json:"plan_id,omitempty" gorm:"type:uuid;index"`
	ActionType    ActionType `json:"action_type" gorm:"not null"`
	Details       string     `json:"details" gorm:"type:jsonb"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TableName returns the database table name.
func (Activity) TableName() string {
	return "payment_activity"
}
