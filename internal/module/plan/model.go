package plan

import (
	"time"

	"github.com/google/uuid"
)

// PlanStatus represents the lifecycle state of a payment plan.
type PlanStatus string

const (
	PlanStatusActive    PlanStatus = "active"
	PlanStatusPaused    PlanStatus = "paused"
	PlanStatusCancelled PlanStatus = "cancelled"
	PlanStatusCompleted PlanStatus = "completed"
	PlanStatusOverdue   PlanStatus = "overdue"
)

// IsFrozen reports whether the status was set by an operator action and
// must never be overwritten by automatic recalculation, except for
// completion once every installment is paid.
func (s PlanStatus) IsFrozen() bool {
	return s == PlanStatusPaused || s == PlanStatusCancelled
}

// InstallmentStatus represents the state of one scheduled installment.
type InstallmentStatus string

const (
	InstallmentPending           InstallmentStatus = "pending"
	InstallmentSent              InstallmentStatus = "sent"
	InstallmentPaid              InstallmentStatus = "paid"
	InstallmentOverdue           InstallmentStatus = "overdue"
	InstallmentRefunded          InstallmentStatus = "refunded"
	InstallmentPartiallyRefunded InstallmentStatus = "partially_refunded"
	InstallmentCancelled         InstallmentStatus = "cancelled"
)

// CountsAsPaid reports whether the installment counts toward the plan's
// paid total. Refunded installments still count; a refund reverses money,
// not the fact that the installment was settled.
func (s InstallmentStatus) CountsAsPaid() bool {
	switch s {
	case InstallmentPaid, InstallmentRefunded, InstallmentPartiallyRefunded:
		return true
	}
	return false
}

// IsTerminal reports whether the installment no longer awaits payment.
func (s InstallmentStatus) IsTerminal() bool {
	return s.CountsAsPaid() || s == InstallmentCancelled
}

// Plan is an installment payment plan for one patient at one clinic.
// PaidInstallments and Progress are derived columns, recomputed from the
// schedule on every change rather than incremented in place.
type Plan struct {
	ID                uuid.UUID  `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ClinicID          uuid.UUID  `json:"clinic_id" gorm:"type:uuid;not null;index"`
	PatientID         uuid.UUID  `json:"patient_id" gorm:"type:uuid;not null;index"`
	TotalAmount       int64      `json:"total_amount" gorm:"not null"`
	Currency          string     `json:"currency" gorm:"not null"`
	TotalInstallments int        `json:"total_installments" gorm:"not null"`
	PaidInstallments  int        `json:"paid_installments" gorm:"not null;default:0"`
	Progress          int        `json:"progress" gorm:"not null;default:0"`
	NextDueDate       *time.Time `json:"next_due_date,omitempty"`
	Status            PlanStatus `json:"status" gorm:"not null;default:active"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// TableName returns the database table name.
func (Plan) TableName() string {
	return "plans"
}

// Installment is one scheduled payment within a plan. Each installment is
// collected through its own payment request.
type Installment struct {
	ID               uuid.UUID         `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	PlanID           uuid.UUID         `json:"plan_id" gorm:"type:uuid;not null;index"`
	PaymentRequestID *uuid.UUID        `json:"payment_request_id,omitempty" gorm:"type:uuid;index"`
	PaymentNumber    int               `json:"payment_number" gorm:"not null"`
	TotalPayments    int               `json:"total_payments" gorm:"not null"`
	Amount           int64             `json:"amount" gorm:"not null"`
	DueDate          time.Time         `json:"due_date" gorm:"not null"`
	Status           InstallmentStatus `json:"status" gorm:"not null;default:pending"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// TableName returns the database table name.
func (Installment) TableName() string {
	return "payment_schedule"
}
