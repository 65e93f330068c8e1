package plan

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrPlanNotFound indicates the plan does not exist.
	ErrPlanNotFound = errors.New("plan not found")
	// ErrInstallmentNotFound indicates no installment matches the lookup.
	ErrInstallmentNotFound = errors.New("installment not found")
)

// Repository defines data access for plans and their schedules.
type Repository interface {
	GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	GetInstallmentByRequestID(ctx context.Context, requestID uuid.UUID) (*Installment, error)
	UpdateInstallmentStatus(ctx context.Context, id uuid.UUID, status InstallmentStatus) error
	ListInstallments(ctx context.Context, planID uuid.UUID) ([]Installment, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new plan repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetPlan(ctx context.Context, id uuid.UUID) (*Plan, error) {
	var p Plan
	if err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &p, nil
}

func (r *repository) UpdatePlan(ctx context.Context, p *Plan) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("update plan: %w", err)
	}
	return nil
}

func (r *repository) GetInstallmentByRequestID(ctx context.Context, requestID uuid.UUID) (*Installment, error) {
	var inst Installment
	err := r.db.WithContext(ctx).
		First(&inst, "payment_request_id = ?", requestID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInstallmentNotFound
		}
		return nil, fmt.Errorf("get installment by request: %w", err)
	}
	return &inst, nil
}

func (r *repository) UpdateInstallmentStatus(ctx context.Context, id uuid.UUID, status InstallmentStatus) error {
	err := r.db.WithContext(ctx).
		Model(&Installment{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("update installment status: %w", err)
	}
	return nil
}

func (r *repository) ListInstallments(ctx context.Context, planID uuid.UUID) ([]Installment, error) {
	var insts []Installment
	err := r.db.WithContext(ctx).
		Where("plan_id = ?", planID).
		Order("payment_number ASC").
		Find(&insts).Error
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	return insts, nil
}
