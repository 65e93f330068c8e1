package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrPatientNotFound is returned when no patient matches the lookup.
var ErrPatientNotFound = errors.New("patient not found")

// Repository defines the interface for patient data access.
type Repository interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	FindByEmail(ctx context.Context, clinicID uuid.UUID, email string) (*Patient, error)
	FindByPhone(ctx context.Context, clinicID uuid.UUID, normalizedPhone string) (*Patient, error)
	CreatePatient(ctx context.Context, p *Patient) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new patient repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.db.WithContext(ctx).First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &p, nil
}

func (r *repository) FindByEmail(ctx context.Context, clinicID uuid.UUID, email string) (*Patient, error) {
	var p Patient
	err := r.db.WithContext(ctx).
		First(&p, "clinic_id = ? AND lower(email) = lower(?)", clinicID, email).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("find patient by email: %w", err)
	}
	return &p, nil
}

func (r *repository) FindByPhone(ctx context.Context, clinicID uuid.UUID, normalizedPhone string) (*Patient, error) {
	var p Patient
	err := r.db.WithContext(ctx).
		First(&p, "clinic_id = ? AND phone = ?", clinicID, normalizedPhone).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrPatientNotFound
		}
		return nil, fmt.Errorf("find patient by phone: %w", err)
	}
	return &p, nil
}

func (r *repository) CreatePatient(ctx context.Context, p *Patient) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create patient: %w", err)
	}
	return nil
}
