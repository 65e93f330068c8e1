package clinic

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrClinicNotFound is returned when no clinic matches the given ID.
var ErrClinicNotFound = errors.New("clinic not found")

// Repository defines read-only access to clinic data.
type Repository interface {
	GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new clinic repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetClinic(ctx context.Context, id uuid.UUID) (*Clinic, error) {
	var c Clinic
	err := r.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrClinicNotFound
		}
		return nil, fmt.Errorf("get clinic: %w", err)
	}
	return &c, nil
}
