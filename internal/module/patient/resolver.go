package patient

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Resolver finds or creates a patient record for a clinic. Used by the
// refund handler to backfill patient linkage on payments that predate
// patient tracking.
type Resolver struct {
	repo   Repository
	logger *zap.Logger
}

// NewResolver creates a new patient resolver.
func NewResolver(repo Repository, logger *zap.Logger) *Resolver {
	return &Resolver{repo: repo, logger: logger}
}

// Resolve looks up a patient by (clinic, email), then by (clinic,
// normalized phone), and creates a new record when neither matches.
// At least one of email or phone must be present.
func (r *Resolver) Resolve(ctx context.Context, clinicID uuid.UUID, name, email, phone string) (*Patient, error) {
	normalizedPhone := NormalizePhone(phone)

	if email == "" && normalizedPhone == "" {
		return nil, errors.New("no contact details to resolve patient by")
	}

	if email != "" {
		p, err := r.repo.FindByEmail(ctx, clinicID, email)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
	}

	if normalizedPhone != "" {
		p, err := r.repo.FindByPhone(ctx, clinicID, normalizedPhone)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrPatientNotFound) {
			return nil, err
		}
	}

	p := &Patient{
		ID:       uuid.New(),
		ClinicID: clinicID,
		Name:     name,
		Email:    email,
		Phone:    normalizedPhone,
	}
	if err := r.repo.CreatePatient(ctx, p); err != nil {
		return nil, fmt.Errorf("create patient: %w", err)
	}

	r.logger.Info("created patient record",
		zap.String("patient_id", p.ID.String()),
		zap.String("clinic_id", clinicID.String()),
	)
	return p, nil
}
