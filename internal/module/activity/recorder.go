package activity

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Repository defines insert-only access to the activity log.
type Repository interface {
	CreateActivity(ctx context.Context, a *Activity) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository creates a new activity repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) CreateActivity(ctx context.Context, a *Activity) error {
	if err := r.db.WithContext(ctx).Create(a).Error; err != nil {
		return fmt.Errorf("create activity: %w", err)
	}
	return nil
}

// Recorder appends audit entries. Recording is best-effort from the
// callers' perspective; a failed append is logged, never propagated.
type Recorder struct {
	repo   Repository
	logger *zap.Logger
}

// NewRecorder creates a new activity recorder.
func NewRecorder(repo Repository, logger *zap.Logger) *Recorder {
	return &Recorder{repo: repo, logger: logger}
}

// Entry describes an audit event to record.
type Entry struct {
	ClinicID      uuid.UUID
	PatientID     *uuid.UUID
	PaymentLinkID *uuid.UUID
	PlanID        *uuid.UUID
	ActionType    ActionType
	Details       map[string]any
}

// Record appends an audit entry. Returns the error for callers that want
// to track it as a degraded step; the entry itself is never retried.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("marshal activity details: %w", err)
	}

	a := &Activity{
		ID:            uuid.New(),
		ClinicID:      e.ClinicID,
		PatientID:     e.PatientID,
		PaymentLinkID: e.PaymentLinkID,
		PlanID:        e.PlanID,
		ActionType:    e.ActionType,
		Details:       string(details),
	}
	if err := r.repo.CreateActivity(ctx, a); err != nil {
		r.logger.Error("failed to record activity",
			zap.String("action_type", string(e.ActionType)),
			zap.Error(err),
		)
		return err
	}
	return nil
}
