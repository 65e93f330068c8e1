package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/utils/metrics"
)

// ClinicPreferences carries the clinic-level notification settings that
// gate clinic-facing delivery channels.
type ClinicPreferences struct {
	NotifyByEmail bool
	NotifyBySMS   bool
}

// Message describes one notification to enqueue.
type Message struct {
	Type          string
	RecipientType RecipientType
	Patient       ContactInfo
	Clinic        ContactInfo
	ClinicPrefs   ClinicPreferences
	Payment       PaymentDetails
	PaymentID     *uuid.UUID
	ClinicID      uuid.UUID
}

// Enqueuer builds normalized notification payloads and inserts them into
// the queue table. It never performs delivery; the dispatcher service
// drains the queue independently.
type Enqueuer struct {
	repo    Repository
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewEnqueuer creates a new notification enqueuer.
func NewEnqueuer(repo Repository, m *metrics.Metrics, logger *zap.Logger) *Enqueuer {
	return &Enqueuer{repo: repo, metrics: m, logger: logger}
}

// Enqueue builds the payload for a single recipient and inserts one queue
// row. Each recipient is enqueued independently; a failure here must not
// stop the caller from enqueuing the other recipient.
func (e *Enqueuer) Enqueue(ctx context.Context, msg Message) error {
	payload := Payload{
		NotificationType:      msg.Type,
		NotificationMethod:    methodFor(msg),
		Patient:               msg.Patient,
		Payment:               msg.Payment,
		Clinic:                msg.Clinic,
		MonetaryValuesInPence: true,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal notification payload: %w", err)
	}

	entry := &QueueEntry{
		ID:            uuid.New(),
		Type:          msg.Type,
		RecipientType: msg.RecipientType,
		Payload:       string(body),
		PaymentID:     msg.PaymentID,
		ClinicID:      msg.ClinicID,
		Status:        "pending",
	}

	err = e.repo.CreateEntry(ctx, entry)
	e.metrics.ObserveNotificationEnqueued(string(msg.RecipientType), err)
	if err != nil {
		e.logger.Error("failed to enqueue notification",
			zap.String("type", msg.Type),
			zap.String("recipient", string(msg.RecipientType)),
			zap.Error(err),
		)
		return err
	}

	e.logger.Debug("notification enqueued",
		zap.String("type", msg.Type),
		zap.String("recipient", string(msg.RecipientType)),
	)
	return nil
}

// methodFor derives the delivery channel flags. Patient-facing messages
// use whichever patient contact channels exist; clinic-facing messages
// additionally respect the clinic's notification preferences.
func methodFor(msg Message) Method {
	switch msg.RecipientType {
	case RecipientClinic:
		return Method{
			Email: msg.ClinicPrefs.NotifyByEmail && msg.Clinic.Email != "",
			SMS:   msg.ClinicPrefs.NotifyBySMS && msg.Clinic.Phone != "",
		}
	default:
		return Method{
			Email: msg.Patient.Email != "",
			SMS:   msg.Patient.Phone != "",
		}
	}
}
