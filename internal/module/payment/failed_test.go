package payment

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicpay/server/internal/module/activity"
	"github.com/clinicpay/server/internal/module/clinic"
	"github.com/clinicpay/server/internal/module/notification"
)

type failedFixture struct {
	handler       *FailedHandler
	clinics       *MockClinicRepository
	notifications *MockNotificationRepository
	activities    *MockActivityRepository
	clinicID      uuid.UUID
}

func newFailedFixture(t *testing.T) *failedFixture {
	t.Helper()
	log := zap.NewNop()

	clinics := NewMockClinicRepository()
	notifications := &MockNotificationRepository{}
	activities := &MockActivityRepository{}

	clinicID := uuid.New()
	clinics.clinics[clinicID] = &clinic.Clinic{
		ID:            clinicID,
		Name:          "Harley Street Dental",
		Email:         "reception@harleydental.example",
		NotifyByEmail: true,
	}

	return &failedFixture{
		handler: NewFailedHandler(
			clinics,
			notification.NewEnqueuer(notifications, nil, log),
			activity.NewRecorder(activities, log),
			nil,
			log,
		),
		clinics:       clinics,
		notifications: notifications,
		activities:    activities,
		clinicID:      clinicID,
	}
}

func TestFailedEnqueuesPatientNotification(t *testing.T) {
	f := newFailedFixture(t)

	out, err := f.handler.Handle(context.Background(), FailedEvent{
		PaymentIntentID: "pi_fail_1",
		Amount:          5000,
		Currency:        "gbp",
		FailureCode:     "card_declined",
		FailureMessage:  "Your card was declined.",
		Metadata: map[string]string{
			"clinicId":     f.clinicID.String(),
			"patientEmail": "jo@example.com",
		},
	})
	require.NoError(t, err)
	assert.True(t, out.Processed)
	assert.Empty(t, out.Degraded)

	require.Len(t, f.notifications.entries, 1)
	entry := f.notifications.entries[0]
	assert.Equal(t, notification.TypePaymentFailed, entry.Type)
	assert.Equal(t, notification.RecipientPatient, entry.RecipientType)
	assert.Contains(t, entry.Payload, "Your card was declined.")
	assert.Contains(t, entry.Payload, `"amount":5000`)

	require.Len(t, f.activities.entries, 1)
	assert.Equal(t, activity.ActionPaymentFailed, f.activities.entries[0].ActionType)
}

func TestFailedNeverPropagatesErrors(t *testing.T) {
	f := newFailedFixture(t)

	tests := []struct {
		name     string
		metadata map[string]string
	}{
		{"missing clinic id", map[string]string{}},
		{"unknown clinic", map[string]string{"clinicId": uuid.New().String()}},
		{"malformed clinic id", map[string]string{"clinicId": "not-a-uuid"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := f.handler.Handle(context.Background(), FailedEvent{
				PaymentIntentID: "pi_fail_2",
				Amount:          5000,
				Metadata:        tt.metadata,
			})
			require.NoError(t, err)
			assert.True(t, out.Processed)
			assert.NotEmpty(t, out.Degraded)
		})
	}
}

func TestFailedWritesNoLedgerRows(t *testing.T) {
	f := newFailedFixture(t)

	_, err := f.handler.Handle(context.Background(), FailedEvent{
		PaymentIntentID: "pi_fail_3",
		Amount:          5000,
		Metadata:        map[string]string{"clinicId": f.clinicID.String()},
	})
	require.NoError(t, err)

	// The failure handler has no payment repository at all; the only
	// writes it can make are the audit entry and the notification.
	assert.Len(t, f.activities.entries, 1)
	assert.Len(t, f.notifications.entries, 1)
}
