package clinic

import (
	"time"

	"github.com/google/uuid"
)

// Clinic represents a practice collecting payments through the platform.
// The webhook core only ever reads clinics; registration and settings
// management live in the dashboard service.
type Clinic struct {
	ID    uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	Name  string    `json:"name" gorm:"not null"`
	Email string    `json:"email"`
	Phone string    `json:"phone"`

	// Notification preferences for clinic-facing messages.
	NotifyByEmail bool `json:"notify_by_email" gorm:"default:true"`
	NotifyBySMS   bool `json:"notify_by_sms" gorm:"default:false"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Clinic) TableName() string {
	return "clinics"
}
