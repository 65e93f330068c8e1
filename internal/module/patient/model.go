package patient

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Patient represents a patient known to a clinic.
type Patient struct {
	ID       uuid.UUID `json:"id" gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	ClinicID uuid.UUID `json:"clinic_id" gorm:"type:uuid;not null;index"`
	Name     string    `json:"name"`
	Email    string    `json:"email" gorm:"index"`
	// Phone is stored digits-only; see NormalizePhone.
	Phone string `json:"phone" gorm:"index"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Patient) TableName() string {
	return "patients"
}

// NormalizePhone strips every non-digit character so "+44 7700 900123",
// "07700-900123" and "07700 900123" compare and store identically.
func NormalizePhone(phone string) string {
	var b strings.Builder
	b.Grow(len(phone))
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
