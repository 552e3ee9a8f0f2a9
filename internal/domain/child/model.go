package child

import (
	"time"

	"github.com/google/uuid"
)

// Child maps to the child table. Rows are owned by a guardian account and
// read-only from the visit workflow's side.
type Child struct {
	ID          uuid.UUID `db:"id" json:"id"`
	FullName    string    `db:"full_name" json:"full_name"`
	DateOfBirth time.Time `db:"date_of_birth" json:"date_of_birth"`
	Gender      string    `db:"gender" json:"gender"`
	GuardianID  uuid.UUID `db:"guardian_id" json:"guardian_id"`
	Notes       *string   `db:"notes" json:"notes,omitempty"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// AgeInMonths returns the child's age in whole months at the given time.
func (c *Child) AgeInMonths(at time.Time) int {
	months := (at.Year()-c.DateOfBirth.Year())*12 + int(at.Month()) - int(c.DateOfBirth.Month())
	if at.Day() < c.DateOfBirth.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}
