package catalog

import (
	"time"

	"github.com/google/uuid"
)

// Dose schedule statuses. The dose number on a schedule row never changes;
// a doctor reschedule moves the date on the existing row.
const (
	DoseScheduled = "SCHEDULED"
	DoseCompleted = "COMPLETED"
	DoseMissed    = "MISSED"
	DosePostponed = "POSTPONED"
)

// Selectable request types accepted by the resolver.
const (
	RequestNewVaccine  = "NEW_VACCINE"
	RequestNextDose    = "NEXT_DOSE"
	RequestVaccineCombo = "VACCINE_COMBO"
)

// VaccineCatalogItem maps to the vaccine_catalog_item table. Prices are in
// integer minor units.
type VaccineCatalogItem struct {
	ID          uuid.UUID `db:"id" json:"id"`
	Code        string    `db:"code" json:"code"`
	Name        string    `db:"name" json:"name"`
	Price       int64     `db:"price" json:"price"`
	TotalDoses  int       `db:"total_doses" json:"total_doses"`
	Description *string   `db:"description" json:"description,omitempty"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// VaccineCombo maps to the vaccine_combo table: a bundle of catalog items
// sold at one combined price.
type VaccineCombo struct {
	ID          uuid.UUID   `db:"id" json:"id"`
	Name        string      `db:"name" json:"name"`
	Price       int64       `db:"price" json:"price"`
	Description *string     `db:"description" json:"description,omitempty"`
	Active      bool        `db:"active" json:"active"`
	VaccineIDs  []uuid.UUID `db:"-" json:"vaccine_ids"`
	CreatedAt   time.Time   `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at" json:"updated_at"`
}

// VaccineOfChild maps to the vaccine_of_child table: one child's progress
// through one vaccine's dose series.
type VaccineOfChild struct {
	ID          uuid.UUID `db:"id" json:"id"`
	ChildID     uuid.UUID `db:"child_id" json:"child_id"`
	VaccineID   uuid.UUID `db:"vaccine_id" json:"vaccine_id"`
	CurrentDose int       `db:"current_dose" json:"current_dose"`
	TotalDoses  int       `db:"total_doses" json:"total_doses"`
	Completed   bool      `db:"completed" json:"completed"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// DoseSchedule maps to the dose_schedule table: one planned dose of a
// child's series. Prepaid doses were covered by a combo purchase and must
// not be charged again.
type DoseSchedule struct {
	ID               uuid.UUID `db:"id" json:"id"`
	VaccineOfChildID uuid.UUID `db:"vaccine_of_child_id" json:"vaccine_of_child_id"`
	DoseNumber       int       `db:"dose_number" json:"dose_number"`
	ScheduledDate    time.Time `db:"scheduled_date" json:"scheduled_date"`
	Status           string    `db:"status" json:"status"`
	Prepaid          bool      `db:"prepaid" json:"prepaid"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Selectable is one option the resolver offers for a booking request. The
// populated fields depend on Kind.
type Selectable struct {
	Kind string `json:"kind"`

	// NEW_VACCINE
	VaccineID  *uuid.UUID `json:"vaccine_id,omitempty"`
	Code       string     `json:"code,omitempty"`
	Name       string     `json:"name"`
	TotalDoses int        `json:"total_doses,omitempty"`

	// NEXT_DOSE
	VaccineOfChildID *uuid.UUID `json:"vaccine_of_child_id,omitempty"`
	DoseScheduleID   *uuid.UUID `json:"dose_schedule_id,omitempty"`
	DoseNumber       int        `json:"dose_number,omitempty"`
	ScheduledDate    *time.Time `json:"scheduled_date,omitempty"`
	Prepaid          bool       `json:"prepaid"`

	// VACCINE_COMBO
	ComboID    *uuid.UUID  `json:"combo_id,omitempty"`
	VaccineIDs []uuid.UUID `json:"vaccine_ids,omitempty"`

	// Price the item would be charged at, zero for prepaid doses.
	Price int64 `json:"price"`
}
