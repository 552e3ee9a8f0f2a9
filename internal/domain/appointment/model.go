package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
)

// Visit statuses.
const (
	StatusScheduled       = "SCHEDULED"
	StatusAwaitingPayment = "AWAITING_PAYMENT"
	StatusCheckedIn       = "CHECKED_IN"
	StatusWithDoctor      = "WITH_DOCTOR"
	StatusWithNurse       = "WITH_NURSE"
	StatusInObservation   = "IN_OBSERVATION"
	StatusCompleted       = "COMPLETED"
	StatusCancelled       = "CANCELLED"
)

// Line item kinds.
const (
	KindNewVaccine   = "NEW_VACCINE"
	KindNextDose     = "NEXT_DOSE"
	KindVaccineCombo = "VACCINE_COMBO"
)

// Line item approval states.
const (
	ItemPending    = "PENDING"
	ItemApproved   = "APPROVED"
	ItemRejected   = "REJECTED"
	ItemVaccinated = "VACCINATED"
)

// Payment methods.
const (
	MethodOnline  = "ONLINE"
	MethodOffline = "OFFLINE"
	MethodCash    = "CASH"
)

// Appointment is the aggregate root of one clinic visit. Version backs the
// compare-and-swap on every status write.
type Appointment struct {
	ID            uuid.UUID             `db:"id" json:"id"`
	ChildID       uuid.UUID             `db:"child_id" json:"child_id"`
	ScheduledDate time.Time             `db:"scheduled_date" json:"scheduled_date"`
	TimeSlot      string                `db:"time_slot" json:"time_slot"`
	DoctorID      *uuid.UUID            `db:"doctor_id" json:"doctor_id,omitempty"`
	Status        string                `db:"status" json:"status"`
	Paid          bool                  `db:"paid" json:"paid"`
	PaymentMethod string                `db:"payment_method" json:"payment_method"`
	Notes         *string               `db:"notes" json:"notes,omitempty"`
	CancelReason  *string               `db:"cancel_reason" json:"cancel_reason,omitempty"`
	Version       int                   `db:"version" json:"version"`
	Items         []*AppointmentVaccine `db:"-" json:"items"`
	CreatedAt     time.Time             `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time             `db:"updated_at" json:"updated_at"`
}

// AppointmentVaccine is one line item of a visit, a tagged union by Kind:
// NEW_VACCINE carries vaccine_id + dose_number, NEXT_DOSE carries
// vaccine_of_child_id + dose_schedule_id + dose_number, VACCINE_COMBO
// carries combo_id. Price is snapshotted at booking; catalog changes never
// alter it.
type AppointmentVaccine struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	Kind          string    `db:"kind" json:"kind"`

	VaccineID        *uuid.UUID `db:"vaccine_id" json:"vaccine_id,omitempty"`
	DoseNumber       int        `db:"dose_number" json:"dose_number,omitempty"`
	VaccineOfChildID *uuid.UUID `db:"vaccine_of_child_id" json:"vaccine_of_child_id,omitempty"`
	DoseScheduleID   *uuid.UUID `db:"dose_schedule_id" json:"dose_schedule_id,omitempty"`
	ComboID          *uuid.UUID `db:"combo_id" json:"combo_id,omitempty"`

	Price   int64  `db:"price" json:"price"`
	Prepaid bool   `db:"prepaid" json:"prepaid"`
	Status  string `db:"status" json:"status"`

	HealthRecordID      *uuid.UUID `db:"health_record_id" json:"health_record_id,omitempty"`
	VaccinationRecordID *uuid.UUID `db:"vaccination_record_id" json:"vaccination_record_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ValidateKind checks the tagged union exhaustively: every kind requires
// its type-specific ids and nothing else decides validity.
func (v *AppointmentVaccine) ValidateKind() error {
	switch v.Kind {
	case KindNewVaccine:
		if v.VaccineID == nil {
			return apperr.New(apperr.Validation, "NEW_VACCINE item requires vaccine_id")
		}
		if v.DoseNumber < 1 {
			return apperr.New(apperr.Validation, "NEW_VACCINE item requires a positive dose_number")
		}
	case KindNextDose:
		if v.VaccineOfChildID == nil {
			return apperr.New(apperr.Validation, "NEXT_DOSE item requires vaccine_of_child_id")
		}
		if v.DoseScheduleID == nil {
			return apperr.New(apperr.Validation, "NEXT_DOSE item requires dose_schedule_id")
		}
		if v.DoseNumber < 1 {
			return apperr.New(apperr.Validation, "NEXT_DOSE item requires a positive dose_number")
		}
	case KindVaccineCombo:
		if v.ComboID == nil {
			return apperr.New(apperr.Validation, "VACCINE_COMBO item requires combo_id")
		}
	default:
		return apperr.New(apperr.Validation, "unknown line item kind: %s", v.Kind)
	}
	return nil
}

// TotalDue is the sum of line item price snapshots. Prepaid doses carry a
// zero snapshot, so they never re-charge.
func (a *Appointment) TotalDue() int64 {
	var sum int64
	for _, it := range a.Items {
		sum += it.Price
	}
	return sum
}

// AllItemsDecided reports whether every line item left PENDING.
func (a *Appointment) AllItemsDecided() bool {
	for _, it := range a.Items {
		if it.Status == ItemPending {
			return false
		}
	}
	return len(a.Items) > 0
}

// HealthRecord is the doctor's pre-vaccination assessment of one line
// item. Created once, immutable afterwards.
type HealthRecord struct {
	ID              uuid.UUID `db:"id" json:"id"`
	ItemID          uuid.UUID `db:"appointment_vaccine_id" json:"appointment_vaccine_id"`
	DoctorID        uuid.UUID `db:"doctor_id" json:"doctor_id"`
	TemperatureC    float64   `db:"temperature_c" json:"temperature_c"`
	WeightKg        float64   `db:"weight_kg" json:"weight_kg"`
	HeartRate       int       `db:"heart_rate" json:"heart_rate"`
	Notes           *string   `db:"notes" json:"notes,omitempty"`
	Approved        bool      `db:"approved" json:"approved"`
	RejectionReason *string   `db:"rejection_reason" json:"rejection_reason,omitempty"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// VaccinationRecord is the nurse's administration record of one approved
// line item. AdministeredAt anchors the observation window.
type VaccinationRecord struct {
	ID             uuid.UUID `db:"id" json:"id"`
	ItemID         uuid.UUID `db:"appointment_vaccine_id" json:"appointment_vaccine_id"`
	NurseID        uuid.UUID `db:"nurse_id" json:"nurse_id"`
	BatchNumber    string    `db:"batch_number" json:"batch_number"`
	ExpiryDate     time.Time `db:"expiry_date" json:"expiry_date"`
	InjectionSite  string    `db:"injection_site" json:"injection_site"`
	Route          string    `db:"route" json:"route"`
	DoseAmountML   float64   `db:"dose_amount_ml" json:"dose_amount_ml"`
	AdministeredAt time.Time `db:"administered_at" json:"administered_at"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// PostCareRecord closes the observation stage of a visit.
type PostCareRecord struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	StaffID       uuid.UUID `db:"staff_id" json:"staff_id"`
	Observations  string    `db:"observations" json:"observations"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// StatusHistory records one visit-status transition.
type StatusHistory struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AppointmentID uuid.UUID `db:"appointment_id" json:"appointment_id"`
	FromStatus    string    `db:"from_status" json:"from_status"`
	ToStatus      string    `db:"to_status" json:"to_status"`
	ChangedBy     string    `db:"changed_by" json:"changed_by"`
	Reason        *string   `db:"reason" json:"reason,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}
