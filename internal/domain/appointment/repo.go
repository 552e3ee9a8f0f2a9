package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ListFilter narrows appointment listings.
type ListFilter struct {
	ChildID  *uuid.UUID
	DoctorID *uuid.UUID
	Status   string
	Date     *time.Time
}

// StatusUpdate is one compare-and-swap write against the aggregate. The
// write succeeds only when the stored version still equals Version; the
// repository reports a lost race as a Conflict error.
type StatusUpdate struct {
	ID           uuid.UUID
	Version      int
	NewStatus    string
	DoctorID     *uuid.UUID
	CancelReason *string
}

type Repository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) error
	MarkPaid(ctx context.Context, id uuid.UUID, method string) (bool, error)

	GetItem(ctx context.Context, itemID uuid.UUID) (*AppointmentVaccine, error)
	UpdateItemStatus(ctx context.Context, itemID uuid.UUID, from, to string, healthRecordID, vaccinationRecordID *uuid.UUID) error

	CreateHealthRecord(ctx context.Context, hr *HealthRecord) error
	CreateVaccinationRecord(ctx context.Context, vr *VaccinationRecord) error
	ListVaccinationRecords(ctx context.Context, appointmentID uuid.UUID) ([]*VaccinationRecord, error)
	CreatePostCareRecord(ctx context.Context, pc *PostCareRecord) error

	AddStatusHistory(ctx context.Context, h *StatusHistory) error
	ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]*StatusHistory, error)
}
