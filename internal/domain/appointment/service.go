package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
	"github.com/vaxflow/vaxflow/internal/platform/clock"
	"github.com/vaxflow/vaxflow/internal/platform/webhook"
)

// CatalogSource is what the workflow needs from the vaccine catalog:
// price snapshots at booking and series advancement at administration.
// Implemented by the catalog service, wired in main.
type CatalogSource interface {
	PriceForNewVaccine(ctx context.Context, vaccineID uuid.UUID) (int64, error)
	PriceForDose(ctx context.Context, doseScheduleID uuid.UUID) (int64, bool, error)
	PriceForCombo(ctx context.Context, comboID uuid.UUID) (int64, error)
	AdministerNewVaccine(ctx context.Context, childID, vaccineID uuid.UUID) error
	AdministerNextDose(ctx context.Context, vaccineOfChildID, doseScheduleID uuid.UUID) error
	AdministerCombo(ctx context.Context, childID, comboID uuid.UUID) error
}

type Service struct {
	repo    Repository
	catalog CatalogSource
	events  *webhook.Manager
	clk     clock.Clock
}

func NewService(repo Repository, catalog CatalogSource, events *webhook.Manager, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{repo: repo, catalog: catalog, events: events, clk: clk}
}

// ItemRequest is one requested line item, typed by kind.
type ItemRequest struct {
	Kind             string     `json:"kind"`
	VaccineID        *uuid.UUID `json:"vaccine_id,omitempty"`
	DoseNumber       int        `json:"dose_number,omitempty"`
	VaccineOfChildID *uuid.UUID `json:"vaccine_of_child_id,omitempty"`
	DoseScheduleID   *uuid.UUID `json:"dose_schedule_id,omitempty"`
	ComboID          *uuid.UUID `json:"combo_id,omitempty"`
}

// CreateRequest carries everything a booking needs.
type CreateRequest struct {
	ChildID       uuid.UUID     `json:"child_id"`
	DoctorID      *uuid.UUID    `json:"doctor_id,omitempty"`
	ScheduledDate time.Time     `json:"scheduled_date"`
	TimeSlot      string        `json:"time_slot"`
	PaymentMethod string        `json:"payment_method"`
	Notes         *string       `json:"notes,omitempty"`
	Items         []ItemRequest `json:"items"`
}

var validMethods = map[string]bool{MethodOnline: true, MethodOffline: true, MethodCash: true}

// Create books a new visit. Line item prices are snapshotted from the
// catalog here and never change afterwards; prepaid next doses snapshot
// zero.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Appointment, error) {
	if req.ChildID == uuid.Nil {
		return nil, apperr.New(apperr.Validation, "child_id is required")
	}
	if req.ScheduledDate.IsZero() {
		return nil, apperr.New(apperr.Validation, "scheduled_date is required")
	}
	if len(req.Items) == 0 {
		return nil, apperr.New(apperr.Validation, "select at least one vaccine")
	}
	if !validMethods[req.PaymentMethod] {
		return nil, apperr.New(apperr.Validation, "invalid payment method: %s", req.PaymentMethod)
	}

	a := &Appointment{
		ChildID:       req.ChildID,
		ScheduledDate: req.ScheduledDate,
		TimeSlot:      req.TimeSlot,
		DoctorID:      req.DoctorID,
		Status:        StatusScheduled,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	}

	for _, ir := range req.Items {
		item := &AppointmentVaccine{
			Kind:             ir.Kind,
			VaccineID:        ir.VaccineID,
			DoseNumber:       ir.DoseNumber,
			VaccineOfChildID: ir.VaccineOfChildID,
			DoseScheduleID:   ir.DoseScheduleID,
			ComboID:          ir.ComboID,
			Status:           ItemPending,
		}
		if err := item.ValidateKind(); err != nil {
			return nil, err
		}

		switch item.Kind {
		case KindNewVaccine:
			price, err := s.catalog.PriceForNewVaccine(ctx, *item.VaccineID)
			if err != nil {
				return nil, err
			}
			item.Price = price
		case KindNextDose:
			price, prepaid, err := s.catalog.PriceForDose(ctx, *item.DoseScheduleID)
			if err != nil {
				return nil, err
			}
			item.Price = price
			item.Prepaid = prepaid
		case KindVaccineCombo:
			price, err := s.catalog.PriceForCombo(ctx, *item.ComboID)
			if err != nil {
				return nil, err
			}
			item.Price = price
		}
		a.Items = append(a.Items, item)
	}

	if err := s.repo.Create(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StatusHistory, error) {
	return s.repo.ListStatusHistory(ctx, id)
}

// transition performs one guarded compare-and-swap status move. A lost
// race is retried once against fresh state, then surfaced as Conflict.
func (s *Service) transition(ctx context.Context, a *Appointment, to, actor string, doctorID *uuid.UUID, reason *string) (*Appointment, error) {
	if err := guardTransition(a.Status, to); err != nil {
		return nil, err
	}
	from := a.Status

	u := StatusUpdate{ID: a.ID, Version: a.Version, NewStatus: to, DoctorID: doctorID, CancelReason: reason}
	err := s.repo.UpdateStatus(ctx, u)
	if apperr.IsKind(err, apperr.Conflict) {
		fresh, gerr := s.repo.GetByID(ctx, a.ID)
		if gerr != nil {
			return nil, gerr
		}
		if gerr := guardTransition(fresh.Status, to); gerr != nil {
			return nil, gerr
		}
		from = fresh.Status
		u.Version = fresh.Version
		err = s.repo.UpdateStatus(ctx, u)
	}
	if err != nil {
		return nil, err
	}

	if herr := s.repo.AddStatusHistory(ctx, &StatusHistory{
		AppointmentID: a.ID,
		FromStatus:    from,
		ToStatus:      to,
		ChangedBy:     actor,
		Reason:        reason,
	}); herr != nil {
		return nil, herr
	}

	s.events.Publish(ctx, webhook.EventAppointmentStatusChanged, "Appointment", a.ID.String(),
		map[string]interface{}{"appointment_id": a.ID, "from": from, "to": to})

	return s.repo.GetByID(ctx, a.ID)
}

// CheckIn moves a scheduled visit forward: paid visits go straight to
// CHECKED_IN, unpaid ones wait at AWAITING_PAYMENT.
func (s *Service) CheckIn(ctx context.Context, id uuid.UUID, actor string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	to := StatusAwaitingPayment
	if a.Paid {
		to = StatusCheckedIn
	}
	return s.transition(ctx, a, to, actor, nil, nil)
}

// Claim assigns the appointment to the acting doctor and moves it to
// WITH_DOCTOR.
func (s *Service) Claim(ctx context.Context, id, doctorID uuid.UUID, actor string) (*Appointment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.transition(ctx, a, StatusWithDoctor, actor, &doctorID, nil)
}

// DoctorQueue lists checked-in visits waiting for a doctor.
func (s *Service) DoctorQueue(ctx context.Context, limit, offset int) ([]*Appointment, int, error) {
	return s.repo.List(ctx, ListFilter{Status: StatusCheckedIn}, limit, offset)
}

// Cancel moves any non-terminal visit to CANCELLED with a reason.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, reason, actor string) (*Appointment, error) {
	if reason == "" {
		return nil, apperr.New(apperr.Validation, "a cancellation reason is required")
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if IsTerminal(a.Status) {
		return nil, apperr.New(apperr.Precondition, "appointment is already %s", a.Status)
	}
	return s.transition(ctx, a, StatusCancelled, actor, nil, &reason)
}

// HealthRecordInput is the doctor's assessment of one line item.
type HealthRecordInput struct {
	TemperatureC    float64 `json:"temperature_c"`
	WeightKg        float64 `json:"weight_kg"`
	HeartRate       int     `json:"heart_rate"`
	Notes           *string `json:"notes,omitempty"`
	Approved        bool    `json:"approved"`
	RejectionReason *string `json:"rejection_reason,omitempty"`
}

// SubmitHealthRecord records the doctor's decision on a pending line item.
// Exactly one health record per item; the decision is immutable. When the
// last pending item is decided the visit moves to WITH_NURSE.
func (s *Service) SubmitHealthRecord(ctx context.Context, itemID uuid.UUID, in HealthRecordInput, doctorID uuid.UUID, actor string) (*HealthRecord, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "line item %s not found", itemID)
	}
	a, err := s.repo.GetByID(ctx, item.AppointmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusWithDoctor {
		return nil, apperr.New(apperr.Precondition, "appointment is %s, doctor actions require %s", a.Status, StatusWithDoctor)
	}
	if item.Status != ItemPending {
		return nil, apperr.New(apperr.Precondition, "line item %s already decided: %s", itemID, item.Status)
	}
	if !in.Approved && (in.RejectionReason == nil || *in.RejectionReason == "") {
		return nil, apperr.New(apperr.Validation, "a rejection requires a reason")
	}

	hr := &HealthRecord{
		ItemID:          itemID,
		DoctorID:        doctorID,
		TemperatureC:    in.TemperatureC,
		WeightKg:        in.WeightKg,
		HeartRate:       in.HeartRate,
		Notes:           in.Notes,
		Approved:        in.Approved,
		RejectionReason: in.RejectionReason,
	}
	if err := s.repo.CreateHealthRecord(ctx, hr); err != nil {
		return nil, err
	}

	to := ItemApproved
	if !in.Approved {
		to = ItemRejected
	}
	if err := s.repo.UpdateItemStatus(ctx, itemID, ItemPending, to, &hr.ID, nil); err != nil {
		return nil, err
	}

	a, err = s.repo.GetByID(ctx, item.AppointmentID)
	if err != nil {
		return nil, err
	}
	if a.AllItemsDecided() {
		if _, err := s.transition(ctx, a, StatusWithNurse, actor, nil, nil); err != nil {
			return nil, err
		}
	}
	return hr, nil
}

// VaccinationInput is the nurse's administration record.
type VaccinationInput struct {
	BatchNumber   string    `json:"batch_number"`
	ExpiryDate    time.Time `json:"expiry_date"`
	InjectionSite string    `json:"injection_site"`
	Route         string    `json:"route"`
	DoseAmountML  float64   `json:"dose_amount_ml"`
}

// RecordVaccination administers one approved line item. The first
// administration moves the visit into observation; remaining approved
// items can still be given while the child is observed.
func (s *Service) RecordVaccination(ctx context.Context, itemID uuid.UUID, in VaccinationInput, nurseID uuid.UUID, actor string) (*VaccinationRecord, error) {
	if in.BatchNumber == "" {
		return nil, apperr.New(apperr.Validation, "batch_number is required")
	}
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "line item %s not found", itemID)
	}
	a, err := s.repo.GetByID(ctx, item.AppointmentID)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusWithNurse && a.Status != StatusInObservation {
		return nil, apperr.New(apperr.Precondition, "appointment is %s, administration requires %s or %s",
			a.Status, StatusWithNurse, StatusInObservation)
	}
	if item.Status != ItemApproved {
		return nil, apperr.New(apperr.Precondition, "line item %s is %s, only %s items can be administered",
			itemID, item.Status, ItemApproved)
	}

	vr := &VaccinationRecord{
		ItemID:         itemID,
		NurseID:        nurseID,
		BatchNumber:    in.BatchNumber,
		ExpiryDate:     in.ExpiryDate,
		InjectionSite:  in.InjectionSite,
		Route:          in.Route,
		DoseAmountML:   in.DoseAmountML,
		AdministeredAt: s.clk.Now(),
	}
	if err := s.repo.CreateVaccinationRecord(ctx, vr); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateItemStatus(ctx, itemID, ItemApproved, ItemVaccinated, nil, &vr.ID); err != nil {
		return nil, err
	}

	switch item.Kind {
	case KindNewVaccine:
		err = s.catalog.AdministerNewVaccine(ctx, a.ChildID, *item.VaccineID)
	case KindNextDose:
		err = s.catalog.AdministerNextDose(ctx, *item.VaccineOfChildID, *item.DoseScheduleID)
	case KindVaccineCombo:
		err = s.catalog.AdministerCombo(ctx, a.ChildID, *item.ComboID)
	}
	if err != nil {
		return nil, err
	}

	if a.Status == StatusWithNurse {
		if _, err := s.transition(ctx, a, StatusInObservation, actor, nil, nil); err != nil {
			return nil, err
		}
	}
	return vr, nil
}

// ObservationView is the per-read derivation of the discharge gate.
type ObservationView struct {
	AppointmentID        uuid.UUID  `json:"appointment_id"`
	Status               string     `json:"status"`
	LastAdministeredAt   *time.Time `json:"last_administered_at,omitempty"`
	TimeRemainingSeconds int64      `json:"time_remaining_seconds"`
	Dischargeable        bool       `json:"dischargeable"`
}

// Observation recomputes the discharge gate from the appointment's
// vaccination records and the current clock.
func (s *Service) Observation(ctx context.Context, id uuid.UUID) (*ObservationView, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	records, err := s.repo.ListVaccinationRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	gate := DeriveGate(records, s.clk.Now())

	view := &ObservationView{
		AppointmentID:        a.ID,
		Status:               a.Status,
		TimeRemainingSeconds: int64(gate.TimeRemaining.Seconds()),
		Dischargeable:        gate.Dischargeable,
	}
	if !gate.LastAdministeredAt.IsZero() {
		t := gate.LastAdministeredAt
		view.LastAdministeredAt = &t
	}
	return view, nil
}

// RecordPostCare closes the visit. Blocked until the observation window
// has elapsed since the last administration.
func (s *Service) RecordPostCare(ctx context.Context, id uuid.UUID, observations string, staffID uuid.UUID, actor string) (*PostCareRecord, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Status != StatusInObservation {
		return nil, apperr.New(apperr.Precondition, "appointment is %s, post-care requires %s", a.Status, StatusInObservation)
	}

	records, err := s.repo.ListVaccinationRecords(ctx, id)
	if err != nil {
		return nil, err
	}
	gate := DeriveGate(records, s.clk.Now())
	if !gate.Dischargeable {
		return nil, apperr.New(apperr.Precondition,
			"observation window still open: %d seconds remaining", int64(gate.TimeRemaining.Seconds()))
	}

	pc := &PostCareRecord{AppointmentID: id, StaffID: staffID, Observations: observations}
	if err := s.repo.CreatePostCareRecord(ctx, pc); err != nil {
		return nil, err
	}
	if _, err := s.transition(ctx, a, StatusCompleted, actor, nil, nil); err != nil {
		return nil, err
	}
	return pc, nil
}

// OutstandingAmount is the total the payment engine should charge: the sum
// of line item snapshots, zero once settled.
func (s *Service) OutstandingAmount(ctx context.Context, id uuid.UUID) (int64, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return 0, err
	}
	if a.Paid {
		return 0, apperr.New(apperr.Precondition, "appointment %s is already paid", id)
	}
	return a.TotalDue(), nil
}

// MarkPaid applies the monotonic paid flag. Re-application is an
// idempotent no-op ack. The first application advances AWAITING_PAYMENT
// visits to CHECKED_IN.
func (s *Service) MarkPaid(ctx context.Context, id uuid.UUID, method string) error {
	applied, err := s.repo.MarkPaid(ctx, id, method)
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if a.Status == StatusAwaitingPayment {
		if _, err := s.transition(ctx, a, StatusCheckedIn, "payment", nil, nil); err != nil {
			return err
		}
	}
	return nil
}
