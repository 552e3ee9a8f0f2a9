// Package booking builds appointment requests step by step. A Draft is an
// immutable value: every With* method returns a new Draft, so a partially
// filled wizard can never leak half-applied state between steps.
package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/vaxflow/vaxflow/internal/domain/appointment"
	"github.com/vaxflow/vaxflow/internal/platform/apperr"
)

// Selection is one vaccine pick in the draft, typed the same way the
// appointment line items are.
type Selection struct {
	Kind             string
	VaccineID        *uuid.UUID
	DoseNumber       int
	VaccineOfChildID *uuid.UUID
	DoseScheduleID   *uuid.UUID
	ComboID          *uuid.UUID
}

// Draft accumulates booking choices. The zero Draft is valid to start from.
type Draft struct {
	childID       uuid.UUID
	doctorID      *uuid.UUID
	scheduledDate time.Time
	timeSlot      string
	paymentMethod string
	notes         *string
	selections    []Selection
}

func NewDraft() Draft { return Draft{} }

func (d Draft) WithChild(childID uuid.UUID) Draft {
	d.childID = childID
	return d
}

func (d Draft) WithDoctor(doctorID uuid.UUID) Draft {
	d.doctorID = &doctorID
	return d
}

func (d Draft) WithSchedule(date time.Time, slot string) Draft {
	d.scheduledDate = date
	d.timeSlot = slot
	return d
}

func (d Draft) WithPaymentMethod(method string) Draft {
	d.paymentMethod = method
	return d
}

func (d Draft) WithNotes(notes string) Draft {
	d.notes = &notes
	return d
}

// WithSelection appends one pick. The backing slice is copied so earlier
// drafts never observe later appends.
func (d Draft) WithSelection(sel Selection) Draft {
	next := make([]Selection, len(d.selections), len(d.selections)+1)
	copy(next, d.selections)
	d.selections = append(next, sel)
	return d
}

// WithoutSelection drops the pick at index i, ignoring out-of-range indexes.
func (d Draft) WithoutSelection(i int) Draft {
	if i < 0 || i >= len(d.selections) {
		return d
	}
	next := make([]Selection, 0, len(d.selections)-1)
	next = append(next, d.selections[:i]...)
	next = append(next, d.selections[i+1:]...)
	d.selections = next
	return d
}

func (d Draft) Selections() []Selection {
	out := make([]Selection, len(d.selections))
	copy(out, d.selections)
	return out
}

// Build validates the accumulated choices and produces the create request.
// Type-specific identifier checks happen here so a broken selection is
// reported before the booking reaches the appointment service.
func (d Draft) Build() (appointment.CreateRequest, error) {
	var req appointment.CreateRequest

	if d.childID == uuid.Nil {
		return req, apperr.New(apperr.Validation, "a child must be selected")
	}
	if d.scheduledDate.IsZero() {
		return req, apperr.New(apperr.Validation, "a visit date must be selected")
	}
	if d.timeSlot == "" {
		return req, apperr.New(apperr.Validation, "a time slot must be selected")
	}
	if d.paymentMethod == "" {
		return req, apperr.New(apperr.Validation, "a payment method must be selected")
	}
	if len(d.selections) == 0 {
		return req, apperr.New(apperr.Validation, "select at least one vaccine")
	}

	items := make([]appointment.ItemRequest, 0, len(d.selections))
	for i, sel := range d.selections {
		item := appointment.ItemRequest{
			Kind:             sel.Kind,
			VaccineID:        sel.VaccineID,
			DoseNumber:       sel.DoseNumber,
			VaccineOfChildID: sel.VaccineOfChildID,
			DoseScheduleID:   sel.DoseScheduleID,
			ComboID:          sel.ComboID,
		}
		switch sel.Kind {
		case appointment.KindNewVaccine:
			if sel.VaccineID == nil {
				return req, apperr.New(apperr.Validation, "selection %d: a vaccine must be chosen", i+1)
			}
			if item.DoseNumber == 0 {
				item.DoseNumber = 1
			}
		case appointment.KindNextDose:
			if sel.VaccineOfChildID == nil || sel.DoseScheduleID == nil {
				return req, apperr.New(apperr.Validation, "selection %d: a scheduled dose must be chosen", i+1)
			}
		case appointment.KindVaccineCombo:
			if sel.ComboID == nil {
				return req, apperr.New(apperr.Validation, "selection %d: a combo must be chosen", i+1)
			}
		default:
			return req, apperr.New(apperr.Validation, "selection %d: unknown selection type: %s", i+1, sel.Kind)
		}
		items = append(items, item)
	}

	req = appointment.CreateRequest{
		ChildID:       d.childID,
		DoctorID:      d.doctorID,
		ScheduledDate: d.scheduledDate,
		TimeSlot:      d.timeSlot,
		PaymentMethod: d.paymentMethod,
		Notes:         d.notes,
		Items:         items,
	}
	return req, nil
}
