package appointment

import (
	"time"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
)

// transitions is the closed edge set of the visit state machine. Anything
// not listed here is illegal; callers additionally hold the per-edge
// preconditions (paid flag, item terminality, observation gate).
var transitions = map[string][]string{
	StatusScheduled:       {StatusAwaitingPayment, StatusCheckedIn, StatusCancelled},
	StatusAwaitingPayment: {StatusCheckedIn, StatusCancelled},
	StatusCheckedIn:       {StatusWithDoctor, StatusCancelled},
	StatusWithDoctor:      {StatusWithNurse, StatusCancelled},
	StatusWithNurse:       {StatusInObservation, StatusCancelled},
	StatusInObservation:   {StatusCompleted, StatusCancelled},
	StatusCompleted:       {},
	StatusCancelled:       {},
}

// CanTransition reports whether from → to is an edge of the machine.
func CanTransition(from, to string) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status ends the visit.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// guardTransition rejects illegal edges with a Precondition error so they
// surface as actionable messages, never silent coercion.
func guardTransition(from, to string) error {
	if !CanTransition(from, to) {
		return apperr.New(apperr.Precondition, "illegal transition %s -> %s", from, to)
	}
	return nil
}

// ObservationWindow is the fixed post-injection monitoring interval.
const ObservationWindow = 30 * time.Minute

// ObservationGate is the discharge gate derived from an appointment's
// vaccination records. It is recomputed on every read from (now, last
// administration); no deadline is ever cached.
type ObservationGate struct {
	LastAdministeredAt time.Time     `json:"last_administered_at"`
	TimeRemaining      time.Duration `json:"-"`
	Dischargeable      bool          `json:"dischargeable"`
}

// DeriveGate computes the gate from the most recent administration among
// the given records. With no records the gate stays closed.
func DeriveGate(records []*VaccinationRecord, now time.Time) ObservationGate {
	var last time.Time
	for _, r := range records {
		if r.AdministeredAt.After(last) {
			last = r.AdministeredAt
		}
	}
	if last.IsZero() {
		return ObservationGate{Dischargeable: false, TimeRemaining: ObservationWindow}
	}

	deadline := last.Add(ObservationWindow)
	remaining := deadline.Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return ObservationGate{
		LastAdministeredAt: last,
		TimeRemaining:      remaining,
		Dischargeable:      remaining == 0,
	}
}
