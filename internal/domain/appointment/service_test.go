package appointment

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
	"github.com/vaxflow/vaxflow/internal/platform/clock"
)

func newUUID() uuid.UUID { return uuid.New() }

// =========== Mock Repository ===========

type mockRepo struct {
	appts        map[uuid.UUID]*Appointment
	items        map[uuid.UUID]*AppointmentVaccine
	health       map[uuid.UUID]*HealthRecord
	vaccinations []*VaccinationRecord
	postCare     []*PostCareRecord
	history      []*StatusHistory

	// raceOnce simulates a concurrent writer bumping the version right
	// before the next status write.
	raceOnce bool
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		appts:  make(map[uuid.UUID]*Appointment),
		items:  make(map[uuid.UUID]*AppointmentVaccine),
		health: make(map[uuid.UUID]*HealthRecord),
	}
}

func (m *mockRepo) Create(_ context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.Version = 1
	for _, it := range a.Items {
		it.ID = uuid.New()
		it.AppointmentID = a.ID
		m.items[it.ID] = it
	}
	m.appts[a.ID] = a
	return nil
}

func (m *mockRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *a
	cp.Items = nil
	for _, it := range m.items {
		if it.AppointmentID == id {
			cp.Items = append(cp.Items, it)
		}
	}
	return &cp, nil
}

func (m *mockRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	var out []*Appointment
	for id, a := range m.appts {
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.ChildID != nil && a.ChildID != *f.ChildID {
			continue
		}
		cp, _ := m.GetByID(context.Background(), id)
		out = append(out, cp)
	}
	return out, len(out), nil
}

func (m *mockRepo) UpdateStatus(_ context.Context, u StatusUpdate) error {
	a, ok := m.appts[u.ID]
	if !ok {
		return fmt.Errorf("not found")
	}
	if m.raceOnce {
		m.raceOnce = false
		a.Version++
	}
	if a.Version != u.Version {
		return apperr.New(apperr.Conflict, "appointment %s changed concurrently", u.ID)
	}
	a.Status = u.NewStatus
	if u.DoctorID != nil {
		a.DoctorID = u.DoctorID
	}
	if u.CancelReason != nil {
		a.CancelReason = u.CancelReason
	}
	a.Version++
	return nil
}

func (m *mockRepo) MarkPaid(_ context.Context, id uuid.UUID, method string) (bool, error) {
	a, ok := m.appts[id]
	if !ok {
		return false, fmt.Errorf("not found")
	}
	if a.Paid {
		return false, nil
	}
	a.Paid = true
	a.PaymentMethod = method
	a.Version++
	return true, nil
}

func (m *mockRepo) GetItem(_ context.Context, itemID uuid.UUID) (*AppointmentVaccine, error) {
	it, ok := m.items[itemID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return it, nil
}

func (m *mockRepo) UpdateItemStatus(_ context.Context, itemID uuid.UUID, from, to string, hrID, vrID *uuid.UUID) error {
	it, ok := m.items[itemID]
	if !ok {
		return fmt.Errorf("not found")
	}
	if it.Status != from {
		return apperr.New(apperr.Conflict, "line item %s is no longer %s", itemID, from)
	}
	it.Status = to
	if hrID != nil {
		it.HealthRecordID = hrID
	}
	if vrID != nil {
		it.VaccinationRecordID = vrID
	}
	return nil
}

func (m *mockRepo) CreateHealthRecord(_ context.Context, hr *HealthRecord) error {
	hr.ID = uuid.New()
	m.health[hr.ID] = hr
	return nil
}

func (m *mockRepo) CreateVaccinationRecord(_ context.Context, vr *VaccinationRecord) error {
	vr.ID = uuid.New()
	m.vaccinations = append(m.vaccinations, vr)
	return nil
}

func (m *mockRepo) ListVaccinationRecords(_ context.Context, appointmentID uuid.UUID) ([]*VaccinationRecord, error) {
	var out []*VaccinationRecord
	for _, vr := range m.vaccinations {
		if it, ok := m.items[vr.ItemID]; ok && it.AppointmentID == appointmentID {
			out = append(out, vr)
		}
	}
	return out, nil
}

func (m *mockRepo) CreatePostCareRecord(_ context.Context, pc *PostCareRecord) error {
	pc.ID = uuid.New()
	m.postCare = append(m.postCare, pc)
	return nil
}

func (m *mockRepo) AddStatusHistory(_ context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	m.history = append(m.history, h)
	return nil
}

func (m *mockRepo) ListStatusHistory(_ context.Context, appointmentID uuid.UUID) ([]*StatusHistory, error) {
	var out []*StatusHistory
	for _, h := range m.history {
		if h.AppointmentID == appointmentID {
			out = append(out, h)
		}
	}
	return out, nil
}

// =========== Mock Catalog ===========

type mockCatalog struct {
	newVaccinePrice int64
	dosePrice       int64
	dosePrepaid     bool
	comboPrice      int64
	administered    []string
}

func (m *mockCatalog) PriceForNewVaccine(_ context.Context, _ uuid.UUID) (int64, error) {
	return m.newVaccinePrice, nil
}

func (m *mockCatalog) PriceForDose(_ context.Context, _ uuid.UUID) (int64, bool, error) {
	if m.dosePrepaid {
		return 0, true, nil
	}
	return m.dosePrice, false, nil
}

func (m *mockCatalog) PriceForCombo(_ context.Context, _ uuid.UUID) (int64, error) {
	return m.comboPrice, nil
}

func (m *mockCatalog) AdministerNewVaccine(_ context.Context, _, _ uuid.UUID) error {
	m.administered = append(m.administered, KindNewVaccine)
	return nil
}

func (m *mockCatalog) AdministerNextDose(_ context.Context, _, _ uuid.UUID) error {
	m.administered = append(m.administered, KindNextDose)
	return nil
}

func (m *mockCatalog) AdministerCombo(_ context.Context, _, _ uuid.UUID) error {
	m.administered = append(m.administered, KindVaccineCombo)
	return nil
}

// =========== Fixtures ===========

func newTestService() (*Service, *mockRepo, *mockCatalog, *clock.Fixed) {
	repo := newMockRepo()
	cat := &mockCatalog{newVaccinePrice: 100000, dosePrice: 30000, comboPrice: 250000}
	clk := clock.NewFixed(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	return NewService(repo, cat, nil, clk), repo, cat, clk
}

func newVaccineItem() ItemRequest {
	vid := uuid.New()
	return ItemRequest{Kind: KindNewVaccine, VaccineID: &vid, DoseNumber: 1}
}

func validCreateRequest() CreateRequest {
	return CreateRequest{
		ChildID:       uuid.New(),
		ScheduledDate: time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC),
		TimeSlot:      "09:00-09:30",
		PaymentMethod: MethodOnline,
		Items:         []ItemRequest{newVaccineItem()},
	}
}

func mustCreate(t *testing.T, svc *Service, req CreateRequest) *Appointment {
	t.Helper()
	a, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("create appointment: %v", err)
	}
	return a
}

// advanceTo walks an appointment to the given status via the legal path.
func advanceTo(t *testing.T, svc *Service, repo *mockRepo, a *Appointment, target string) *Appointment {
	t.Helper()
	ctx := context.Background()

	steps := []string{StatusAwaitingPayment, StatusCheckedIn, StatusWithDoctor, StatusWithNurse, StatusInObservation}
	cur, _ := repo.GetByID(ctx, a.ID)
	for _, next := range steps {
		if cur.Status == target {
			return cur
		}
		var err error
		switch next {
		case StatusAwaitingPayment:
			cur, err = svc.CheckIn(ctx, a.ID, "recep-1")
		case StatusCheckedIn:
			err = svc.MarkPaid(ctx, a.ID, MethodOnline)
			if err == nil {
				cur, err = repo.GetByID(ctx, a.ID)
			}
		case StatusWithDoctor:
			cur, err = svc.Claim(ctx, a.ID, uuid.New(), "doc-1")
		case StatusWithNurse:
			for _, it := range cur.Items {
				if it.Status == ItemPending {
					_, err = svc.SubmitHealthRecord(ctx, it.ID, HealthRecordInput{
						TemperatureC: 36.8, WeightKg: 12, HeartRate: 110, Approved: true,
					}, uuid.New(), uuid.New().String())
					if err != nil {
						break
					}
				}
			}
			if err == nil {
				cur, err = repo.GetByID(ctx, a.ID)
			}
		case StatusInObservation:
			for _, it := range cur.Items {
				if it.Status == ItemApproved {
					_, err = svc.RecordVaccination(ctx, it.ID, VaccinationInput{
						BatchNumber: "B-77", ExpiryDate: time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC),
						InjectionSite: "left thigh", Route: "IM", DoseAmountML: 0.5,
					}, uuid.New(), uuid.New().String())
					break
				}
			}
			if err == nil {
				cur, err = repo.GetByID(ctx, a.ID)
			}
		}
		if err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
		if cur.Status == target {
			return cur
		}
	}
	if cur.Status != target {
		t.Fatalf("could not advance to %s, stuck at %s", target, cur.Status)
	}
	return cur
}

// =========== Tests ===========

func TestCreate_SnapshotsPrices(t *testing.T) {
	svc, _, _, _ := newTestService()

	svid, dsid, cid := uuid.New(), uuid.New(), uuid.New()
	req := validCreateRequest()
	req.Items = append(req.Items,
		ItemRequest{Kind: KindNextDose, VaccineOfChildID: &svid, DoseScheduleID: &dsid, DoseNumber: 2},
		ItemRequest{Kind: KindVaccineCombo, ComboID: &cid},
	)

	a := mustCreate(t, svc, req)
	if len(a.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(a.Items))
	}
	if a.Items[0].Price != 100000 || a.Items[1].Price != 30000 || a.Items[2].Price != 250000 {
		t.Errorf("unexpected price snapshots: %d %d %d", a.Items[0].Price, a.Items[1].Price, a.Items[2].Price)
	}
	if a.TotalDue() != 380000 {
		t.Errorf("expected total 380000, got %d", a.TotalDue())
	}
	if a.Status != StatusScheduled {
		t.Errorf("expected SCHEDULED, got %s", a.Status)
	}
	for _, it := range a.Items {
		if it.Status != ItemPending {
			t.Errorf("expected PENDING items, got %s", it.Status)
		}
	}
}

func TestCreate_PrepaidDoseIsFree(t *testing.T) {
	svc, _, cat, _ := newTestService()
	cat.dosePrepaid = true

	svid, dsid := uuid.New(), uuid.New()
	req := validCreateRequest()
	req.Items = []ItemRequest{
		{Kind: KindNextDose, VaccineOfChildID: &svid, DoseScheduleID: &dsid, DoseNumber: 2},
	}
	a := mustCreate(t, svc, req)
	if a.Items[0].Price != 0 || !a.Items[0].Prepaid {
		t.Errorf("expected prepaid zero-price item, got price=%d prepaid=%v", a.Items[0].Price, a.Items[0].Prepaid)
	}
	if a.TotalDue() != 0 {
		t.Errorf("expected nothing due, got %d", a.TotalDue())
	}
}

func TestCreate_Validation(t *testing.T) {
	svc, _, _, _ := newTestService()

	tests := []struct {
		name   string
		mutate func(*CreateRequest)
	}{
		{"no items", func(r *CreateRequest) { r.Items = nil }},
		{"missing child", func(r *CreateRequest) { r.ChildID = uuid.Nil }},
		{"bad method", func(r *CreateRequest) { r.PaymentMethod = "CRYPTO" }},
		{"item missing vaccine id", func(r *CreateRequest) {
			r.Items = []ItemRequest{{Kind: KindNewVaccine, DoseNumber: 1}}
		}},
		{"unknown kind", func(r *CreateRequest) {
			r.Items = []ItemRequest{{Kind: "WALK_IN"}}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validCreateRequest()
			tt.mutate(&req)
			_, err := svc.Create(context.Background(), req)
			if !apperr.IsKind(err, apperr.Validation) {
				t.Errorf("expected Validation error, got %v", err)
			}
		})
	}
}

func TestCheckIn_UnpaidWaitsForPayment(t *testing.T) {
	svc, _, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())

	got, err := svc.CheckIn(context.Background(), a.ID, "recep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusAwaitingPayment {
		t.Errorf("expected AWAITING_PAYMENT for unpaid visit, got %s", got.Status)
	}
}

func TestCheckIn_PaidGoesStraightIn(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	repo.appts[a.ID].Paid = true

	got, err := svc.CheckIn(context.Background(), a.ID, "recep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCheckedIn {
		t.Errorf("expected CHECKED_IN for paid visit, got %s", got.Status)
	}
}

func TestCheckIn_TwiceIsPrecondition(t *testing.T) {
	svc, _, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())

	if _, err := svc.CheckIn(context.Background(), a.ID, "recep-1"); err != nil {
		t.Fatalf("first check-in: %v", err)
	}
	_, err := svc.CheckIn(context.Background(), a.ID, "recep-1")
	if !apperr.IsKind(err, apperr.Precondition) {
		t.Errorf("expected Precondition error, got %v", err)
	}
}

func TestTransition_RecordsHistory(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())

	if _, err := svc.CheckIn(context.Background(), a.ID, "recep-1"); err != nil {
		t.Fatalf("check-in: %v", err)
	}
	history, _ := repo.ListStatusHistory(context.Background(), a.ID)
	if len(history) != 1 {
		t.Fatalf("expected 1 history row, got %d", len(history))
	}
	h := history[0]
	if h.FromStatus != StatusScheduled || h.ToStatus != StatusAwaitingPayment || h.ChangedBy != "recep-1" {
		t.Errorf("unexpected history row: %+v", h)
	}
}

func TestTransition_RetriesOnceAfterLostRace(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	repo.raceOnce = true

	got, err := svc.CheckIn(context.Background(), a.ID, "recep-1")
	if err != nil {
		t.Fatalf("expected retry to absorb the lost race, got %v", err)
	}
	if got.Status != StatusAwaitingPayment {
		t.Errorf("expected AWAITING_PAYMENT, got %s", got.Status)
	}
}

func TestClaim_AssignsDoctor(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	advanceTo(t, svc, repo, a, StatusCheckedIn)

	doctorID := uuid.New()
	got, err := svc.Claim(context.Background(), a.ID, doctorID, doctorID.String())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusWithDoctor {
		t.Errorf("expected WITH_DOCTOR, got %s", got.Status)
	}
	if got.DoctorID == nil || *got.DoctorID != doctorID {
		t.Error("expected doctor to be assigned on claim")
	}
}

func TestDoctorQueue_ListsCheckedIn(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	advanceTo(t, svc, repo, a, StatusCheckedIn)
	mustCreate(t, svc, validCreateRequest()) // still SCHEDULED

	queue, total, err := svc.DoctorQueue(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 || len(queue) != 1 {
		t.Fatalf("expected 1 queued appointment, got %d", total)
	}
	if queue[0].ID != a.ID {
		t.Error("expected the checked-in appointment in the queue")
	}
}

func TestSubmitHealthRecord_ApproveAndAdvance(t *testing.T) {
	svc, repo, _, _ := newTestService()
	req := validCreateRequest()
	req.Items = append(req.Items, newVaccineItem())
	a := mustCreate(t, svc, req)
	cur := advanceTo(t, svc, repo, a, StatusWithDoctor)

	doctorID := uuid.New()
	reason := "fever over 38"

	// Reject the first item: visit stays WITH_DOCTOR.
	_, err := svc.SubmitHealthRecord(context.Background(), cur.Items[0].ID, HealthRecordInput{
		TemperatureC: 38.4, Approved: false, RejectionReason: &reason,
	}, doctorID, doctorID.String())
	if err != nil {
		t.Fatalf("reject first item: %v", err)
	}
	mid, _ := repo.GetByID(context.Background(), a.ID)
	if mid.Status != StatusWithDoctor {
		t.Errorf("expected WITH_DOCTOR while one item pending, got %s", mid.Status)
	}

	// Approve the second: both decided, visit moves to WITH_NURSE.
	_, err = svc.SubmitHealthRecord(context.Background(), cur.Items[1].ID, HealthRecordInput{
		TemperatureC: 36.9, Approved: true,
	}, doctorID, doctorID.String())
	if err != nil {
		t.Fatalf("approve second item: %v", err)
	}
	after, _ := repo.GetByID(context.Background(), a.ID)
	if after.Status != StatusWithNurse {
		t.Errorf("expected WITH_NURSE once all items decided, got %s", after.Status)
	}
}

func TestSubmitHealthRecord_RejectionNeedsReason(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	cur := advanceTo(t, svc, repo, a, StatusWithDoctor)

	_, err := svc.SubmitHealthRecord(context.Background(), cur.Items[0].ID, HealthRecordInput{
		Approved: false,
	}, uuid.New(), "doc-1")
	if !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected Validation error, got %v", err)
	}
}

func TestSubmitHealthRecord_DecisionIsImmutable(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	cur := advanceTo(t, svc, repo, a, StatusWithDoctor)

	doctorID := uuid.New()
	if _, err := svc.SubmitHealthRecord(context.Background(), cur.Items[0].ID, HealthRecordInput{
		Approved: true,
	}, doctorID, doctorID.String()); err != nil {
		t.Fatalf("first decision: %v", err)
	}

	// The visit advanced to WITH_NURSE, so the precondition failure is on
	// the visit state before the item state is even consulted.
	_, err := svc.SubmitHealthRecord(context.Background(), cur.Items[0].ID, HealthRecordInput{
		Approved: false,
	}, doctorID, doctorID.String())
	if !apperr.IsKind(err, apperr.Precondition) {
		t.Errorf("expected Precondition error, got %v", err)
	}
}

func TestSubmitHealthRecord_RequiresWithDoctor(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	cur := advanceTo(t, svc, repo, a, StatusCheckedIn)

	_, err := svc.SubmitHealthRecord(context.Background(), cur.Items[0].ID, HealthRecordInput{
		Approved: true,
	}, uuid.New(), "doc-1")
	if !apperr.IsKind(err, apperr.Precondition) {
		t.Errorf("expected Precondition error, got %v", err)
	}
}

func TestRecordVaccination_OnlyApprovedItems(t *testing.T) {
	svc, repo, _, _ := newTestService()
	req := validCreateRequest()
	req.Items = append(req.Items, newVaccineItem())
	a := mustCreate(t, svc, req)
	cur := advanceTo(t, svc, repo, a, StatusWithDoctor)

	doctorID := uuid.New()
	reason := "contraindicated"
	svc.SubmitHealthRecord(context.Background(), cur.Items[0].ID, HealthRecordInput{Approved: false, RejectionReason: &reason}, doctorID, "doc")
	svc.SubmitHealthRecord(context.Background(), cur.Items[1].ID, HealthRecordInput{Approved: true}, doctorID, "doc")

	input := VaccinationInput{BatchNumber: "B-1", ExpiryDate: time.Now().Add(24 * time.Hour)}

	// Rejected item can never be administered.
	_, err := svc.RecordVaccination(context.Background(), cur.Items[0].ID, input, uuid.New(), "nurse")
	if !apperr.IsKind(err, apperr.Precondition) {
		t.Errorf("expected Precondition for rejected item, got %v", err)
	}

	// Approved one can.
	if _, err := svc.RecordVaccination(context.Background(), cur.Items[1].ID, input, uuid.New(), "nurse"); err != nil {
		t.Fatalf("administer approved item: %v", err)
	}
	it, _ := repo.GetItem(context.Background(), cur.Items[1].ID)
	if it.Status != ItemVaccinated {
		t.Errorf("expected VACCINATED, got %s", it.Status)
	}
}

func TestRecordVaccination_FirstShotStartsObservation(t *testing.T) {
	svc, repo, cat, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	cur := advanceTo(t, svc, repo, a, StatusWithNurse)

	_, err := svc.RecordVaccination(context.Background(), cur.Items[0].ID, VaccinationInput{
		BatchNumber: "B-9", ExpiryDate: time.Now().Add(time.Hour),
	}, uuid.New(), "nurse")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := repo.GetByID(context.Background(), a.ID)
	if after.Status != StatusInObservation {
		t.Errorf("expected IN_OBSERVATION after first administration, got %s", after.Status)
	}
	if len(cat.administered) != 1 || cat.administered[0] != KindNewVaccine {
		t.Errorf("expected series advancement through the catalog, got %v", cat.administered)
	}
}

func TestRecordVaccination_AllowedDuringObservation(t *testing.T) {
	svc, repo, _, _ := newTestService()
	req := validCreateRequest()
	req.Items = append(req.Items, newVaccineItem())
	a := mustCreate(t, svc, req)
	cur := advanceTo(t, svc, repo, a, StatusInObservation)

	// The second approved item is still administrable while observing.
	var remaining *AppointmentVaccine
	for _, it := range cur.Items {
		if it.Status == ItemApproved {
			remaining = it
		}
	}
	if remaining == nil {
		t.Fatal("expected one approved item left")
	}
	if _, err := svc.RecordVaccination(context.Background(), remaining.ID, VaccinationInput{
		BatchNumber: "B-2", ExpiryDate: time.Now().Add(time.Hour),
	}, uuid.New(), "nurse"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestObservation_GateOpensAfterWindow(t *testing.T) {
	svc, repo, _, clk := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	advanceTo(t, svc, repo, a, StatusInObservation)

	view, err := svc.Observation(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if view.Dischargeable {
		t.Error("gate must be closed immediately after administration")
	}
	if view.TimeRemainingSeconds != int64(ObservationWindow.Seconds()) {
		t.Errorf("expected full window remaining, got %d", view.TimeRemainingSeconds)
	}

	clk.Advance(ObservationWindow)
	view, _ = svc.Observation(context.Background(), a.ID)
	if !view.Dischargeable {
		t.Error("gate must open once the window elapses")
	}
	if view.TimeRemainingSeconds != 0 {
		t.Errorf("expected zero remaining, got %d", view.TimeRemainingSeconds)
	}
}

func TestRecordPostCare_BlockedUntilDischargeable(t *testing.T) {
	svc, repo, _, clk := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	advanceTo(t, svc, repo, a, StatusInObservation)

	_, err := svc.RecordPostCare(context.Background(), a.ID, "child fine", uuid.New(), "obs-1")
	if !apperr.IsKind(err, apperr.Precondition) {
		t.Errorf("expected Precondition while window open, got %v", err)
	}

	clk.Advance(ObservationWindow + time.Minute)
	pc, err := svc.RecordPostCare(context.Background(), a.ID, "child fine", uuid.New(), "obs-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pc.ID == uuid.Nil {
		t.Error("expected post-care record to be persisted")
	}
	after, _ := repo.GetByID(context.Background(), a.ID)
	if after.Status != StatusCompleted {
		t.Errorf("expected COMPLETED, got %s", after.Status)
	}
}

func TestCancel(t *testing.T) {
	svc, _, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())

	got, err := svc.Cancel(context.Background(), a.ID, "guardian no-show", "recep-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Status)
	}
	if got.CancelReason == nil || *got.CancelReason != "guardian no-show" {
		t.Error("expected cancel reason to be stored")
	}

	// Terminal states cannot be cancelled again.
	if _, err := svc.Cancel(context.Background(), a.ID, "again", "recep-1"); !apperr.IsKind(err, apperr.Precondition) {
		t.Errorf("expected Precondition error, got %v", err)
	}
}

func TestCancel_NeedsReason(t *testing.T) {
	svc, _, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	if _, err := svc.Cancel(context.Background(), a.ID, "", "recep-1"); !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected Validation error, got %v", err)
	}
}

func TestMarkPaid_MonotonicAndAdvances(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())
	advanceTo(t, svc, repo, a, StatusAwaitingPayment)

	if err := svc.MarkPaid(context.Background(), a.ID, MethodOnline); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	after, _ := repo.GetByID(context.Background(), a.ID)
	if !after.Paid {
		t.Error("expected paid")
	}
	if after.Status != StatusCheckedIn {
		t.Errorf("expected CHECKED_IN after settlement, got %s", after.Status)
	}
	version := after.Version

	// A duplicate application is a no-op ack.
	if err := svc.MarkPaid(context.Background(), a.ID, MethodCash); err != nil {
		t.Fatalf("duplicate mark-paid must be a no-op, got %v", err)
	}
	again, _ := repo.GetByID(context.Background(), a.ID)
	if !again.Paid || again.PaymentMethod != MethodOnline {
		t.Error("duplicate application must not change settlement")
	}
	if again.Version != version {
		t.Error("duplicate application must not touch the row")
	}
}

func TestOutstandingAmount(t *testing.T) {
	svc, repo, _, _ := newTestService()
	a := mustCreate(t, svc, validCreateRequest())

	due, err := svc.OutstandingAmount(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due != 100000 {
		t.Errorf("expected 100000 due, got %d", due)
	}

	repo.appts[a.ID].Paid = true
	if _, err := svc.OutstandingAmount(context.Background(), a.ID); !apperr.IsKind(err, apperr.Precondition) {
		t.Errorf("expected Precondition for paid appointment, got %v", err)
	}
}
