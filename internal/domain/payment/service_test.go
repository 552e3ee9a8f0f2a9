package payment

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
	"github.com/vaxflow/vaxflow/internal/platform/gateway"
)

// =========== Mocks ===========

type mockRepo struct {
	intents map[string]*Intent
	records map[string]*Record
	cash    []*CashPayment
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		intents: make(map[string]*Intent),
		records: make(map[string]*Record),
	}
}

func (m *mockRepo) CreateIntent(_ context.Context, in *Intent) error {
	in.ID = uuid.New()
	m.intents[in.OrderID] = in
	return nil
}

func (m *mockRepo) GetIntentByOrderID(_ context.Context, orderID string) (*Intent, error) {
	in, ok := m.intents[orderID]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	cp := *in
	return &cp, nil
}

func (m *mockRepo) ListIntentsByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*Intent, error) {
	var out []*Intent
	for _, in := range m.intents {
		if in.AppointmentID == appointmentID {
			out = append(out, in)
		}
	}
	return out, nil
}

func (m *mockRepo) AbandonPendingIntents(_ context.Context, appointmentID uuid.UUID) (int, error) {
	n := 0
	for _, in := range m.intents {
		if in.AppointmentID == appointmentID && in.Status == IntentPending {
			in.Status = IntentAbandoned
			n++
		}
	}
	return n, nil
}

func (m *mockRepo) UpdateIntentResult(_ context.Context, orderID, status string, resultCode, transactionID *string) error {
	in, ok := m.intents[orderID]
	if !ok {
		return fmt.Errorf("not found")
	}
	in.Status = status
	if resultCode != nil {
		in.ResultCode = resultCode
	}
	if transactionID != nil {
		in.TransactionID = transactionID
	}
	return nil
}

func (m *mockRepo) InsertRecord(_ context.Context, rec *Record) (bool, error) {
	if _, exists := m.records[rec.OrderID]; exists {
		return false, nil
	}
	rec.ID = uuid.New()
	m.records[rec.OrderID] = rec
	return true, nil
}

func (m *mockRepo) ListRecordsByAppointment(_ context.Context, appointmentID uuid.UUID) ([]*Record, error) {
	var out []*Record
	for _, rec := range m.records {
		if rec.AppointmentID == appointmentID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *mockRepo) CreateCashPayment(_ context.Context, cp *CashPayment) error {
	cp.ID = uuid.New()
	m.cash = append(m.cash, cp)
	return nil
}

type mockGateway struct {
	created      []gateway.CreateRequest
	createErr    error
	statusResult *gateway.StatusResponse
	statusErr    error
}

func (m *mockGateway) CreatePayment(_ context.Context, req gateway.CreateRequest) (*gateway.CreateResponse, error) {
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.created = append(m.created, req)
	return &gateway.CreateResponse{
		OrderID:     req.OrderID,
		ResultCode:  "0",
		RedirectURL: "https://pay.example.com/" + req.OrderID,
	}, nil
}

func (m *mockGateway) QueryStatus(_ context.Context, orderID string) (*gateway.StatusResponse, error) {
	if m.statusErr != nil {
		return nil, m.statusErr
	}
	resp := *m.statusResult
	resp.OrderID = orderID
	return &resp, nil
}

type mockAppts struct {
	due       map[uuid.UUID]int64
	paid      map[uuid.UUID]bool
	paidCalls int
}

func newMockAppts() *mockAppts {
	return &mockAppts{due: make(map[uuid.UUID]int64), paid: make(map[uuid.UUID]bool)}
}

func (m *mockAppts) OutstandingAmount(_ context.Context, id uuid.UUID) (int64, error) {
	if m.paid[id] {
		return 0, apperr.New(apperr.Precondition, "appointment %s is already paid", id)
	}
	due, ok := m.due[id]
	if !ok {
		return 0, fmt.Errorf("not found")
	}
	return due, nil
}

func (m *mockAppts) MarkPaid(_ context.Context, id uuid.UUID, _ string) error {
	m.paidCalls++
	m.paid[id] = true
	return nil
}

// =========== Fixtures ===========

func newTestEngine() (*Engine, *mockRepo, *mockGateway, *mockAppts) {
	repo := newMockRepo()
	gw := &mockGateway{}
	appts := newMockAppts()
	return NewEngine(repo, gw, appts, nil, zerolog.Nop()), repo, gw, appts
}

func mustCreateIntent(t *testing.T, e *Engine, appts *mockAppts, amount int64) (*Intent, uuid.UUID) {
	t.Helper()
	apptID := uuid.New()
	appts.due[apptID] = amount
	intent, err := e.CreateIntent(context.Background(), apptID, gateway.RequestTypeWallet, "https://app.example.com/done")
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	return intent, apptID
}

// =========== Tests ===========

func TestCreateIntent(t *testing.T) {
	e, repo, gw, appts := newTestEngine()

	intent, apptID := mustCreateIntent(t, e, appts, 30000)
	if !strings.HasPrefix(intent.OrderID, "VF-") {
		t.Errorf("unexpected order id: %s", intent.OrderID)
	}
	if intent.Amount != 30000 {
		t.Errorf("expected amount from the appointment, got %d", intent.Amount)
	}
	if intent.Status != IntentPending {
		t.Errorf("expected PENDING, got %s", intent.Status)
	}
	if intent.RedirectURL == nil {
		t.Error("expected the provider redirect to be captured")
	}
	if len(gw.created) != 1 {
		t.Fatalf("expected 1 provider call, got %d", len(gw.created))
	}
	if gw.created[0].AppointmentID != apptID {
		t.Error("expected the appointment id in a structured provider field")
	}
	if _, ok := repo.intents[intent.OrderID]; !ok {
		t.Error("expected the intent to be stored")
	}
}

func TestCreateIntent_SupersedesPending(t *testing.T) {
	e, repo, _, appts := newTestEngine()

	first, apptID := mustCreateIntent(t, e, appts, 30000)
	second, err := e.CreateIntent(context.Background(), apptID, gateway.RequestTypeATM, "")
	if err != nil {
		t.Fatalf("second intent: %v", err)
	}
	if repo.intents[first.OrderID].Status != IntentAbandoned {
		t.Errorf("expected the first intent abandoned, got %s", repo.intents[first.OrderID].Status)
	}
	if repo.intents[second.OrderID].Status != IntentPending {
		t.Errorf("expected the second intent pending, got %s", repo.intents[second.OrderID].Status)
	}
}

func TestCreateIntent_Validation(t *testing.T) {
	e, _, _, appts := newTestEngine()
	apptID := uuid.New()
	appts.due[apptID] = 30000

	_, err := e.CreateIntent(context.Background(), apptID, "BARTER", "")
	if !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected Validation error, got %v", err)
	}
}

func TestCreateIntent_AlreadyPaid(t *testing.T) {
	e, _, _, appts := newTestEngine()
	apptID := uuid.New()
	appts.due[apptID] = 30000
	appts.paid[apptID] = true

	_, err := e.CreateIntent(context.Background(), apptID, gateway.RequestTypeWallet, "")
	if !apperr.IsKind(err, apperr.Precondition) {
		t.Errorf("expected Precondition error, got %v", err)
	}
}

func TestHandleCallback_Success(t *testing.T) {
	e, repo, _, appts := newTestEngine()
	intent, apptID := mustCreateIntent(t, e, appts, 30000)

	got, err := e.HandleCallback(context.Background(), CallbackParams{
		OrderID:       intent.OrderID,
		AppointmentID: apptID.String(),
		ResultCode:    "0",
		Amount:        30000,
		TransactionID: "TX-1",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != IntentSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", got.Status)
	}
	if !appts.paid[apptID] {
		t.Error("expected the appointment marked paid")
	}
	rec, ok := repo.records[intent.OrderID]
	if !ok {
		t.Fatal("expected a settlement ledger row")
	}
	if rec.Method != MethodOnline || rec.Amount != 30000 {
		t.Errorf("unexpected ledger row: %+v", rec)
	}
}

func TestHandleCallback_LegacySuccessCode(t *testing.T) {
	e, _, _, appts := newTestEngine()
	intent, apptID := mustCreateIntent(t, e, appts, 30000)

	got, err := e.HandleCallback(context.Background(), CallbackParams{
		OrderID:    intent.OrderID,
		ResultCode: "100",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != IntentSucceeded {
		t.Errorf("result code 100 must settle, got %s", got.Status)
	}
	if !appts.paid[apptID] {
		t.Error("expected the appointment marked paid")
	}
}

func TestHandleCallback_Failure(t *testing.T) {
	e, repo, _, appts := newTestEngine()
	intent, apptID := mustCreateIntent(t, e, appts, 30000)

	got, err := e.HandleCallback(context.Background(), CallbackParams{
		OrderID:    intent.OrderID,
		ResultCode: "49",
		Message:    "user cancelled",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != IntentFailed {
		t.Errorf("expected FAILED, got %s", got.Status)
	}
	if appts.paid[apptID] {
		t.Error("a failed payment must not settle")
	}
	if len(repo.records) != 0 {
		t.Error("a failed payment must not reach the ledger")
	}
}

func TestHandleCallback_UnknownOrder(t *testing.T) {
	e, _, _, _ := newTestEngine()

	_, err := e.HandleCallback(context.Background(), CallbackParams{OrderID: "VF-bogus", ResultCode: "0"})
	if !apperr.IsKind(err, apperr.Correlation) {
		t.Errorf("expected Correlation error, got %v", err)
	}
}

func TestHandleCallback_AppointmentMismatch(t *testing.T) {
	e, _, _, appts := newTestEngine()
	intent, apptID := mustCreateIntent(t, e, appts, 30000)

	_, err := e.HandleCallback(context.Background(), CallbackParams{
		OrderID:       intent.OrderID,
		AppointmentID: uuid.New().String(),
		ResultCode:    "0",
	})
	if !apperr.IsKind(err, apperr.Correlation) {
		t.Errorf("expected Correlation error, got %v", err)
	}
	if appts.paid[apptID] {
		t.Error("a mis-correlated callback must not settle")
	}
}

func TestHandleCallback_AmountMismatchLogsAndSettles(t *testing.T) {
	repo := newMockRepo()
	appts := newMockAppts()
	var buf bytes.Buffer
	e := NewEngine(repo, &mockGateway{}, appts, nil, zerolog.New(&buf))

	intent, apptID := mustCreateIntent(t, e, appts, 30000)

	got, err := e.HandleCallback(context.Background(), CallbackParams{
		OrderID:    intent.OrderID,
		ResultCode: "0",
		Amount:     29000,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != IntentSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", got.Status)
	}
	if !appts.paid[apptID] {
		t.Error("expected the appointment marked paid")
	}
	rec, ok := repo.records[intent.OrderID]
	if !ok {
		t.Fatal("expected a settlement ledger row")
	}
	if rec.Amount != 30000 {
		t.Errorf("the ledger must carry the intent amount, got %d", rec.Amount)
	}
	if !strings.Contains(buf.String(), "callback amount does not match intent") {
		t.Errorf("expected the mismatch flagged for reconciliation, got %s", buf.String())
	}
}

func TestHandleCallback_ReplayIsIdempotent(t *testing.T) {
	e, repo, _, appts := newTestEngine()
	intent, _ := mustCreateIntent(t, e, appts, 30000)

	p := CallbackParams{OrderID: intent.OrderID, ResultCode: "0", TransactionID: "TX-1"}
	if _, err := e.HandleCallback(context.Background(), p); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	paidCalls := appts.paidCalls

	got, err := e.HandleCallback(context.Background(), p)
	if err != nil {
		t.Fatalf("replayed callback must ack, got %v", err)
	}
	if got.Status != IntentSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", got.Status)
	}
	if len(repo.records) != 1 {
		t.Errorf("expected 1 ledger row after replay, got %d", len(repo.records))
	}
	if appts.paidCalls != paidCalls {
		t.Error("a replay must not touch the appointment again")
	}
}

func TestCheckStatus_SettlesLostCallback(t *testing.T) {
	e, repo, gw, appts := newTestEngine()
	intent, apptID := mustCreateIntent(t, e, appts, 30000)
	gw.statusResult = &gateway.StatusResponse{ResultCode: "0", Amount: 30000, TransactionID: "TX-9"}

	got, err := e.CheckStatus(context.Background(), intent.OrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != IntentSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", got.Status)
	}
	if !appts.paid[apptID] {
		t.Error("expected the poll fallback to settle")
	}
	if _, ok := repo.records[intent.OrderID]; !ok {
		t.Error("expected the poll to go through the same ledger")
	}
}

func TestCheckStatus_SkipsPollForDecidedIntent(t *testing.T) {
	e, _, gw, appts := newTestEngine()
	intent, _ := mustCreateIntent(t, e, appts, 30000)

	if _, err := e.HandleCallback(context.Background(), CallbackParams{
		OrderID: intent.OrderID, ResultCode: "0",
	}); err != nil {
		t.Fatalf("callback: %v", err)
	}

	gw.statusErr = fmt.Errorf("provider must not be polled")
	got, err := e.CheckStatus(context.Background(), intent.OrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != IntentSucceeded {
		t.Errorf("expected SUCCEEDED, got %s", got.Status)
	}
}

func TestCheckStatus_AbandonedOrderSurfacesCollectedFunds(t *testing.T) {
	repo := newMockRepo()
	gw := &mockGateway{}
	appts := newMockAppts()
	var buf bytes.Buffer
	e := NewEngine(repo, gw, appts, nil, zerolog.New(&buf))

	first, apptID := mustCreateIntent(t, e, appts, 30000)
	if _, err := e.CreateIntent(context.Background(), apptID, gateway.RequestTypeATM, ""); err != nil {
		t.Fatalf("second intent: %v", err)
	}

	// The provider completed the superseded order server-side.
	gw.statusResult = &gateway.StatusResponse{ResultCode: "0", TransactionID: "TX-7"}

	got, err := e.CheckStatus(context.Background(), first.OrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != IntentAbandoned {
		t.Errorf("a superseded order must never settle, got %s", got.Status)
	}
	if appts.paid[apptID] {
		t.Error("a superseded order must not mark the appointment paid")
	}
	if len(repo.records) != 0 {
		t.Errorf("a superseded order must not reach the ledger, got %d rows", len(repo.records))
	}
	if !strings.Contains(buf.String(), "needs manual reconciliation") {
		t.Errorf("expected the collected funds flagged for reconciliation, got %s", buf.String())
	}
}

func TestRecordCash(t *testing.T) {
	e, repo, _, appts := newTestEngine()
	apptID := uuid.New()
	appts.due[apptID] = 30000
	cashierID := uuid.New()

	cp, err := e.RecordCash(context.Background(), apptID, 30000, cashierID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cp.CashierID != cashierID {
		t.Error("expected the cashier recorded on the receipt")
	}
	if !appts.paid[apptID] {
		t.Error("expected the appointment marked paid")
	}
	if len(repo.records) != 1 {
		t.Fatalf("expected 1 ledger row, got %d", len(repo.records))
	}
	for _, rec := range repo.records {
		if rec.Method != MethodCash {
			t.Errorf("expected CASH ledger row, got %s", rec.Method)
		}
		if !strings.HasPrefix(rec.OrderID, "CASH-") {
			t.Errorf("unexpected ledger order id: %s", rec.OrderID)
		}
	}
}

func TestRecordCash_AmountMustMatch(t *testing.T) {
	e, repo, _, appts := newTestEngine()
	apptID := uuid.New()
	appts.due[apptID] = 30000

	_, err := e.RecordCash(context.Background(), apptID, 25000, uuid.New(), nil)
	if !apperr.IsKind(err, apperr.Validation) {
		t.Errorf("expected Validation error, got %v", err)
	}
	if appts.paid[apptID] {
		t.Error("a mismatched amount must not settle")
	}
	if len(repo.cash) != 0 {
		t.Error("a mismatched amount must not leave a receipt")
	}
}
