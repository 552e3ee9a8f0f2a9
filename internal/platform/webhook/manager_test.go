package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

// helper: create a Manager with in-memory store and optional http client override.
func newTestManager(client *http.Client) *Manager {
	store := NewInMemoryStore()
	opts := []ManagerOption{}
	if client != nil {
		opts = append(opts, WithHTTPClient(client))
	}
	return NewManager(store, opts...)
}

// helper: create an active endpoint in the manager.
func mustRegisterEndpoint(t *testing.T, m *Manager, url string, events []string) *Endpoint {
	t.Helper()
	ep, err := m.RegisterEndpoint(context.Background(), url, "test-secret-key", events)
	if err != nil {
		t.Fatalf("failed to register endpoint: %v", err)
	}
	return ep
}

func paymentEvent(id string) Event {
	return Event{
		ID:           id,
		Type:         EventPaymentRecorded,
		ResourceType: "Appointment",
		ResourceID:   "appt-123",
		Payload:      json.RawMessage(`{"order_id":"VF-1","amount":30000}`),
		Timestamp:    time.Now(),
	}
}

func TestManager_RegisterEndpoint(t *testing.T) {
	m := newTestManager(nil)
	ep, err := m.RegisterEndpoint(context.Background(), "https://example.com/hook", "my-secret", []string{EventPaymentRecorded})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.ID == "" {
		t.Error("expected ID to be set")
	}
	if ep.URL != "https://example.com/hook" {
		t.Errorf("expected URL 'https://example.com/hook', got %q", ep.URL)
	}
	if ep.Secret != "my-secret" {
		t.Errorf("expected secret 'my-secret', got %q", ep.Secret)
	}
	if ep.Status != "active" {
		t.Errorf("expected status 'active', got %q", ep.Status)
	}
	if ep.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestManager_RegisterEndpoint_GeneratesSecret(t *testing.T) {
	m := newTestManager(nil)
	ep, err := m.RegisterEndpoint(context.Background(), "https://example.com/hook", "", []string{EventPaymentRecorded})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Secret == "" {
		t.Error("expected auto-generated secret")
	}
	if len(ep.Secret) < 32 {
		t.Errorf("expected secret at least 32 chars, got %d", len(ep.Secret))
	}
}

func TestManager_RegisterEndpoint_ValidatesURL(t *testing.T) {
	m := newTestManager(nil)
	tests := []struct {
		name string
		url  string
	}{
		{"empty", ""},
		{"no scheme", "example.com/hook"},
		{"ftp scheme", "ftp://example.com/hook"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.RegisterEndpoint(context.Background(), tt.url, "secret", []string{EventPaymentRecorded})
			if err == nil {
				t.Errorf("expected error for URL %q", tt.url)
			}
		})
	}
}

func TestSignPayload(t *testing.T) {
	payload := []byte(`{"type":"payment.recorded","id":"123"}`)
	sig1 := SignPayload(payload, "secret-key")
	sig2 := SignPayload(payload, "secret-key")
	if sig1 != sig2 {
		t.Error("expected deterministic signatures")
	}
	if sig1 == "" {
		t.Error("expected non-empty signature")
	}
}

func TestVerifySignature(t *testing.T) {
	payload := []byte(`{"type":"payment.recorded","id":"123"}`)
	sig := SignPayload(payload, "secret-key")
	if !VerifySignature(payload, "secret-key", sig) {
		t.Error("expected valid signature to verify")
	}
	if VerifySignature(payload, "secret-key", "invalid-sig") {
		t.Error("expected invalid signature to fail verification")
	}
	if VerifySignature(payload, "wrong-secret", sig) {
		t.Error("expected wrong secret to fail verification")
	}
}

func TestManager_Deliver(t *testing.T) {
	var receivedBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	mustRegisterEndpoint(t, m, ts.URL+"/hook", []string{EventPaymentRecorded})

	results := m.Deliver(context.Background(), paymentEvent("evt-1"))
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if !results[0].Success {
		t.Errorf("expected success, got error: %s", results[0].Error)
	}
	if results[0].StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", results[0].StatusCode)
	}
	if len(receivedBody) == 0 {
		t.Error("expected server to receive payload")
	}
}

func TestManager_Deliver_EventFiltering(t *testing.T) {
	callCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	mustRegisterEndpoint(t, m, ts.URL+"/hook", []string{EventAppointmentStatusChanged})

	results := m.Deliver(context.Background(), paymentEvent("evt-1"))
	if len(results) != 0 {
		t.Errorf("expected 0 results (no matching endpoints), got %d", len(results))
	}
	if callCount != 0 {
		t.Errorf("expected 0 calls, got %d", callCount)
	}
}

func TestManager_Deliver_WildcardEvent(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	mustRegisterEndpoint(t, m, ts.URL+"/hook", []string{"appointment.*"})

	matching := Event{
		ID: "evt-1", Type: EventAppointmentStatusChanged, ResourceType: "Appointment",
		ResourceID: "a-1", Payload: json.RawMessage(`{}`), Timestamp: time.Now(),
	}
	results := m.Deliver(context.Background(), matching)
	if len(results) != 1 || !results[0].Success {
		t.Error("expected wildcard to match appointment.status_changed")
	}

	results = m.Deliver(context.Background(), paymentEvent("evt-2"))
	if len(results) != 0 {
		t.Error("expected wildcard appointment.* NOT to match payment.recorded")
	}
}

func TestManager_Publish(t *testing.T) {
	var receivedBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	mustRegisterEndpoint(t, m, ts.URL+"/hook", []string{EventPaymentRecorded})

	m.Publish(context.Background(), EventPaymentRecorded, "Appointment", "a-9",
		map[string]interface{}{"order_id": "VF-7", "amount": 150000})

	var evt Event
	if err := json.Unmarshal(receivedBody, &evt); err != nil {
		t.Fatalf("decode delivered event: %v", err)
	}
	if evt.Type != EventPaymentRecorded {
		t.Errorf("expected event type payment.recorded, got %s", evt.Type)
	}
	if evt.ResourceID != "a-9" {
		t.Errorf("expected resource id a-9, got %s", evt.ResourceID)
	}
}

func TestManager_Publish_NilManager(t *testing.T) {
	var m *Manager
	// Must not panic.
	m.Publish(context.Background(), EventPaymentRecorded, "Appointment", "a-1", nil)
}

func TestManager_Deliver_RecordsAttempt(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	ep := mustRegisterEndpoint(t, m, ts.URL+"/hook", []string{EventPaymentRecorded})

	m.Deliver(context.Background(), paymentEvent("evt-1"))

	deliveries, total, err := m.GetDeliveryLogs(context.Background(), ep.ID, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 1 {
		t.Fatalf("expected 1 delivery, got %d", total)
	}
	if deliveries[0].Status != "success" {
		t.Errorf("expected status 'success', got %q", deliveries[0].Status)
	}
	if deliveries[0].EventType != EventPaymentRecorded {
		t.Errorf("expected event type payment.recorded, got %q", deliveries[0].EventType)
	}
}

func TestManager_Deliver_SignatureHeader(t *testing.T) {
	var sigHeader string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sigHeader = r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	ep := mustRegisterEndpoint(t, m, ts.URL+"/hook", []string{EventPaymentRecorded})

	m.Deliver(context.Background(), paymentEvent("evt-1"))

	if sigHeader == "" {
		t.Error("expected X-Webhook-Signature header to be set")
	}
	if !strings.HasPrefix(sigHeader, "sha256=") {
		t.Errorf("expected signature to start with 'sha256=', got %q", sigHeader)
	}

	deliveries, _, _ := m.GetDeliveryLogs(context.Background(), ep.ID, 10, 0)
	if len(deliveries) == 0 {
		t.Fatal("expected at least one delivery")
	}
	expectedSig := SignPayload(deliveries[0].Payload, ep.Secret)
	if sigHeader != "sha256="+expectedSig {
		t.Errorf("signature mismatch: header=%q, expected sha256=%s", sigHeader, expectedSig)
	}
}

func TestManager_Deliver_FailedEndpoint(t *testing.T) {
	// Use a URL that will definitely fail to connect
	m := newTestManager(&http.Client{Timeout: 100 * time.Millisecond})
	ep := mustRegisterEndpoint(t, m, "http://192.0.2.1:1/hook", []string{EventPaymentRecorded})

	results := m.Deliver(context.Background(), paymentEvent("evt-1"))

	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Success {
		t.Error("expected failure")
	}
	if results[0].Error == "" {
		t.Error("expected error message")
	}

	deliveries, _, _ := m.GetDeliveryLogs(context.Background(), ep.ID, 10, 0)
	if len(deliveries) == 0 {
		t.Fatal("expected delivery to be recorded")
	}
	if deliveries[0].Status != "failed" {
		t.Errorf("expected status 'failed', got %q", deliveries[0].Status)
	}
	if deliveries[0].StatusCode != 0 {
		t.Errorf("expected status code 0 for connection failure, got %d", deliveries[0].StatusCode)
	}
}

func TestManager_RetryDelivery(t *testing.T) {
	callCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	ep := mustRegisterEndpoint(t, m, ts.URL+"/hook", []string{EventPaymentRecorded})

	m.Deliver(context.Background(), paymentEvent("evt-1"))

	// Get the failed delivery
	deliveries, _, _ := m.GetDeliveryLogs(context.Background(), ep.ID, 10, 0)
	if len(deliveries) == 0 {
		t.Fatal("expected delivery to be recorded")
	}

	retryAttempt, err := m.RetryDelivery(context.Background(), deliveries[0].ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if retryAttempt.Status != "success" {
		t.Errorf("expected retry to succeed, got status %q", retryAttempt.Status)
	}
	if retryAttempt.Attempt != 2 {
		t.Errorf("expected attempt 2, got %d", retryAttempt.Attempt)
	}
}

func TestManager_RetryDelivery_NotFound(t *testing.T) {
	m := newTestManager(nil)
	_, err := m.RetryDelivery(context.Background(), "nonexistent-id")
	if err == nil {
		t.Error("expected error for unknown delivery ID")
	}
}

func TestManager_ConcurrentDelivery(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	m := newTestManager(ts.Client())
	mustRegisterEndpoint(t, m, ts.URL+"/hook", []string{EventPaymentRecorded})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results := m.Deliver(context.Background(), paymentEvent(fmt.Sprintf("evt-%d", idx)))
			if len(results) != 1 {
				t.Errorf("goroutine %d: expected 1 result, got %d", idx, len(results))
			}
		}(i)
	}
	wg.Wait()
}

func newTestEchoHandler(client *http.Client) (*Handler, *echo.Echo) {
	m := newTestManager(client)
	h := NewHandler(m)
	e := echo.New()
	return h, e
}

func TestHandler_RegisterEndpoint(t *testing.T) {
	h, e := newTestEchoHandler(nil)
	body := `{"url":"https://example.com/hook","secret":"my-secret","events":["payment.recorded"]}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.RegisterEndpoint(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var result map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &result)
	if result["id"] == nil || result["id"] == "" {
		t.Error("expected 'id' in response")
	}
	if result["url"] != "https://example.com/hook" {
		t.Errorf("unexpected URL: %v", result["url"])
	}
}

func TestHandler_ListEndpoints(t *testing.T) {
	h, e := newTestEchoHandler(nil)

	ctx := context.Background()
	h.manager.RegisterEndpoint(ctx, "https://example.com/hook1", "s1", []string{EventPaymentRecorded})
	h.manager.RegisterEndpoint(ctx, "https://example.com/hook2", "s2", []string{EventAppointmentStatusChanged})

	req := httptest.NewRequest(http.MethodGet, "/webhooks", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.ListEndpoints(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	var result map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &result)
	data, ok := result["data"].([]interface{})
	if !ok {
		t.Fatal("expected 'data' array in response")
	}
	if len(data) != 2 {
		t.Errorf("expected 2 endpoints, got %d", len(data))
	}
}

func TestHandler_RetryDelivery(t *testing.T) {
	callCount := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		if callCount == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	h, e := newTestEchoHandler(ts.Client())
	ep, _ := h.manager.RegisterEndpoint(context.Background(), ts.URL+"/hook", "s1", []string{EventPaymentRecorded})

	h.manager.Deliver(context.Background(), paymentEvent("evt-1"))

	deliveries, _, _ := h.manager.GetDeliveryLogs(context.Background(), ep.ID, 10, 0)
	if len(deliveries) == 0 {
		t.Fatal("expected at least one delivery")
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/deliveries/"+deliveries[0].ID+"/retry", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(deliveries[0].ID)

	if err := h.RetryDeliveryHandler(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}
