package payment

import (
	"time"

	"github.com/google/uuid"
)

// Intent lifecycle.
const (
	IntentPending   = "PENDING"
	IntentSucceeded = "SUCCEEDED"
	IntentFailed    = "FAILED"
	IntentAbandoned = "ABANDONED"
)

// Settlement methods recorded on the appointment.
const (
	MethodOnline = "ONLINE"
	MethodCash   = "CASH"
)

// successResultCodes is the single source of truth for which provider
// result codes mean "paid". "0" is the current success code; "100" is the
// code older provider integrations returned and is still honored.
var successResultCodes = map[string]bool{
	"0":   true,
	"100": true,
}

// IsSuccessCode reports whether a provider result code means the payment
// went through.
func IsSuccessCode(code string) bool { return successResultCodes[code] }

// Intent is one attempt to collect an appointment's outstanding amount
// through the online provider. The appointment correlation is a typed
// column, never parsed out of a description string.
type Intent struct {
	ID            uuid.UUID `json:"id" db:"id"`
	OrderID       string    `json:"order_id" db:"order_id"`
	AppointmentID uuid.UUID `json:"appointment_id" db:"appointment_id"`
	Amount        int64     `json:"amount" db:"amount"`
	RequestType   string    `json:"request_type" db:"request_type"`
	RedirectURL   *string   `json:"redirect_url,omitempty" db:"redirect_url"`
	TransactionID *string   `json:"transaction_id,omitempty" db:"transaction_id"`
	ResultCode    *string   `json:"result_code,omitempty" db:"result_code"`
	Status        string    `json:"status" db:"status"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time `json:"updated_at" db:"updated_at"`
}

// Record is one row of the settlement ledger. order_id carries a unique
// constraint, so replayed callbacks and duplicate polls insert nothing.
type Record struct {
	ID            uuid.UUID `json:"id" db:"id"`
	OrderID       string    `json:"order_id" db:"order_id"`
	AppointmentID uuid.UUID `json:"appointment_id" db:"appointment_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Method        string    `json:"method" db:"method"`
	TransactionID *string   `json:"transaction_id,omitempty" db:"transaction_id"`
	RecordedAt    time.Time `json:"recorded_at" db:"recorded_at"`
}

// CashPayment is the cashier-side receipt behind a cash settlement.
type CashPayment struct {
	ID            uuid.UUID `json:"id" db:"id"`
	AppointmentID uuid.UUID `json:"appointment_id" db:"appointment_id"`
	Amount        int64     `json:"amount" db:"amount"`
	CashierID     uuid.UUID `json:"cashier_id" db:"cashier_id"`
	Notes         *string   `json:"notes,omitempty" db:"notes"`
	ReceivedAt    time.Time `json:"received_at" db:"received_at"`
}
