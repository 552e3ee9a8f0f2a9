package payment

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists intents, the settlement ledger, and cash receipts.
type Repository interface {
	CreateIntent(ctx context.Context, in *Intent) error
	GetIntentByOrderID(ctx context.Context, orderID string) (*Intent, error)
	ListIntentsByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Intent, error)
	// AbandonPendingIntents marks every PENDING intent of the appointment
	// ABANDONED and returns how many were superseded.
	AbandonPendingIntents(ctx context.Context, appointmentID uuid.UUID) (int, error)
	UpdateIntentResult(ctx context.Context, orderID, status string, resultCode, transactionID *string) error

	// InsertRecord appends to the settlement ledger. Returns false when a
	// record with the same order id already exists.
	InsertRecord(ctx context.Context, rec *Record) (bool, error)
	ListRecordsByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Record, error)

	CreateCashPayment(ctx context.Context, cp *CashPayment) error
}
