package payment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
	"github.com/vaxflow/vaxflow/internal/platform/gateway"
	"github.com/vaxflow/vaxflow/internal/platform/webhook"
)

// AppointmentSource is what the payment engine needs from the appointment
// workflow: the amount still owed and the idempotent settlement flag.
// Implemented by the appointment service, wired in main.
type AppointmentSource interface {
	OutstandingAmount(ctx context.Context, id uuid.UUID) (int64, error)
	MarkPaid(ctx context.Context, id uuid.UUID, method string) error
}

// Engine reconciles payments from both the online provider and the cash
// desk. Every settlement, whichever path it arrives on, funnels through the
// same idempotent recorder.
type Engine struct {
	repo   Repository
	gw     gateway.Client
	appts  AppointmentSource
	events *webhook.Manager
	log    zerolog.Logger
}

func NewEngine(repo Repository, gw gateway.Client, appts AppointmentSource, events *webhook.Manager, log zerolog.Logger) *Engine {
	return &Engine{repo: repo, gw: gw, appts: appts, events: events, log: log}
}

func newOrderID() string { return "VF-" + uuid.New().String() }

// CreateIntent opens a payment attempt with the provider for the
// appointment's outstanding amount. Any earlier pending intent for the same
// appointment is superseded; only the newest order id can settle.
func (e *Engine) CreateIntent(ctx context.Context, appointmentID uuid.UUID, requestType, returnURL string) (*Intent, error) {
	switch requestType {
	case gateway.RequestTypeWallet, gateway.RequestTypeATM, gateway.RequestTypeCreditCard, gateway.RequestTypeAggregator:
	default:
		return nil, apperr.New(apperr.Validation, "invalid request type: %s", requestType)
	}

	amount, err := e.appts.OutstandingAmount(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if amount <= 0 {
		return nil, apperr.New(apperr.Precondition, "appointment %s has nothing due", appointmentID)
	}

	abandoned, err := e.repo.AbandonPendingIntents(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if abandoned > 0 {
		e.log.Info().
			Str("appointment_id", appointmentID.String()).
			Int("count", abandoned).
			Msg("superseded pending payment intents")
	}

	intent := &Intent{
		OrderID:       newOrderID(),
		AppointmentID: appointmentID,
		Amount:        amount,
		RequestType:   requestType,
		Status:        IntentPending,
	}

	resp, err := e.gw.CreatePayment(ctx, gateway.CreateRequest{
		OrderID:       intent.OrderID,
		AppointmentID: appointmentID,
		Amount:        amount,
		RequestType:   requestType,
		ReturnURL:     returnURL,
	})
	if err != nil {
		return nil, err
	}
	if resp.RedirectURL != "" {
		intent.RedirectURL = &resp.RedirectURL
	}
	if resp.TransactionID != "" {
		intent.TransactionID = &resp.TransactionID
	}

	if err := e.repo.CreateIntent(ctx, intent); err != nil {
		return nil, err
	}
	e.log.Info().
		Str("order_id", intent.OrderID).
		Str("appointment_id", appointmentID.String()).
		Int64("amount", amount).
		Str("request_type", requestType).
		Msg("payment intent created")
	return intent, nil
}

// CallbackParams are the provider's return/IPN query parameters.
type CallbackParams struct {
	OrderID       string
	AppointmentID string
	ResultCode    string
	Amount        int64
	TransactionID string
	Message       string
}

// HandleCallback processes a provider callback. Correlation runs on the
// structured order and appointment identifiers only. Replays are absorbed
// by the settlement ledger.
func (e *Engine) HandleCallback(ctx context.Context, p CallbackParams) (*Intent, error) {
	if p.OrderID == "" {
		return nil, apperr.New(apperr.Validation, "orderId is required")
	}
	intent, err := e.repo.GetIntentByOrderID(ctx, p.OrderID)
	if err != nil {
		e.log.Warn().Str("order_id", p.OrderID).Msg("callback for unknown order")
		return nil, apperr.Wrap(apperr.Correlation, err, "no payment intent for order %s", p.OrderID)
	}

	if p.AppointmentID != "" {
		cbAppt, err := uuid.Parse(p.AppointmentID)
		if err != nil || cbAppt != intent.AppointmentID {
			e.log.Warn().
				Str("order_id", p.OrderID).
				Str("callback_appointment_id", p.AppointmentID).
				Str("intent_appointment_id", intent.AppointmentID.String()).
				Msg("callback appointment does not match intent")
			return nil, apperr.New(apperr.Correlation,
				"callback appointment %s does not match order %s", p.AppointmentID, p.OrderID)
		}
	}

	// The intent amount is authoritative; a diverging callback amount is
	// logged for manual reconciliation, never trusted.
	if p.Amount > 0 && p.Amount != intent.Amount {
		e.log.Warn().
			Str("order_id", p.OrderID).
			Int64("callback_amount", p.Amount).
			Int64("intent_amount", intent.Amount).
			Msg("callback amount does not match intent")
	}

	return e.applyResult(ctx, intent, p.ResultCode, p.TransactionID, p.Message, "callback")
}

// CheckStatus polls the provider for the order's outcome. This is the
// fallback for lost callbacks; a successful poll settles through the same
// recorder the callback path uses. Superseded orders never settle, but
// they are still polled: money the provider collected on an abandoned
// order must surface somewhere.
func (e *Engine) CheckStatus(ctx context.Context, orderID string) (*Intent, error) {
	intent, err := e.repo.GetIntentByOrderID(ctx, orderID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Correlation, err, "no payment intent for order %s", orderID)
	}
	if intent.Status == IntentAbandoned {
		if status, err := e.gw.QueryStatus(ctx, orderID); err == nil && IsSuccessCode(status.ResultCode) {
			e.log.Warn().
				Str("order_id", orderID).
				Str("appointment_id", intent.AppointmentID.String()).
				Str("result_code", status.ResultCode).
				Int64("amount", intent.Amount).
				Msg("superseded order completed at the provider; needs manual reconciliation")
		}
		return intent, nil
	}
	if intent.Status != IntentPending {
		return intent, nil
	}

	status, err := e.gw.QueryStatus(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return e.applyResult(ctx, intent, status.ResultCode, status.TransactionID, status.Message, "status poll")
}

// applyResult settles or fails an intent based on a provider result code.
// Non-pending intents pass through unchanged so replays are no-op acks.
func (e *Engine) applyResult(ctx context.Context, intent *Intent, resultCode, transactionID, message, source string) (*Intent, error) {
	if intent.Status != IntentPending {
		e.log.Info().
			Str("order_id", intent.OrderID).
			Str("status", intent.Status).
			Str("source", source).
			Msg("duplicate payment result ignored")
		return intent, nil
	}

	var txID *string
	if transactionID != "" {
		txID = &transactionID
	}
	code := resultCode

	if !IsSuccessCode(resultCode) {
		if err := e.repo.UpdateIntentResult(ctx, intent.OrderID, IntentFailed, &code, txID); err != nil {
			return nil, err
		}
		e.log.Warn().
			Str("order_id", intent.OrderID).
			Str("result_code", resultCode).
			Str("message", message).
			Str("source", source).
			Msg("payment failed")
		intent.Status = IntentFailed
		intent.ResultCode = &code
		intent.TransactionID = txID
		return intent, nil
	}

	if err := e.settle(ctx, intent.OrderID, intent.AppointmentID, intent.Amount, MethodOnline, txID); err != nil {
		return nil, err
	}
	if err := e.repo.UpdateIntentResult(ctx, intent.OrderID, IntentSucceeded, &code, txID); err != nil {
		return nil, err
	}
	e.log.Info().
		Str("order_id", intent.OrderID).
		Str("appointment_id", intent.AppointmentID.String()).
		Int64("amount", intent.Amount).
		Str("result_code", resultCode).
		Str("source", source).
		Msg("payment settled")

	intent.Status = IntentSucceeded
	intent.ResultCode = &code
	intent.TransactionID = txID
	return intent, nil
}

// RecordCash settles an appointment at the cash desk. The tendered amount
// must match the outstanding amount exactly.
func (e *Engine) RecordCash(ctx context.Context, appointmentID uuid.UUID, amount int64, cashierID uuid.UUID, notes *string) (*CashPayment, error) {
	due, err := e.appts.OutstandingAmount(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if amount != due {
		return nil, apperr.New(apperr.Validation,
			"tendered amount %d does not match amount due %d", amount, due)
	}

	cp := &CashPayment{
		AppointmentID: appointmentID,
		Amount:        amount,
		CashierID:     cashierID,
		Notes:         notes,
	}
	if err := e.repo.CreateCashPayment(ctx, cp); err != nil {
		return nil, err
	}

	orderID := fmt.Sprintf("CASH-%s", cp.ID)
	if err := e.settle(ctx, orderID, appointmentID, amount, MethodCash, nil); err != nil {
		return nil, err
	}
	e.log.Info().
		Str("appointment_id", appointmentID.String()).
		Str("cashier_id", cashierID.String()).
		Int64("amount", amount).
		Msg("cash payment settled")
	return cp, nil
}

// settle is the single recorder both payment paths converge on: append to
// the ledger, flip the appointment's paid flag, publish the event. Every
// step is idempotent, so a crash between them is safe to replay.
func (e *Engine) settle(ctx context.Context, orderID string, appointmentID uuid.UUID, amount int64, method string, txID *string) error {
	rec := &Record{
		OrderID:       orderID,
		AppointmentID: appointmentID,
		Amount:        amount,
		Method:        method,
		TransactionID: txID,
	}
	applied, err := e.repo.InsertRecord(ctx, rec)
	if err != nil {
		return err
	}
	if !applied {
		e.log.Info().Str("order_id", orderID).Msg("settlement already recorded")
	}

	if err := e.appts.MarkPaid(ctx, appointmentID, method); err != nil {
		return err
	}

	if applied {
		e.events.Publish(ctx, webhook.EventPaymentRecorded, "Payment", orderID,
			map[string]interface{}{
				"order_id":       orderID,
				"appointment_id": appointmentID,
				"amount":         amount,
				"method":         method,
			})
	}
	return nil
}

// History lists an appointment's settlement ledger.
func (e *Engine) History(ctx context.Context, appointmentID uuid.UUID) ([]*Record, error) {
	return e.repo.ListRecordsByAppointment(ctx, appointmentID)
}

// Intents lists an appointment's payment attempts, newest first.
func (e *Engine) Intents(ctx context.Context, appointmentID uuid.UUID) ([]*Intent, error) {
	return e.repo.ListIntentsByAppointment(ctx, appointmentID)
}
