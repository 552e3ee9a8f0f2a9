package payment

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxflow/vaxflow/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return r.pool
}

const intentCols = `id, order_id, appointment_id, amount, request_type, redirect_url,
	transaction_id, result_code, status, created_at, updated_at`

func scanIntent(row pgx.Row) (*Intent, error) {
	var in Intent
	err := row.Scan(&in.ID, &in.OrderID, &in.AppointmentID, &in.Amount, &in.RequestType,
		&in.RedirectURL, &in.TransactionID, &in.ResultCode, &in.Status, &in.CreatedAt, &in.UpdatedAt)
	return &in, err
}

func (r *repoPG) CreateIntent(ctx context.Context, in *Intent) error {
	in.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment_intent (id, order_id, appointment_id, amount, request_type, redirect_url, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		in.ID, in.OrderID, in.AppointmentID, in.Amount, in.RequestType, in.RedirectURL, in.Status)
	return err
}

func (r *repoPG) GetIntentByOrderID(ctx context.Context, orderID string) (*Intent, error) {
	return scanIntent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+intentCols+` FROM payment_intent WHERE order_id = $1`, orderID))
}

func (r *repoPG) ListIntentsByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Intent, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+intentCols+` FROM payment_intent WHERE appointment_id = $1 ORDER BY created_at DESC`,
		appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Intent
	for rows.Next() {
		in, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
	}
	return out, rows.Err()
}

func (r *repoPG) AbandonPendingIntents(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment_intent SET status = $2, updated_at = NOW()
		WHERE appointment_id = $1 AND status = $3`,
		appointmentID, IntentAbandoned, IntentPending)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *repoPG) UpdateIntentResult(ctx context.Context, orderID, status string, resultCode, transactionID *string) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment_intent
		SET status = $2,
		    result_code = COALESCE($3, result_code),
		    transaction_id = COALESCE($4, transaction_id),
		    updated_at = NOW()
		WHERE order_id = $1`,
		orderID, status, resultCode, transactionID)
	return err
}

func (r *repoPG) InsertRecord(ctx context.Context, rec *Record) (bool, error) {
	rec.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO payment_record (id, order_id, appointment_id, amount, method, transaction_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (order_id) DO NOTHING`,
		rec.ID, rec.OrderID, rec.AppointmentID, rec.Amount, rec.Method, rec.TransactionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) ListRecordsByAppointment(ctx context.Context, appointmentID uuid.UUID) ([]*Record, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, order_id, appointment_id, amount, method, transaction_id, recorded_at
		FROM payment_record WHERE appointment_id = $1 ORDER BY recorded_at`,
		appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.OrderID, &rec.AppointmentID, &rec.Amount,
			&rec.Method, &rec.TransactionID, &rec.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func (r *repoPG) CreateCashPayment(ctx context.Context, cp *CashPayment) error {
	cp.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO cash_payment (id, appointment_id, amount, cashier_id, notes)
		VALUES ($1,$2,$3,$4,$5)`,
		cp.ID, cp.AppointmentID, cp.Amount, cp.CashierID, cp.Notes)
	return err
}
