package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
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

const apptCols = `id, child_id, scheduled_date, time_slot, doctor_id, status, paid,
	payment_method, notes, cancel_reason, version, created_at, updated_at`

func scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.ChildID, &a.ScheduledDate, &a.TimeSlot, &a.DoctorID,
		&a.Status, &a.Paid, &a.PaymentMethod, &a.Notes, &a.CancelReason,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	a.Version = 1
	conn := r.conn(ctx)
	_, err := conn.Exec(ctx, `
		INSERT INTO appointment (id, child_id, scheduled_date, time_slot, doctor_id,
			status, paid, payment_method, notes, version)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		a.ID, a.ChildID, a.ScheduledDate, a.TimeSlot, a.DoctorID,
		a.Status, a.Paid, a.PaymentMethod, a.Notes, a.Version)
	if err != nil {
		return err
	}
	for _, it := range a.Items {
		it.ID = uuid.New()
		it.AppointmentID = a.ID
		if _, err := conn.Exec(ctx, `
			INSERT INTO appointment_vaccine (id, appointment_id, kind, vaccine_id, dose_number,
				vaccine_of_child_id, dose_schedule_id, combo_id, price, prepaid, status)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			it.ID, it.AppointmentID, it.Kind, it.VaccineID, it.DoseNumber,
			it.VaccineOfChildID, it.DoseScheduleID, it.ComboID, it.Price, it.Prepaid, it.Status); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := scanAppt(r.conn(ctx).QueryRow(ctx, `SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	items, err := r.listItems(ctx, id)
	if err != nil {
		return nil, err
	}
	a.Items = items
	return a, nil
}

func (r *repoPG) List(ctx context.Context, f ListFilter, limit, offset int) ([]*Appointment, int, error) {
	where := "WHERE 1=1"
	args := []interface{}{}
	n := 0
	add := func(clause string, v interface{}) {
		n++
		where += fmt.Sprintf(" AND "+clause, n)
		args = append(args, v)
	}
	if f.ChildID != nil {
		add("child_id = $%d", *f.ChildID)
	}
	if f.DoctorID != nil {
		add("doctor_id = $%d", *f.DoctorID)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.Date != nil {
		add("scheduled_date::date = $%d::date", *f.Date)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM appointment `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := fmt.Sprintf(`SELECT `+apptCols+` FROM appointment %s ORDER BY scheduled_date, created_at LIMIT $%d OFFSET $%d`,
		where, n+1, n+2)
	args = append(args, limit, offset)
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var appts []*Appointment
	for rows.Next() {
		a, err := scanAppt(rows)
		if err != nil {
			return nil, 0, err
		}
		appts = append(appts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	for _, a := range appts {
		items, err := r.listItems(ctx, a.ID)
		if err != nil {
			return nil, 0, err
		}
		a.Items = items
	}
	return appts, total, nil
}

// UpdateStatus is the compare-and-swap write: the row moves only when the
// stored version is still the one the caller read.
func (r *repoPG) UpdateStatus(ctx context.Context, u StatusUpdate) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment
		SET status = $3,
			doctor_id = COALESCE($4, doctor_id),
			cancel_reason = COALESCE($5, cancel_reason),
			version = version + 1,
			updated_at = NOW()
		WHERE id = $1 AND version = $2`,
		u.ID, u.Version, u.NewStatus, u.DoctorID, u.CancelReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.Conflict, "appointment %s changed concurrently", u.ID)
	}
	return nil
}

// MarkPaid flips paid exactly once. The second application matches zero
// rows and reports applied=false, which callers treat as an idempotent ack.
func (r *repoPG) MarkPaid(ctx context.Context, id uuid.UUID, method string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment
		SET paid = TRUE, payment_method = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND paid = FALSE`,
		id, method)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const itemCols = `id, appointment_id, kind, vaccine_id, dose_number, vaccine_of_child_id,
	dose_schedule_id, combo_id, price, prepaid, status, health_record_id,
	vaccination_record_id, created_at, updated_at`

func scanItem(row pgx.Row) (*AppointmentVaccine, error) {
	var v AppointmentVaccine
	err := row.Scan(&v.ID, &v.AppointmentID, &v.Kind, &v.VaccineID, &v.DoseNumber,
		&v.VaccineOfChildID, &v.DoseScheduleID, &v.ComboID, &v.Price, &v.Prepaid,
		&v.Status, &v.HealthRecordID, &v.VaccinationRecordID, &v.CreatedAt, &v.UpdatedAt)
	return &v, err
}

func (r *repoPG) GetItem(ctx context.Context, itemID uuid.UUID) (*AppointmentVaccine, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM appointment_vaccine WHERE id = $1`, itemID))
}

func (r *repoPG) listItems(ctx context.Context, appointmentID uuid.UUID) ([]*AppointmentVaccine, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+itemCols+` FROM appointment_vaccine WHERE appointment_id = $1 ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*AppointmentVaccine
	for rows.Next() {
		v, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, v)
	}
	return items, rows.Err()
}

// UpdateItemStatus moves a line item through the approval pipeline guarded
// by the expected current state; a raced or repeated action loses the
// guard and surfaces as Conflict.
func (r *repoPG) UpdateItemStatus(ctx context.Context, itemID uuid.UUID, from, to string, healthRecordID, vaccinationRecordID *uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment_vaccine
		SET status = $3,
			health_record_id = COALESCE($4, health_record_id),
			vaccination_record_id = COALESCE($5, vaccination_record_id),
			updated_at = NOW()
		WHERE id = $1 AND status = $2`,
		itemID, from, to, healthRecordID, vaccinationRecordID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.New(apperr.Conflict, "line item %s is no longer %s", itemID, from)
	}
	return nil
}

func (r *repoPG) CreateHealthRecord(ctx context.Context, hr *HealthRecord) error {
	hr.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO health_record (id, appointment_vaccine_id, doctor_id, temperature_c,
			weight_kg, heart_rate, notes, approved, rejection_reason)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		hr.ID, hr.ItemID, hr.DoctorID, hr.TemperatureC, hr.WeightKg, hr.HeartRate,
		hr.Notes, hr.Approved, hr.RejectionReason)
	return err
}

func (r *repoPG) CreateVaccinationRecord(ctx context.Context, vr *VaccinationRecord) error {
	vr.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO vaccination_record (id, appointment_vaccine_id, nurse_id, batch_number,
			expiry_date, injection_site, route, dose_amount_ml, administered_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		vr.ID, vr.ItemID, vr.NurseID, vr.BatchNumber, vr.ExpiryDate,
		vr.InjectionSite, vr.Route, vr.DoseAmountML, vr.AdministeredAt)
	return err
}

func (r *repoPG) ListVaccinationRecords(ctx context.Context, appointmentID uuid.UUID) ([]*VaccinationRecord, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT vr.id, vr.appointment_vaccine_id, vr.nurse_id, vr.batch_number, vr.expiry_date,
			vr.injection_site, vr.route, vr.dose_amount_ml, vr.administered_at, vr.created_at
		FROM vaccination_record vr
		JOIN appointment_vaccine av ON av.id = vr.appointment_vaccine_id
		WHERE av.appointment_id = $1
		ORDER BY vr.administered_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var records []*VaccinationRecord
	for rows.Next() {
		var vr VaccinationRecord
		if err := rows.Scan(&vr.ID, &vr.ItemID, &vr.NurseID, &vr.BatchNumber, &vr.ExpiryDate,
			&vr.InjectionSite, &vr.Route, &vr.DoseAmountML, &vr.AdministeredAt, &vr.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, &vr)
	}
	return records, rows.Err()
}

func (r *repoPG) CreatePostCareRecord(ctx context.Context, pc *PostCareRecord) error {
	pc.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO post_care_record (id, appointment_id, staff_id, observations)
		VALUES ($1,$2,$3,$4)`,
		pc.ID, pc.AppointmentID, pc.StaffID, pc.Observations)
	return err
}

func (r *repoPG) AddStatusHistory(ctx context.Context, h *StatusHistory) error {
	h.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment_status_history (id, appointment_id, from_status, to_status, changed_by, reason)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		h.ID, h.AppointmentID, h.FromStatus, h.ToStatus, h.ChangedBy, h.Reason)
	return err
}

func (r *repoPG) ListStatusHistory(ctx context.Context, appointmentID uuid.UUID) ([]*StatusHistory, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, appointment_id, from_status, to_status, changed_by, reason, created_at
		FROM appointment_status_history
		WHERE appointment_id = $1
		ORDER BY created_at`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var history []*StatusHistory
	for rows.Next() {
		var h StatusHistory
		if err := rows.Scan(&h.ID, &h.AppointmentID, &h.FromStatus, &h.ToStatus,
			&h.ChangedBy, &h.Reason, &h.CreatedAt); err != nil {
			return nil, err
		}
		history = append(history, &h)
	}
	return history, rows.Err()
}
