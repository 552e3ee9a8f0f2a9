package catalog

import (
	"context"
	"time"

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

func resolveConn(ctx context.Context, pool *pgxpool.Pool) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	if c := db.ConnFromContext(ctx); c != nil {
		return c
	}
	return pool
}

// =========== Catalog Repository ===========

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable { return resolveConn(ctx, r.pool) }

const itemCols = `id, code, name, price, total_doses, description, active, created_at, updated_at`

func scanItem(row pgx.Row) (*VaccineCatalogItem, error) {
	var it VaccineCatalogItem
	err := row.Scan(&it.ID, &it.Code, &it.Name, &it.Price, &it.TotalDoses,
		&it.Description, &it.Active, &it.CreatedAt, &it.UpdatedAt)
	return &it, err
}

func (r *repoPG) CreateItem(ctx context.Context, item *VaccineCatalogItem) error {
	item.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO vaccine_catalog_item (id, code, name, price, total_doses, description, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		item.ID, item.Code, item.Name, item.Price, item.TotalDoses, item.Description, item.Active)
	return err
}

func (r *repoPG) GetItem(ctx context.Context, id uuid.UUID) (*VaccineCatalogItem, error) {
	return scanItem(r.conn(ctx).QueryRow(ctx, `SELECT `+itemCols+` FROM vaccine_catalog_item WHERE id = $1`, id))
}

func (r *repoPG) UpdateItem(ctx context.Context, item *VaccineCatalogItem) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE vaccine_catalog_item SET code=$2, name=$3, price=$4, total_doses=$5,
			description=$6, active=$7, updated_at=NOW()
		WHERE id = $1`,
		item.ID, item.Code, item.Name, item.Price, item.TotalDoses, item.Description, item.Active)
	return err
}

func (r *repoPG) ListItems(ctx context.Context, limit, offset int) ([]*VaccineCatalogItem, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM vaccine_catalog_item`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM vaccine_catalog_item ORDER BY name LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := collectItems(rows)
	return items, total, err
}

func (r *repoPG) ListActiveItems(ctx context.Context) ([]*VaccineCatalogItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+itemCols+` FROM vaccine_catalog_item WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func collectItems(rows pgx.Rows) ([]*VaccineCatalogItem, error) {
	var items []*VaccineCatalogItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

const comboCols = `id, name, price, description, active, created_at, updated_at`

func scanCombo(row pgx.Row) (*VaccineCombo, error) {
	var c VaccineCombo
	err := row.Scan(&c.ID, &c.Name, &c.Price, &c.Description, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	return &c, err
}

func (r *repoPG) CreateCombo(ctx context.Context, combo *VaccineCombo) error {
	combo.ID = uuid.New()
	conn := r.conn(ctx)
	_, err := conn.Exec(ctx, `
		INSERT INTO vaccine_combo (id, name, price, description, active)
		VALUES ($1,$2,$3,$4,$5)`,
		combo.ID, combo.Name, combo.Price, combo.Description, combo.Active)
	if err != nil {
		return err
	}
	for _, vid := range combo.VaccineIDs {
		if _, err := conn.Exec(ctx, `
			INSERT INTO vaccine_combo_item (combo_id, vaccine_id) VALUES ($1,$2)`,
			combo.ID, vid); err != nil {
			return err
		}
	}
	return nil
}

func (r *repoPG) GetCombo(ctx context.Context, id uuid.UUID) (*VaccineCombo, error) {
	combo, err := scanCombo(r.conn(ctx).QueryRow(ctx, `SELECT `+comboCols+` FROM vaccine_combo WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadComboItems(ctx, combo); err != nil {
		return nil, err
	}
	return combo, nil
}

func (r *repoPG) ListActiveCombos(ctx context.Context) ([]*VaccineCombo, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+comboCols+` FROM vaccine_combo WHERE active ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var combos []*VaccineCombo
	for rows.Next() {
		c, err := scanCombo(rows)
		if err != nil {
			return nil, err
		}
		combos = append(combos, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, c := range combos {
		if err := r.loadComboItems(ctx, c); err != nil {
			return nil, err
		}
	}
	return combos, nil
}

func (r *repoPG) loadComboItems(ctx context.Context, combo *VaccineCombo) error {
	rows, err := r.conn(ctx).Query(ctx, `SELECT vaccine_id FROM vaccine_combo_item WHERE combo_id = $1`, combo.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var vid uuid.UUID
		if err := rows.Scan(&vid); err != nil {
			return err
		}
		combo.VaccineIDs = append(combo.VaccineIDs, vid)
	}
	return rows.Err()
}

// =========== Series Repository ===========

type seriesRepoPG struct{ pool *pgxpool.Pool }

func NewSeriesRepoPG(pool *pgxpool.Pool) SeriesRepository {
	return &seriesRepoPG{pool: pool}
}

func (r *seriesRepoPG) conn(ctx context.Context) queryable { return resolveConn(ctx, r.pool) }

const seriesCols = `id, child_id, vaccine_id, current_dose, total_doses, completed, created_at, updated_at`

func scanSeries(row pgx.Row) (*VaccineOfChild, error) {
	var s VaccineOfChild
	err := row.Scan(&s.ID, &s.ChildID, &s.VaccineID, &s.CurrentDose, &s.TotalDoses,
		&s.Completed, &s.CreatedAt, &s.UpdatedAt)
	return &s, err
}

func (r *seriesRepoPG) CreateSeries(ctx context.Context, s *VaccineOfChild) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO vaccine_of_child (id, child_id, vaccine_id, current_dose, total_doses, completed)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		s.ID, s.ChildID, s.VaccineID, s.CurrentDose, s.TotalDoses, s.Completed)
	return err
}

func (r *seriesRepoPG) GetSeries(ctx context.Context, id uuid.UUID) (*VaccineOfChild, error) {
	return scanSeries(r.conn(ctx).QueryRow(ctx, `SELECT `+seriesCols+` FROM vaccine_of_child WHERE id = $1`, id))
}

func (r *seriesRepoPG) GetSeriesByChildAndVaccine(ctx context.Context, childID, vaccineID uuid.UUID) (*VaccineOfChild, error) {
	return scanSeries(r.conn(ctx).QueryRow(ctx,
		`SELECT `+seriesCols+` FROM vaccine_of_child WHERE child_id = $1 AND vaccine_id = $2`, childID, vaccineID))
}

func (r *seriesRepoPG) ListSeriesByChild(ctx context.Context, childID uuid.UUID) ([]*VaccineOfChild, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+seriesCols+` FROM vaccine_of_child WHERE child_id = $1 ORDER BY created_at`, childID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*VaccineOfChild
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *seriesRepoPG) UpdateSeries(ctx context.Context, s *VaccineOfChild) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE vaccine_of_child SET current_dose=$2, completed=$3, updated_at=NOW()
		WHERE id = $1`,
		s.ID, s.CurrentDose, s.Completed)
	return err
}

const doseCols = `id, vaccine_of_child_id, dose_number, scheduled_date, status, prepaid, created_at, updated_at`

func scanDose(row pgx.Row) (*DoseSchedule, error) {
	var d DoseSchedule
	err := row.Scan(&d.ID, &d.VaccineOfChildID, &d.DoseNumber, &d.ScheduledDate,
		&d.Status, &d.Prepaid, &d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *seriesRepoPG) CreateDose(ctx context.Context, d *DoseSchedule) error {
	d.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO dose_schedule (id, vaccine_of_child_id, dose_number, scheduled_date, status, prepaid)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		d.ID, d.VaccineOfChildID, d.DoseNumber, d.ScheduledDate, d.Status, d.Prepaid)
	return err
}

func (r *seriesRepoPG) GetDose(ctx context.Context, id uuid.UUID) (*DoseSchedule, error) {
	return scanDose(r.conn(ctx).QueryRow(ctx, `SELECT `+doseCols+` FROM dose_schedule WHERE id = $1`, id))
}

func (r *seriesRepoPG) ListScheduledDosesByChild(ctx context.Context, childID uuid.UUID) ([]*DoseSchedule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT d.id, d.vaccine_of_child_id, d.dose_number, d.scheduled_date, d.status, d.prepaid, d.created_at, d.updated_at
		FROM dose_schedule d
		JOIN vaccine_of_child v ON v.id = d.vaccine_of_child_id
		WHERE v.child_id = $1 AND d.status = $2
		ORDER BY d.scheduled_date`, childID, DoseScheduled)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var doses []*DoseSchedule
	for rows.Next() {
		d, err := scanDose(rows)
		if err != nil {
			return nil, err
		}
		doses = append(doses, d)
	}
	return doses, rows.Err()
}

func (r *seriesRepoPG) UpdateDoseDate(ctx context.Context, id uuid.UUID, date time.Time) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE dose_schedule SET scheduled_date=$2, status=$3, updated_at=NOW() WHERE id = $1`,
		id, date, DoseScheduled)
	return err
}

func (r *seriesRepoPG) UpdateDoseStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE dose_schedule SET status=$2, updated_at=NOW() WHERE id = $1`, id, status)
	return err
}
