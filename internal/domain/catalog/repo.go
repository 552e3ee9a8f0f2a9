package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists the read-mostly catalog reference data.
type Repository interface {
	CreateItem(ctx context.Context, item *VaccineCatalogItem) error
	GetItem(ctx context.Context, id uuid.UUID) (*VaccineCatalogItem, error)
	UpdateItem(ctx context.Context, item *VaccineCatalogItem) error
	ListItems(ctx context.Context, limit, offset int) ([]*VaccineCatalogItem, int, error)
	ListActiveItems(ctx context.Context) ([]*VaccineCatalogItem, error)

	CreateCombo(ctx context.Context, combo *VaccineCombo) error
	GetCombo(ctx context.Context, id uuid.UUID) (*VaccineCombo, error)
	ListActiveCombos(ctx context.Context) ([]*VaccineCombo, error)
}

// SeriesRepository persists per-child series progress and dose schedules.
type SeriesRepository interface {
	CreateSeries(ctx context.Context, s *VaccineOfChild) error
	GetSeries(ctx context.Context, id uuid.UUID) (*VaccineOfChild, error)
	GetSeriesByChildAndVaccine(ctx context.Context, childID, vaccineID uuid.UUID) (*VaccineOfChild, error)
	ListSeriesByChild(ctx context.Context, childID uuid.UUID) ([]*VaccineOfChild, error)
	UpdateSeries(ctx context.Context, s *VaccineOfChild) error

	CreateDose(ctx context.Context, d *DoseSchedule) error
	GetDose(ctx context.Context, id uuid.UUID) (*DoseSchedule, error)
	ListScheduledDosesByChild(ctx context.Context, childID uuid.UUID) ([]*DoseSchedule, error)
	UpdateDoseDate(ctx context.Context, id uuid.UUID, date time.Time) error
	UpdateDoseStatus(ctx context.Context, id uuid.UUID, status string) error
}
