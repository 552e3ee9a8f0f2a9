package catalog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
	"github.com/vaxflow/vaxflow/internal/platform/clock"
)

// DoseInterval is the default spacing between planned doses of a series.
const DoseInterval = 30 * 24 * time.Hour

type Service struct {
	repo   Repository
	series SeriesRepository
	clk    clock.Clock
}

func NewService(repo Repository, series SeriesRepository, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{repo: repo, series: series, clk: clk}
}

// ResolveSelectable returns the options a guardian can pick for the given
// request type. NEXT_DOSE results are deduplicated by schedule id, first
// occurrence winning, and carry the prepaid annotation so combo-covered
// doses are never re-charged.
func (s *Service) ResolveSelectable(ctx context.Context, childID uuid.UUID, requestType string) ([]Selectable, error) {
	switch requestType {
	case RequestNewVaccine:
		return s.selectableNewVaccines(ctx, childID)
	case RequestNextDose:
		return s.selectableNextDoses(ctx, childID)
	case RequestVaccineCombo:
		return s.selectableCombos(ctx)
	default:
		return nil, apperr.New(apperr.Validation, "unknown request type: %s", requestType)
	}
}

func (s *Service) selectableNewVaccines(ctx context.Context, childID uuid.UUID) ([]Selectable, error) {
	items, err := s.repo.ListActiveItems(ctx)
	if err != nil {
		return nil, err
	}
	existing, err := s.series.ListSeriesByChild(ctx, childID)
	if err != nil {
		return nil, err
	}
	started := make(map[uuid.UUID]bool, len(existing))
	for _, sv := range existing {
		started[sv.VaccineID] = true
	}

	var out []Selectable
	for _, it := range items {
		if started[it.ID] {
			continue
		}
		id := it.ID
		out = append(out, Selectable{
			Kind:       RequestNewVaccine,
			VaccineID:  &id,
			Code:       it.Code,
			Name:       it.Name,
			TotalDoses: it.TotalDoses,
			Price:      it.Price,
		})
	}
	return out, nil
}

func (s *Service) selectableNextDoses(ctx context.Context, childID uuid.UUID) ([]Selectable, error) {
	doses, err := s.series.ListScheduledDosesByChild(ctx, childID)
	if err != nil {
		return nil, err
	}

	seen := make(map[uuid.UUID]bool, len(doses))
	var out []Selectable
	for _, d := range doses {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true

		sv, err := s.series.GetSeries(ctx, d.VaccineOfChildID)
		if err != nil {
			return nil, err
		}
		item, err := s.repo.GetItem(ctx, sv.VaccineID)
		if err != nil {
			return nil, err
		}

		price := item.Price
		if d.Prepaid {
			price = 0
		}
		doseID, seriesID, date := d.ID, sv.ID, d.ScheduledDate
		out = append(out, Selectable{
			Kind:             RequestNextDose,
			Name:             item.Name,
			Code:             item.Code,
			VaccineOfChildID: &seriesID,
			DoseScheduleID:   &doseID,
			DoseNumber:       d.DoseNumber,
			ScheduledDate:    &date,
			Prepaid:          d.Prepaid,
			Price:            price,
		})
	}
	return out, nil
}

func (s *Service) selectableCombos(ctx context.Context) ([]Selectable, error) {
	combos, err := s.repo.ListActiveCombos(ctx)
	if err != nil {
		return nil, err
	}
	var out []Selectable
	for _, c := range combos {
		id := c.ID
		out = append(out, Selectable{
			Kind:       RequestVaccineCombo,
			ComboID:    &id,
			Name:       c.Name,
			VaccineIDs: c.VaccineIDs,
			Price:      c.Price,
		})
	}
	return out, nil
}

// -- Price snapshots --

func (s *Service) PriceForNewVaccine(ctx context.Context, vaccineID uuid.UUID) (int64, error) {
	item, err := s.repo.GetItem(ctx, vaccineID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Validation, err, "vaccine %s not found", vaccineID)
	}
	if !item.Active {
		return 0, apperr.New(apperr.Validation, "vaccine %s is not active", vaccineID)
	}
	return item.Price, nil
}

// PriceForDose returns the charge for a scheduled dose and whether it is
// prepaid. Prepaid doses are charged zero.
func (s *Service) PriceForDose(ctx context.Context, doseScheduleID uuid.UUID) (int64, bool, error) {
	d, err := s.series.GetDose(ctx, doseScheduleID)
	if err != nil {
		return 0, false, apperr.Wrap(apperr.Validation, err, "dose schedule %s not found", doseScheduleID)
	}
	if d.Status != DoseScheduled {
		return 0, false, apperr.New(apperr.Precondition, "dose %s is %s, not %s", doseScheduleID, d.Status, DoseScheduled)
	}
	if d.Prepaid {
		return 0, true, nil
	}
	sv, err := s.series.GetSeries(ctx, d.VaccineOfChildID)
	if err != nil {
		return 0, false, err
	}
	item, err := s.repo.GetItem(ctx, sv.VaccineID)
	if err != nil {
		return 0, false, err
	}
	return item.Price, false, nil
}

func (s *Service) PriceForCombo(ctx context.Context, comboID uuid.UUID) (int64, error) {
	combo, err := s.repo.GetCombo(ctx, comboID)
	if err != nil {
		return 0, apperr.Wrap(apperr.Validation, err, "combo %s not found", comboID)
	}
	if !combo.Active {
		return 0, apperr.New(apperr.Validation, "combo %s is not active", comboID)
	}
	return combo.Price, nil
}

// -- Administration --

// ensureSeries returns the child's series for the vaccine, creating it with
// its full dose schedule when this is the first selection.
func (s *Service) ensureSeries(ctx context.Context, childID, vaccineID uuid.UUID, prepaid bool) (*VaccineOfChild, error) {
	if sv, err := s.series.GetSeriesByChildAndVaccine(ctx, childID, vaccineID); err == nil {
		return sv, nil
	}

	item, err := s.repo.GetItem(ctx, vaccineID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "vaccine %s not found", vaccineID)
	}

	sv := &VaccineOfChild{
		ChildID:    childID,
		VaccineID:  vaccineID,
		TotalDoses: item.TotalDoses,
	}
	if err := s.series.CreateSeries(ctx, sv); err != nil {
		return nil, err
	}

	now := s.clk.Now()
	for n := 1; n <= item.TotalDoses; n++ {
		d := &DoseSchedule{
			VaccineOfChildID: sv.ID,
			DoseNumber:       n,
			ScheduledDate:    now.Add(time.Duration(n-1) * DoseInterval),
			Status:           DoseScheduled,
			Prepaid:          prepaid,
		}
		if err := s.series.CreateDose(ctx, d); err != nil {
			return nil, err
		}
	}
	return sv, nil
}

// advance moves the series forward one dose and completes it when the last
// dose is given.
func (s *Service) advance(ctx context.Context, sv *VaccineOfChild) error {
	sv.CurrentDose++
	if sv.CurrentDose >= sv.TotalDoses {
		sv.Completed = true
	}
	return s.series.UpdateSeries(ctx, sv)
}

// AdministerNewVaccine records the first dose of a vaccine the child has no
// series for yet.
func (s *Service) AdministerNewVaccine(ctx context.Context, childID, vaccineID uuid.UUID) error {
	sv, err := s.ensureSeries(ctx, childID, vaccineID, false)
	if err != nil {
		return err
	}
	doses, err := s.series.ListScheduledDosesByChild(ctx, childID)
	if err != nil {
		return err
	}
	for _, d := range doses {
		if d.VaccineOfChildID == sv.ID && d.DoseNumber == sv.CurrentDose+1 {
			if err := s.series.UpdateDoseStatus(ctx, d.ID, DoseCompleted); err != nil {
				return err
			}
			break
		}
	}
	return s.advance(ctx, sv)
}

// AdministerNextDose completes an existing scheduled dose and advances the
// series.
func (s *Service) AdministerNextDose(ctx context.Context, vaccineOfChildID, doseScheduleID uuid.UUID) error {
	d, err := s.series.GetDose(ctx, doseScheduleID)
	if err != nil {
		return apperr.Wrap(apperr.Validation, err, "dose schedule %s not found", doseScheduleID)
	}
	if d.VaccineOfChildID != vaccineOfChildID {
		return apperr.New(apperr.Validation, "dose %s does not belong to series %s", doseScheduleID, vaccineOfChildID)
	}
	if d.Status == DoseCompleted {
		return apperr.New(apperr.Precondition, "dose %s is already completed", doseScheduleID)
	}
	sv, err := s.series.GetSeries(ctx, vaccineOfChildID)
	if err != nil {
		return err
	}
	if err := s.series.UpdateDoseStatus(ctx, d.ID, DoseCompleted); err != nil {
		return err
	}
	return s.advance(ctx, sv)
}

// AdministerCombo gives the first dose of every constituent vaccine.
// Remaining doses of each series are created prepaid, covered by the combo
// price.
func (s *Service) AdministerCombo(ctx context.Context, childID, comboID uuid.UUID) error {
	combo, err := s.repo.GetCombo(ctx, comboID)
	if err != nil {
		return apperr.Wrap(apperr.Validation, err, "combo %s not found", comboID)
	}
	for _, vaccineID := range combo.VaccineIDs {
		sv, err := s.ensureSeries(ctx, childID, vaccineID, true)
		if err != nil {
			return err
		}
		doses, err := s.series.ListScheduledDosesByChild(ctx, childID)
		if err != nil {
			return err
		}
		for _, d := range doses {
			if d.VaccineOfChildID == sv.ID && d.DoseNumber == sv.CurrentDose+1 {
				if err := s.series.UpdateDoseStatus(ctx, d.ID, DoseCompleted); err != nil {
					return err
				}
				break
			}
		}
		if err := s.advance(ctx, sv); err != nil {
			return err
		}
	}
	return nil
}

// RescheduleDose moves a planned dose to a new date on the same row. The
// dose number never changes and completed doses cannot move.
func (s *Service) RescheduleDose(ctx context.Context, doseScheduleID uuid.UUID, newDate time.Time) (*DoseSchedule, error) {
	d, err := s.series.GetDose(ctx, doseScheduleID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Validation, err, "dose schedule %s not found", doseScheduleID)
	}
	if d.Status == DoseCompleted {
		return nil, apperr.New(apperr.Precondition, "dose %s is already completed", doseScheduleID)
	}
	if err := s.series.UpdateDoseDate(ctx, d.ID, newDate); err != nil {
		return nil, err
	}
	d.ScheduledDate = newDate
	d.Status = DoseScheduled
	return d, nil
}

// -- Catalog administration --

func (s *Service) CreateItem(ctx context.Context, item *VaccineCatalogItem) error {
	if item.Code == "" || item.Name == "" {
		return apperr.New(apperr.Validation, "code and name are required")
	}
	if item.Price < 0 {
		return apperr.New(apperr.Validation, "price cannot be negative")
	}
	if item.TotalDoses < 1 {
		return apperr.New(apperr.Validation, "total_doses must be at least 1")
	}
	return s.repo.CreateItem(ctx, item)
}

func (s *Service) GetItem(ctx context.Context, id uuid.UUID) (*VaccineCatalogItem, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *Service) ListItems(ctx context.Context, limit, offset int) ([]*VaccineCatalogItem, int, error) {
	return s.repo.ListItems(ctx, limit, offset)
}

func (s *Service) CreateCombo(ctx context.Context, combo *VaccineCombo) error {
	if combo.Name == "" {
		return apperr.New(apperr.Validation, "name is required")
	}
	if len(combo.VaccineIDs) < 2 {
		return apperr.New(apperr.Validation, "a combo needs at least two vaccines")
	}
	if combo.Price < 0 {
		return apperr.New(apperr.Validation, "price cannot be negative")
	}
	return s.repo.CreateCombo(ctx, combo)
}
