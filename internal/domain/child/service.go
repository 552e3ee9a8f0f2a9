package child

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vaxflow/vaxflow/internal/platform/apperr"
)

var validGenders = map[string]bool{"male": true, "female": true, "other": true}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Create(ctx context.Context, c *Child) error {
	if c.FullName == "" {
		return apperr.New(apperr.Validation, "full_name is required")
	}
	if c.DateOfBirth.IsZero() {
		return apperr.New(apperr.Validation, "date_of_birth is required")
	}
	if c.DateOfBirth.After(time.Now()) {
		return apperr.New(apperr.Validation, "date_of_birth cannot be in the future")
	}
	if c.GuardianID == uuid.Nil {
		return apperr.New(apperr.Validation, "guardian_id is required")
	}
	if c.Gender != "" && !validGenders[c.Gender] {
		return apperr.New(apperr.Validation, "invalid gender: %s", c.Gender)
	}
	return s.repo.Create(ctx, c)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Child, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) Update(ctx context.Context, c *Child) error {
	if c.Gender != "" && !validGenders[c.Gender] {
		return apperr.New(apperr.Validation, "invalid gender: %s", c.Gender)
	}
	return s.repo.Update(ctx, c)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.repo.Delete(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Child, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByGuardian(ctx context.Context, guardianID uuid.UUID, limit, offset int) ([]*Child, int, error) {
	return s.repo.ListByGuardian(ctx, guardianID, limit, offset)
}
