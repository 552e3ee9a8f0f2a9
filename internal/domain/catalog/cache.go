package catalog

import (
	"context"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// cachedRepo is a read-through LRU cache over a Repository. Catalog items
// and combos are reference data hit on every price snapshot, so single-row
// reads are served from memory. Writes invalidate the touched key.
type cachedRepo struct {
	Repository
	items  *lru.Cache[uuid.UUID, *VaccineCatalogItem]
	combos *lru.Cache[uuid.UUID, *VaccineCombo]
}

// NewCachedRepo wraps repo with an LRU of the given size per entity.
func NewCachedRepo(repo Repository, size int) (Repository, error) {
	items, err := lru.New[uuid.UUID, *VaccineCatalogItem](size)
	if err != nil {
		return nil, err
	}
	combos, err := lru.New[uuid.UUID, *VaccineCombo](size)
	if err != nil {
		return nil, err
	}
	return &cachedRepo{Repository: repo, items: items, combos: combos}, nil
}

func (c *cachedRepo) GetItem(ctx context.Context, id uuid.UUID) (*VaccineCatalogItem, error) {
	if it, ok := c.items.Get(id); ok {
		return it, nil
	}
	it, err := c.Repository.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	c.items.Add(id, it)
	return it, nil
}

func (c *cachedRepo) UpdateItem(ctx context.Context, item *VaccineCatalogItem) error {
	if err := c.Repository.UpdateItem(ctx, item); err != nil {
		return err
	}
	c.items.Remove(item.ID)
	return nil
}

func (c *cachedRepo) GetCombo(ctx context.Context, id uuid.UUID) (*VaccineCombo, error) {
	if combo, ok := c.combos.Get(id); ok {
		return combo, nil
	}
	combo, err := c.Repository.GetCombo(ctx, id)
	if err != nil {
		return nil, err
	}
	c.combos.Add(id, combo)
	return combo, nil
}
