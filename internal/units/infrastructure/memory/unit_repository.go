package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	units "residence-cloud/internal/units/domain"
)

// UnitRepository is an in-memory unit store.
type UnitRepository struct {
	mu   sync.RWMutex
	data map[string]units.Unit
}

// NewUnitRepository constructs a repository.
func NewUnitRepository() *UnitRepository {
	return &UnitRepository{data: make(map[string]units.Unit)}
}

// Get loads a unit by id.
func (r *UnitRepository) Get(ctx context.Context, id string) (*units.Unit, error) {
	_ = ctx
	r.mu.RLock()
	unit, ok := r.data[id]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return &unit, nil
}

// Save upserts a unit; numbers stay unique.
func (r *UnitRepository) Save(ctx context.Context, unit *units.Unit) error {
	_ = ctx
	if unit == nil {
		return errors.New("unit repo: nil unit")
	}
	if err := unit.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.data {
		if id != unit.ID && existing.Number == unit.Number {
			return units.ErrDuplicateNumber
		}
	}
	r.data[unit.ID] = *unit
	return nil
}

// List returns units ordered by number.
func (r *UnitRepository) List(ctx context.Context, activeOnly bool) ([]units.Unit, error) {
	_ = ctx
	r.mu.RLock()
	result := make([]units.Unit, 0, len(r.data))
	for _, unit := range r.data {
		if activeOnly && !unit.Active {
			continue
		}
		result = append(result, unit)
	}
	r.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}
