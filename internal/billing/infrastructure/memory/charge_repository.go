package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	billing "residence-cloud/internal/billing/domain"
)

// ChargeRepository is an in-memory charge store. The (period, account) index
// is checked and written under one lock, so Insert is atomic insert-if-absent.
type ChargeRepository struct {
	mu    sync.RWMutex
	data  map[string]*billing.Charge
	order []string
	byKey map[string]string
}

// NewChargeRepository constructs a repository.
func NewChargeRepository() *ChargeRepository {
	return &ChargeRepository{
		data:  make(map[string]*billing.Charge),
		byKey: make(map[string]string),
	}
}

// Insert stores a new charge and assigns its id when empty.
func (r *ChargeRepository) Insert(ctx context.Context, charge *billing.Charge) error {
	_ = ctx
	if charge == nil {
		return billing.ErrNilCharge
	}
	key := charge.UniqueKey()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[key]; exists {
		return billing.ErrDuplicate
	}
	if charge.ID == "" {
		charge.ID = uuid.NewString()
	}
	if _, exists := r.data[charge.ID]; exists {
		return billing.ErrDuplicate
	}
	r.data[charge.ID] = charge.Clone()
	r.byKey[key] = charge.ID
	r.order = append(r.order, charge.ID)
	return nil
}

// Get loads a charge by id.
func (r *ChargeRepository) Get(ctx context.Context, id string) (*billing.Charge, error) {
	_ = ctx
	r.mu.RLock()
	charge := r.data[id]
	r.mu.RUnlock()
	if charge == nil {
		return nil, nil
	}
	return charge.Clone(), nil
}

// Update overwrites the charge when its stored state equals expected.
func (r *ChargeRepository) Update(ctx context.Context, charge *billing.Charge, expected billing.ChargeState) error {
	_ = ctx
	if charge == nil {
		return billing.ErrNilCharge
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.data[charge.ID]
	if stored == nil {
		return billing.ErrNotFound
	}
	if stored.State != expected {
		return billing.ErrInvalidTransition
	}
	r.data[charge.ID] = charge.Clone()
	return nil
}

// ListByPeriod returns the period's charges in insertion order.
func (r *ChargeRepository) ListByPeriod(ctx context.Context, period billing.Period) ([]billing.Charge, error) {
	return r.list(ctx, func(c *billing.Charge) bool { return c.Period == period })
}

// ListByAccount returns the account's charges in insertion order.
func (r *ChargeRepository) ListByAccount(ctx context.Context, account string) ([]billing.Charge, error) {
	return r.list(ctx, func(c *billing.Charge) bool { return c.Account == account })
}

func (r *ChargeRepository) list(ctx context.Context, match func(*billing.Charge) bool) ([]billing.Charge, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make([]billing.Charge, 0)
	for _, id := range r.order {
		charge := r.data[id]
		if charge == nil || !match(charge) {
			continue
		}
		result = append(result, *charge.Clone())
	}
	return result, nil
}

// Count returns the number of stored charges.
func (r *ChargeRepository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}
