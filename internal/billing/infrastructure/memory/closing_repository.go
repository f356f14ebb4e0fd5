package memory

import (
	"context"
	"sort"
	"sync"

	billing "residence-cloud/internal/billing/domain"
)

// ClosingRepository is an in-memory closing store.
type ClosingRepository struct {
	mu   sync.RWMutex
	data map[string]*billing.ClosingRecord
}

// NewClosingRepository constructs a repository.
func NewClosingRepository() *ClosingRepository {
	return &ClosingRepository{data: make(map[string]*billing.ClosingRecord)}
}

// Insert stores a record unless its id already exists.
func (r *ClosingRepository) Insert(ctx context.Context, record *billing.ClosingRecord) error {
	_ = ctx
	if record == nil {
		return billing.ErrNilClosing
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.data[record.ID]; exists {
		return billing.ErrAlreadyClosed
	}
	r.data[record.ID] = record.Clone()
	return nil
}

// Get loads a record by id.
func (r *ClosingRepository) Get(ctx context.Context, id string) (*billing.ClosingRecord, error) {
	_ = ctx
	r.mu.RLock()
	record := r.data[id]
	r.mu.RUnlock()
	if record == nil {
		return nil, nil
	}
	return record.Clone(), nil
}

// ListByYear returns the year's records ordered by month, annual last.
func (r *ClosingRepository) ListByYear(ctx context.Context, year int, closingType billing.ClosingType) ([]billing.ClosingRecord, error) {
	_ = ctx
	r.mu.RLock()
	result := make([]billing.ClosingRecord, 0)
	for _, record := range r.data {
		if record.Period.Year != year {
			continue
		}
		if closingType != "" && record.Type != closingType {
			continue
		}
		result = append(result, *record.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		return closingOrder(result[i]) < closingOrder(result[j])
	})
	return result, nil
}

func closingOrder(record billing.ClosingRecord) int {
	if record.Type == billing.ClosingTypeAnnual {
		return 13
	}
	return int(record.Period.Month)
}
