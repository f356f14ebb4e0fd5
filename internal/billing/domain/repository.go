package billing

import "context"

// ChargeRepository persists charges.
// Insert must be atomic insert-if-absent on (period, account) and return
// ErrDuplicate when a charge already exists; it assigns ID when empty.
// Get returns nil, nil when missing. Update is a compare-and-swap on the stored
// state: it fails with ErrInvalidTransition when the stored state no longer
// equals expected, and ErrNotFound when the charge is gone.
type ChargeRepository interface {
	Insert(ctx context.Context, charge *Charge) error
	Get(ctx context.Context, id string) (*Charge, error)
	Update(ctx context.Context, charge *Charge, expected ChargeState) error
	ListByPeriod(ctx context.Context, period Period) ([]Charge, error)
	ListByAccount(ctx context.Context, account string) ([]Charge, error)
}

// ClosingRepository persists closing records.
// Insert must be atomic insert-if-absent on the closing id and return
// ErrAlreadyClosed when the id exists. Get returns nil, nil when missing.
// ListByYear orders by period; an empty closingType lists both types.
type ClosingRepository interface {
	Insert(ctx context.Context, record *ClosingRecord) error
	Get(ctx context.Context, id string) (*ClosingRecord, error)
	ListByYear(ctx context.Context, year int, closingType ClosingType) ([]ClosingRecord, error)
}
