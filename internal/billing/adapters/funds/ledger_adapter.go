package funds

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	billing "residence-cloud/internal/billing/domain"
	fundsapp "residence-cloud/internal/funds/application"
)

// LedgerAdapter exposes the fund service as the closing engine's expense
// provider and fund ledger.
type LedgerAdapter struct {
	funds    *fundsapp.Service
	location *time.Location
}

// NewLedgerAdapter constructs the adapter. Periods resolve to [start, end) in loc.
func NewLedgerAdapter(service *fundsapp.Service, loc *time.Location) (*LedgerAdapter, error) {
	if service == nil {
		return nil, errors.New("fund ledger adapter: nil fund service")
	}
	if loc == nil {
		loc = time.UTC
	}
	return &LedgerAdapter{funds: service, location: loc}, nil
}

// ExpensesByPeriod returns the expenses incurred during the period.
func (a *LedgerAdapter) ExpensesByPeriod(ctx context.Context, period billing.Period) ([]billing.ExpenseLine, error) {
	expenses, err := a.funds.ExpensesBetween(ctx, period.Start(a.location), period.End(a.location))
	if err != nil {
		return nil, err
	}
	lines := make([]billing.ExpenseLine, 0, len(expenses))
	for _, expense := range expenses {
		lines = append(lines, billing.ExpenseLine{
			ID:       expense.ID,
			Concept:  expense.Concept,
			Amount:   expense.Amount,
			Category: expense.Category,
		})
	}
	return lines, nil
}

// CurrentBalances returns every fund balance keyed by name.
func (a *LedgerAdapter) CurrentBalances(ctx context.Context) (map[string]decimal.Decimal, error) {
	return a.funds.Balances(ctx)
}
