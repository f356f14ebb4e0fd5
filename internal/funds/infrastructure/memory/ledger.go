package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	funds "residence-cloud/internal/funds/domain"
)

// Ledger is an in-memory fund ledger guarded by one mutex.
type Ledger struct {
	mu         sync.Mutex
	funds      map[string]*funds.Fund
	expenses   []funds.Expense
	transfers  []funds.Transfer
	deposits   []funds.Deposit
	references map[string]struct{}
}

// NewLedger constructs a ledger.
func NewLedger() *Ledger {
	return &Ledger{
		funds:      make(map[string]*funds.Fund),
		references: make(map[string]struct{}),
	}
}

// EnsureFund creates a zero-balance fund when missing.
func (l *Ledger) EnsureFund(ctx context.Context, name string) error {
	_ = ctx
	if name == "" {
		return funds.ErrEmptyFund
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.funds[name]; !ok {
		l.funds[name] = &funds.Fund{Name: name, Balance: decimal.Zero, UpdatedAt: time.Now().UTC()}
	}
	return nil
}

// ListFunds returns funds ordered by name.
func (l *Ledger) ListFunds(ctx context.Context) ([]funds.Fund, error) {
	_ = ctx
	l.mu.Lock()
	result := make([]funds.Fund, 0, len(l.funds))
	for _, fund := range l.funds {
		result = append(result, *fund)
	}
	l.mu.Unlock()
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// RecordExpense debits the fund and appends the expense.
func (l *Ledger) RecordExpense(ctx context.Context, expense *funds.Expense, allowOverdraft bool) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	fund, ok := l.funds[expense.Fund]
	if !ok {
		return funds.ErrFundNotFound
	}
	if !funds.CanDebit(fund.Balance, expense.Amount, allowOverdraft) {
		return funds.ErrInsufficientFunds
	}
	fund.Balance = fund.Balance.Sub(expense.Amount)
	fund.UpdatedAt = expense.CreatedAt
	l.expenses = append(l.expenses, *expense)
	return nil
}

// RecordTransfer moves money between funds.
func (l *Ledger) RecordTransfer(ctx context.Context, transfer *funds.Transfer, allowOverdraft bool) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	from, ok := l.funds[transfer.From]
	if !ok {
		return funds.ErrFundNotFound
	}
	to, ok := l.funds[transfer.To]
	if !ok {
		return funds.ErrFundNotFound
	}
	if !funds.CanDebit(from.Balance, transfer.Amount, allowOverdraft) {
		return funds.ErrInsufficientFunds
	}
	from.Balance = from.Balance.Sub(transfer.Amount)
	to.Balance = to.Balance.Add(transfer.Amount)
	from.UpdatedAt = transfer.CreatedAt
	to.UpdatedAt = transfer.CreatedAt
	l.transfers = append(l.transfers, *transfer)
	return nil
}

// RecordDeposit credits the fund unless the reference was applied before.
func (l *Ledger) RecordDeposit(ctx context.Context, deposit *funds.Deposit) error {
	_ = ctx
	l.mu.Lock()
	defer l.mu.Unlock()
	fund, ok := l.funds[deposit.Fund]
	if !ok {
		return funds.ErrFundNotFound
	}
	if _, seen := l.references[deposit.Reference]; seen {
		return funds.ErrDuplicateDeposit
	}
	l.references[deposit.Reference] = struct{}{}
	fund.Balance = fund.Balance.Add(deposit.Amount)
	fund.UpdatedAt = deposit.CreatedAt
	l.deposits = append(l.deposits, *deposit)
	return nil
}

// ExpensesBetween lists expenses incurred in [from, to) ordered by time.
func (l *Ledger) ExpensesBetween(ctx context.Context, from, to time.Time) ([]funds.Expense, error) {
	_ = ctx
	l.mu.Lock()
	result := make([]funds.Expense, 0)
	for _, expense := range l.expenses {
		if expense.IncurredAt.Before(from) || !expense.IncurredAt.Before(to) {
			continue
		}
		result = append(result, expense)
	}
	l.mu.Unlock()
	sort.SliceStable(result, func(i, j int) bool { return result[i].IncurredAt.Before(result[j].IncurredAt) })
	return result, nil
}
