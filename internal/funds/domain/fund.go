package funds

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrFundNotFound      = errors.New("funds: fund not found")
	ErrInsufficientFunds = errors.New("funds: insufficient funds")
	ErrInvalidAmount     = errors.New("funds: amount must be positive")
	ErrAmountScale       = errors.New("funds: amount has more than 2 decimal places")
	ErrSameFund          = errors.New("funds: transfer within the same fund")
	ErrEmptyConcept      = errors.New("funds: empty concept")
	ErrEmptyFund         = errors.New("funds: empty fund name")
	ErrDuplicateDeposit  = errors.New("funds: deposit reference already applied")
)

// Fund is a named pool of money, e.g. operating or reserve.
type Fund struct {
	Name      string          `json:"name"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Expense debits a fund.
type Expense struct {
	ID         string          `json:"id"`
	Fund       string          `json:"fund"`
	Concept    string          `json:"concept"`
	Category   string          `json:"category"`
	Amount     decimal.Decimal `json:"amount"`
	IncurredAt time.Time       `json:"incurred_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Validate checks expense invariants.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.Fund) == "" {
		return ErrEmptyFund
	}
	if strings.TrimSpace(e.Concept) == "" {
		return ErrEmptyConcept
	}
	if err := validateAmount(e.Amount); err != nil {
		return err
	}
	if e.IncurredAt.IsZero() {
		return errors.New("funds: expense without incurred_at")
	}
	return nil
}

// Transfer moves money between two funds.
type Transfer struct {
	ID        string          `json:"id"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Amount    decimal.Decimal `json:"amount"`
	Note      string          `json:"note,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks transfer invariants.
func (t Transfer) Validate() error {
	if strings.TrimSpace(t.From) == "" || strings.TrimSpace(t.To) == "" {
		return ErrEmptyFund
	}
	if t.From == t.To {
		return ErrSameFund
	}
	if err := validateAmount(t.Amount); err != nil {
		return err
	}
	return nil
}

// Deposit credits a fund. Reference is unique so a payment is credited once.
type Deposit struct {
	ID        string          `json:"id"`
	Fund      string          `json:"fund"`
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
	Concept   string          `json:"concept"`
	CreatedAt time.Time       `json:"created_at"`
}

// Validate checks deposit invariants.
func (d Deposit) Validate() error {
	if strings.TrimSpace(d.Fund) == "" {
		return ErrEmptyFund
	}
	if strings.TrimSpace(d.Reference) == "" {
		return errors.New("funds: deposit without reference")
	}
	if err := validateAmount(d.Amount); err != nil {
		return err
	}
	return nil
}

// validateAmount accepts positive amounts of at most cent precision.
func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if !amount.Equal(amount.Truncate(2)) {
		return ErrAmountScale
	}
	return nil
}

// CanDebit reports whether amount may leave a fund holding balance.
func CanDebit(balance, amount decimal.Decimal, allowOverdraft bool) bool {
	return allowOverdraft || balance.GreaterThanOrEqual(amount)
}

// Ledger persists funds and their movements. Every Record* call applies the
// balance change and stores the movement atomically.
type Ledger interface {
	EnsureFund(ctx context.Context, name string) error
	ListFunds(ctx context.Context) ([]Fund, error)
	RecordExpense(ctx context.Context, expense *Expense, allowOverdraft bool) error
	RecordTransfer(ctx context.Context, transfer *Transfer, allowOverdraft bool) error
	RecordDeposit(ctx context.Context, deposit *Deposit) error
	ExpensesBetween(ctx context.Context, from, to time.Time) ([]Expense, error)
}
