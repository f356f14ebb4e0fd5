package application

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	billing "residence-cloud/internal/billing/domain"
)

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// AccountProvider resolves the accounts currently eligible for billing.
type AccountProvider interface {
	ActiveAccounts(ctx context.Context) ([]string, error)
}

// ExpenseProvider lists the expenses booked in a period.
type ExpenseProvider interface {
	ExpensesByPeriod(ctx context.Context, period billing.Period) ([]billing.ExpenseLine, error)
}

// FundLedger reads current fund balances.
type FundLedger interface {
	CurrentBalances(ctx context.Context) (map[string]decimal.Decimal, error)
}

// EventPublisher emits billing events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, any) error { return nil }
