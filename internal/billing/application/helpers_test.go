package application

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	billing "residence-cloud/internal/billing/domain"
	"residence-cloud/internal/billing/infrastructure/memory"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type staticAccounts struct {
	accounts []string
	err      error
}

func (s *staticAccounts) ActiveAccounts(context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return append([]string(nil), s.accounts...), nil
}

type staticExpenses struct {
	lines map[billing.Period][]billing.ExpenseLine
	err   error
}

func (s *staticExpenses) ExpensesByPeriod(_ context.Context, period billing.Period) ([]billing.ExpenseLine, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.lines[period], nil
}

type staticFunds struct {
	balances map[string]decimal.Decimal
}

func (s *staticFunds) CurrentBalances(context.Context) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(s.balances))
	for name, amount := range s.balances {
		result[name] = amount
	}
	return result, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	return nil
}

func (p *recordingPublisher) count(match func(any) bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, event := range p.events {
		if match(event) {
			n++
		}
	}
	return n
}

// flakyCharges fails inserts and updates for the listed accounts and every
// period listing of failListYear.
type flakyCharges struct {
	*memory.ChargeRepository
	failInsert   map[string]bool
	failUpdate   map[string]bool
	failListYear int
}

var errStoreDown = errors.New("store down")

func (r *flakyCharges) Insert(ctx context.Context, charge *billing.Charge) error {
	if r.failInsert[charge.Account] {
		return errStoreDown
	}
	return r.ChargeRepository.Insert(ctx, charge)
}

func (r *flakyCharges) ListByPeriod(ctx context.Context, period billing.Period) ([]billing.Charge, error) {
	if r.failListYear != 0 && period.Year == r.failListYear {
		return nil, errStoreDown
	}
	return r.ChargeRepository.ListByPeriod(ctx, period)
}

func (r *flakyCharges) Update(ctx context.Context, charge *billing.Charge, expected billing.ChargeState) error {
	if r.failUpdate[charge.Account] {
		return errStoreDown
	}
	return r.ChargeRepository.Update(ctx, charge, expected)
}

type fixture struct {
	clock      *fixedClock
	accounts   *staticAccounts
	expenses   *staticExpenses
	funds      *staticFunds
	publisher  *recordingPublisher
	chargeRepo billing.ChargeRepository
	closings   *memory.ClosingRepository
	charges    *ChargeService
	generator  *GenerationScheduler
	engine     *ClosingEngine
}

func newFixture(t *testing.T, repo billing.ChargeRepository, accounts ...string) *fixture {
	t.Helper()
	if repo == nil {
		repo = memory.NewChargeRepository()
	}
	f := &fixture{
		clock:      &fixedClock{now: time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)},
		accounts:   &staticAccounts{accounts: accounts},
		expenses:   &staticExpenses{lines: map[billing.Period][]billing.ExpenseLine{}},
		funds:      &staticFunds{balances: map[string]decimal.Decimal{"operating": decimal.NewFromInt(1000)}},
		publisher:  &recordingPublisher{},
		chargeRepo: repo,
		closings:   memory.NewClosingRepository(),
	}
	var err error
	f.charges, err = NewChargeService(repo, f.publisher, f.clock, nil)
	if err != nil {
		t.Fatalf("new charge service: %v", err)
	}
	f.generator, err = NewGenerationScheduler(f.charges, f.accounts, f.publisher, GenerationDefaults{
		Amount: decimal.NewFromInt(550),
	}, f.clock, nil)
	if err != nil {
		t.Fatalf("new generation scheduler: %v", err)
	}
	f.engine, err = NewClosingEngine(f.charges, f.generator, f.closings, f.expenses, f.funds, f.publisher, f.clock, nil)
	if err != nil {
		t.Fatalf("new closing engine: %v", err)
	}
	return f
}

func mustPeriod(t *testing.T, value string) billing.Period {
	t.Helper()
	period, err := billing.ParsePeriod(value)
	if err != nil {
		t.Fatalf("parse period %q: %v", value, err)
	}
	return period
}

func chargeFor(t *testing.T, charges []billing.Charge, account string) billing.Charge {
	t.Helper()
	for _, charge := range charges {
		if charge.Account == account {
			return charge
		}
	}
	t.Fatalf("no charge for account %s", account)
	return billing.Charge{}
}

func amountOf(value string) *decimal.Decimal {
	amount := decimal.RequireFromString(value)
	return &amount
}
