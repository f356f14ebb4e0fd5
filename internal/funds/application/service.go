package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	funds "residence-cloud/internal/funds/domain"
	"residence-cloud/internal/observability/metrics"
)

const (
	movementExpense  = "expense"
	movementTransfer = "transfer"
	movementDeposit  = "deposit"
)

// Clock returns the current time. It matches the billing clock so one
// implementation can drive both services.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Options configures the fund service. A nil Clock uses the system time.
type Options struct {
	AllowOverdraft bool
	Clock          Clock
}

// ExpenseInput describes a new expense.
type ExpenseInput struct {
	Fund       string
	Concept    string
	Category   string
	Amount     decimal.Decimal
	IncurredAt time.Time
}

// Service records fund movements and reads balances.
type Service struct {
	ledger         funds.Ledger
	allowOverdraft bool
	clock          Clock
	logger         *zap.Logger
}

// NewService constructs the service.
func NewService(ledger funds.Ledger, opts Options, logger *zap.Logger) (*Service, error) {
	if ledger == nil {
		return nil, errors.New("fund service: nil ledger")
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{ledger: ledger, allowOverdraft: opts.AllowOverdraft, clock: opts.Clock, logger: logger}, nil
}

// EnsureFunds creates the named funds with a zero balance when missing.
func (s *Service) EnsureFunds(ctx context.Context, names []string) error {
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if err := s.ledger.EnsureFund(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

// Funds lists all funds.
func (s *Service) Funds(ctx context.Context) ([]funds.Fund, error) {
	return s.ledger.ListFunds(ctx)
}

// Balances returns the current balance of every fund keyed by name.
func (s *Service) Balances(ctx context.Context) (map[string]decimal.Decimal, error) {
	list, err := s.ledger.ListFunds(ctx)
	if err != nil {
		return nil, err
	}
	balances := make(map[string]decimal.Decimal, len(list))
	for _, fund := range list {
		balances[fund.Name] = fund.Balance
	}
	return balances, nil
}

// RecordExpense debits the fund and stores the expense.
func (s *Service) RecordExpense(ctx context.Context, input ExpenseInput) (*funds.Expense, error) {
	now := s.clock.Now().UTC()
	expense := &funds.Expense{
		ID:         uuid.NewString(),
		Fund:       strings.TrimSpace(input.Fund),
		Concept:    strings.TrimSpace(input.Concept),
		Category:   strings.TrimSpace(input.Category),
		Amount:     input.Amount,
		IncurredAt: input.IncurredAt.UTC(),
		CreatedAt:  now,
	}
	if expense.IncurredAt.IsZero() {
		expense.IncurredAt = now
	}
	if err := expense.Validate(); err != nil {
		metrics.IncFundMovement(movementExpense, metrics.ResultError)
		return nil, err
	}
	if err := s.ledger.RecordExpense(ctx, expense, s.allowOverdraft); err != nil {
		metrics.IncFundMovement(movementExpense, metrics.ResultError)
		return nil, err
	}
	metrics.IncFundMovement(movementExpense, metrics.ResultSuccess)
	s.logger.Info("expense recorded",
		zap.String("expense_id", expense.ID),
		zap.String("fund", expense.Fund),
		zap.String("amount", expense.Amount.String()),
	)
	return expense, nil
}

// Transfer moves amount between two funds.
func (s *Service) Transfer(ctx context.Context, from, to string, amount decimal.Decimal, note string) (*funds.Transfer, error) {
	transfer := &funds.Transfer{
		ID:        uuid.NewString(),
		From:      strings.TrimSpace(from),
		To:        strings.TrimSpace(to),
		Amount:    amount,
		Note:      strings.TrimSpace(note),
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := transfer.Validate(); err != nil {
		metrics.IncFundMovement(movementTransfer, metrics.ResultError)
		return nil, err
	}
	if err := s.ledger.RecordTransfer(ctx, transfer, s.allowOverdraft); err != nil {
		metrics.IncFundMovement(movementTransfer, metrics.ResultError)
		return nil, err
	}
	metrics.IncFundMovement(movementTransfer, metrics.ResultSuccess)
	s.logger.Info("fund transfer recorded",
		zap.String("transfer_id", transfer.ID),
		zap.String("from", transfer.From),
		zap.String("to", transfer.To),
		zap.String("amount", transfer.Amount.String()),
	)
	return transfer, nil
}

// Deposit credits the fund once per reference. A repeated reference returns
// funds.ErrDuplicateDeposit.
func (s *Service) Deposit(ctx context.Context, fund string, amount decimal.Decimal, reference, concept string) (*funds.Deposit, error) {
	deposit := &funds.Deposit{
		ID:        uuid.NewString(),
		Fund:      strings.TrimSpace(fund),
		Amount:    amount,
		Reference: strings.TrimSpace(reference),
		Concept:   strings.TrimSpace(concept),
		CreatedAt: s.clock.Now().UTC(),
	}
	if err := deposit.Validate(); err != nil {
		metrics.IncFundMovement(movementDeposit, metrics.ResultError)
		return nil, err
	}
	if err := s.ledger.RecordDeposit(ctx, deposit); err != nil {
		metrics.IncFundMovement(movementDeposit, metrics.ResultError)
		return nil, err
	}
	metrics.IncFundMovement(movementDeposit, metrics.ResultSuccess)
	return deposit, nil
}

// ExpensesBetween lists expenses incurred in [from, to).
func (s *Service) ExpensesBetween(ctx context.Context, from, to time.Time) ([]funds.Expense, error) {
	if !to.After(from) {
		return nil, errors.New("fund service: empty expense window")
	}
	return s.ledger.ExpensesBetween(ctx, from.UTC(), to.UTC())
}
