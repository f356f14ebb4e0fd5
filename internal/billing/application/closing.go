package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"residence-cloud/internal/billing/application/events"
	billing "residence-cloud/internal/billing/domain"
	"residence-cloud/internal/observability/metrics"
)

// ClosingEngine closes periods into immutable closing records.
type ClosingEngine struct {
	charges   *ChargeService
	generator *GenerationScheduler
	closings  billing.ClosingRepository
	expenses  ExpenseProvider
	funds     FundLedger
	publisher EventPublisher
	clock     Clock
	logger    *zap.Logger
}

// NewClosingEngine constructs the engine.
func NewClosingEngine(
	charges *ChargeService,
	generator *GenerationScheduler,
	closings billing.ClosingRepository,
	expenses ExpenseProvider,
	funds FundLedger,
	publisher EventPublisher,
	clock Clock,
	logger *zap.Logger,
) (*ClosingEngine, error) {
	if charges == nil {
		return nil, errors.New("closing engine: nil charge service")
	}
	if generator == nil {
		return nil, errors.New("closing engine: nil generation scheduler")
	}
	if closings == nil {
		return nil, errors.New("closing engine: nil closing repository")
	}
	if expenses == nil {
		return nil, errors.New("closing engine: nil expense provider")
	}
	if funds == nil {
		return nil, errors.New("closing engine: nil fund ledger")
	}
	if publisher == nil {
		publisher = nopPublisher{}
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClosingEngine{
		charges:   charges,
		generator: generator,
		closings:  closings,
		expenses:  expenses,
		funds:     funds,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
	}, nil
}

// CloseMonth expires the period's pending charges and persists the MONTHLY
// closing. A second close of the same period fails with billing.ErrAlreadyClosed.
func (e *ClosingEngine) CloseMonth(ctx context.Context, period billing.Period) (*billing.ClosingRecord, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveClosing(string(billing.ClosingTypeMonthly), result, time.Since(start))
	}()

	if !period.IsValid() {
		result = metrics.ResultError
		return nil, billing.ErrInvalidPeriod
	}
	id := billing.MonthlyClosingID(period)
	if err := e.guard(ctx, id); err != nil {
		result = metrics.ResultError
		return nil, err
	}

	if failed, err := e.sweep(ctx, period); err != nil {
		result = metrics.ResultError
		return nil, err
	} else if failed > 0 {
		result = metrics.ResultError
		return nil, fmt.Errorf("%w: expiration sweep of %s left %d charge(s) pending", billing.ErrPartialFailure, period.Key(), failed)
	}

	charges, err := e.charges.ListByPeriod(ctx, period)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	chargesTotal := decimal.Zero
	paid, pending := 0, 0
	for _, charge := range charges {
		if charge.State == billing.ChargeStatePaid {
			chargesTotal = chargesTotal.Add(charge.Amount)
			paid++
			continue
		}
		pending++
	}

	lines, err := e.expenses.ExpensesByPeriod(ctx, period)
	if err != nil {
		result = metrics.ResultError
		return nil, fmt.Errorf("closing engine: expenses %s: %w", period.Key(), err)
	}
	balances, err := e.funds.CurrentBalances(ctx)
	if err != nil {
		result = metrics.ResultError
		return nil, fmt.Errorf("closing engine: fund balances: %w", err)
	}

	record := &billing.ClosingRecord{
		ID:                 id,
		Type:               billing.ClosingTypeMonthly,
		Period:             period,
		Income:             billing.NewIncome(chargesTotal, decimal.Zero),
		Expenses:           billing.NewExpenses(lines),
		FundSnapshot:       balances,
		PendingChargeCount: pending,
		PaidChargeCount:    paid,
		CreatedAt:          e.clock.Now().UTC(),
	}
	if err := e.persist(ctx, record); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	e.logger.Info("monthly closing persisted",
		zap.String("closing_id", record.ID),
		zap.String("income", record.Income.Total.String()),
		zap.String("expenses", record.Expenses.Total.String()),
		zap.Int("paid", paid),
		zap.Int("pending", pending),
	)
	return record, nil
}

// CloseYear aggregates the MONTHLY closings of year into the ANNUAL closing and
// bootstraps the charges of year+1. Bootstrap failures degrade the recorded
// message and never abort the closing.
func (e *ClosingEngine) CloseYear(ctx context.Context, year int) (*billing.ClosingRecord, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveClosing(string(billing.ClosingTypeAnnual), result, time.Since(start))
	}()

	if year < 1 {
		result = metrics.ResultError
		return nil, billing.ErrInvalidPeriod
	}
	id := billing.AnnualClosingID(year)
	if err := e.guard(ctx, id); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	monthly, err := e.closings.ListByYear(ctx, year, billing.ClosingTypeMonthly)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if len(monthly) == 0 {
		result = metrics.ResultError
		return nil, billing.ErrNoMonthlyClosings
	}

	chargesTotal, other := decimal.Zero, decimal.Zero
	paid, pending := 0, 0
	lines := make([]billing.ExpenseLine, 0, len(monthly))
	for _, closing := range monthly {
		chargesTotal = chargesTotal.Add(closing.Income.ChargesTotal)
		other = other.Add(closing.Income.Other)
		paid += closing.PaidChargeCount
		pending += closing.PendingChargeCount
		lines = append(lines, billing.ExpenseLine{
			ID:       closing.ID,
			Concept:  "expenses " + closing.Period.Key(),
			Amount:   closing.Expenses.Total,
			Category: strings.ToLower(string(billing.ClosingTypeMonthly)),
		})
	}

	balances, err := e.funds.CurrentBalances(ctx)
	if err != nil {
		result = metrics.ResultError
		return nil, fmt.Errorf("closing engine: fund balances: %w", err)
	}

	next := e.bootstrap(ctx, year+1)
	record := &billing.ClosingRecord{
		ID:                 id,
		Type:               billing.ClosingTypeAnnual,
		Period:             billing.Period{Year: year},
		Income:             billing.NewIncome(chargesTotal, other),
		Expenses:           billing.NewExpenses(lines),
		FundSnapshot:       balances,
		PendingChargeCount: pending,
		PaidChargeCount:    paid,
		NextYearGeneration: &next,
		CreatedAt:          e.clock.Now().UTC(),
	}
	if err := e.persist(ctx, record); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	e.logger.Info("annual closing persisted",
		zap.String("closing_id", record.ID),
		zap.Int("monthly_closings", len(monthly)),
		zap.String("balance", record.Balance.String()),
		zap.String("next_year", next.Message),
	)
	return record, nil
}

// Get returns a closing or billing.ErrNotFound.
func (e *ClosingEngine) Get(ctx context.Context, id string) (*billing.ClosingRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, billing.ErrNotFound
	}
	record, err := e.closings.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, billing.ErrNotFound
	}
	return record, nil
}

// ListByYear returns the monthly and annual closings of year.
func (e *ClosingEngine) ListByYear(ctx context.Context, year int) ([]billing.ClosingRecord, error) {
	if year < 1 {
		return nil, billing.ErrInvalidPeriod
	}
	return e.closings.ListByYear(ctx, year, "")
}

func (e *ClosingEngine) guard(ctx context.Context, id string) error {
	existing, err := e.closings.Get(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		return billing.ErrAlreadyClosed
	}
	return nil
}

// sweep expires every PENDING charge of the period and returns how many could
// not be expired.
func (e *ClosingEngine) sweep(ctx context.Context, period billing.Period) (int, error) {
	charges, err := e.charges.ListByPeriod(ctx, period)
	if err != nil {
		return 0, err
	}
	failed := 0
	for _, charge := range charges {
		if charge.State != billing.ChargeStatePending {
			continue
		}
		if _, err := e.charges.Expire(ctx, charge.ID); err != nil {
			if errors.Is(err, billing.ErrInvalidTransition) {
				// paid between listing and expiring
				continue
			}
			failed++
			e.logger.Warn("expire charge failed",
				zap.String("period", period.Key()),
				zap.String("charge_id", charge.ID),
				zap.Error(err),
			)
		}
	}
	return failed, nil
}

func (e *ClosingEngine) bootstrap(ctx context.Context, year int) billing.NextYearGeneration {
	next := billing.NextYearGeneration{}
	var notes []string

	missing := false
	for _, period := range billing.PeriodsOfYear(year) {
		charges, err := e.charges.ListByPeriod(ctx, period)
		if err != nil || len(charges) == 0 {
			missing = true
			break
		}
	}
	if missing {
		next.Requested = true
		batch, err := e.generator.GenerateForYear(ctx, year, GenerationOptions{})
		switch {
		case err != nil:
			notes = append(notes, "generation failed: "+err.Error())
			e.logger.Error("next year generation failed", zap.Int("year", year), zap.Error(err))
		default:
			next.ChargesGenerated = len(batch.Succeeded)
			if batch.FailedCount > 0 {
				notes = append(notes, fmt.Sprintf("%d charge(s) failed", batch.FailedCount))
			}
		}
	}

	checkFailures := 0
	for _, period := range billing.PeriodsOfYear(year) {
		charges, err := e.charges.ListByPeriod(ctx, period)
		if err != nil {
			checkFailures++
			e.logger.Warn("verify next year period failed", zap.String("period", period.Key()), zap.Error(err))
			continue
		}
		if len(charges) > 0 {
			next.PeriodsCovered++
		}
	}
	if checkFailures > 0 {
		notes = append(notes, fmt.Sprintf("%d period check(s) failed", checkFailures))
	}

	next.Message = fmt.Sprintf("charges verified for %d/12 periods of %d", next.PeriodsCovered, year)
	if len(notes) > 0 {
		next.Message += " (" + strings.Join(notes, "; ") + ")"
	}
	return next
}

func (e *ClosingEngine) persist(ctx context.Context, record *billing.ClosingRecord) error {
	record.ComputeBalance()
	if err := record.Validate(); err != nil {
		return err
	}
	if err := e.closings.Insert(ctx, record); err != nil {
		return err
	}
	event := events.PeriodClosed{
		ClosingID:    record.ID,
		ClosingType:  string(record.Type),
		PeriodKey:    record.Period.Key(),
		IncomeTotal:  record.Income.Total,
		ExpenseTotal: record.Expenses.Total,
		Balance:      record.Balance,
		OccurredAt:   record.CreatedAt,
	}
	if record.Type == billing.ClosingTypeAnnual {
		event.PeriodKey = fmt.Sprintf("%04d", record.Period.Year)
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.logger.Warn("publish billing event failed", zap.String("closing_id", record.ID), zap.Error(err))
	}
	return nil
}
