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

// GenerationOptions tunes one generation call. A nil Amount falls back to the
// configured default; an explicit zero generates zero-amount charges. DueDay 0
// falls back to the configured due day.
type GenerationOptions struct {
	Amount        *decimal.Decimal
	DueDay        int
	RepairPartial bool
}

// GenerationDefaults are the configured generation parameters.
type GenerationDefaults struct {
	Amount        decimal.Decimal
	DueDay        int
	RepairPartial bool
	Location      *time.Location
}

// GenerationDefaults derives generation defaults from config.
func (c Config) GenerationDefaults() GenerationDefaults {
	return GenerationDefaults{
		Amount:        c.Amount(),
		DueDay:        c.DueDay,
		RepairPartial: c.RepairPartial,
		Location:      c.Location(),
	}
}

// BatchResult reports a generation batch. FailedCount > 0 is a partial failure
// reported next to the successes.
type BatchResult struct {
	Succeeded      []billing.Charge `json:"succeeded"`
	SkippedPeriods []billing.Period `json:"skipped_periods"`
	FailedCount    int              `json:"failed_count"`
	Message        string           `json:"message"`
}

// Err returns an error wrapping billing.ErrPartialFailure when items failed.
func (r *BatchResult) Err() error {
	if r == nil || r.FailedCount == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s", billing.ErrPartialFailure, r.Message)
}

// GenerationScheduler creates the charges of whole periods for the active
// account population.
type GenerationScheduler struct {
	charges   *ChargeService
	accounts  AccountProvider
	publisher EventPublisher
	defaults  GenerationDefaults
	clock     Clock
	logger    *zap.Logger
}

// NewGenerationScheduler constructs the scheduler.
func NewGenerationScheduler(
	charges *ChargeService,
	accounts AccountProvider,
	publisher EventPublisher,
	defaults GenerationDefaults,
	clock Clock,
	logger *zap.Logger,
) (*GenerationScheduler, error) {
	if charges == nil {
		return nil, errors.New("generation scheduler: nil charge service")
	}
	if accounts == nil {
		return nil, errors.New("generation scheduler: nil account provider")
	}
	if err := billing.ValidateAmount(defaults.Amount); err != nil {
		return nil, err
	}
	if defaults.Location == nil {
		defaults.Location = time.UTC
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
	return &GenerationScheduler{
		charges:   charges,
		accounts:  accounts,
		publisher: publisher,
		defaults:  defaults,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Location returns the timezone periods are resolved in.
func (s *GenerationScheduler) Location() *time.Location {
	return s.defaults.Location
}

// CurrentPeriod returns the period containing the clock's now.
func (s *GenerationScheduler) CurrentPeriod() billing.Period {
	return billing.PeriodOf(s.clock.Now().In(s.defaults.Location))
}

// GenerateForYear generates the missing charges of all twelve periods of year.
func (s *GenerationScheduler) GenerateForYear(ctx context.Context, year int, opts GenerationOptions) (*BatchResult, error) {
	if year < 1 {
		return nil, billing.ErrInvalidPeriod
	}
	return s.generate(ctx, billing.PeriodsOfYear(year), opts)
}

// GenerateForPeriod generates the missing charges of one period.
func (s *GenerationScheduler) GenerateForPeriod(ctx context.Context, period billing.Period, opts GenerationOptions) (*BatchResult, error) {
	if !period.IsValid() {
		return nil, billing.ErrInvalidPeriod
	}
	return s.generate(ctx, []billing.Period{period}, opts)
}

func (s *GenerationScheduler) generate(ctx context.Context, periods []billing.Period, opts GenerationOptions) (*BatchResult, error) {
	start := time.Now()
	batch := &BatchResult{Succeeded: []billing.Charge{}, SkippedPeriods: []billing.Period{}}
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveChargeGenerate(result, time.Since(start), len(batch.Succeeded), batch.FailedCount)
	}()

	amount := s.defaults.Amount
	if opts.Amount != nil {
		amount = *opts.Amount
	}
	if err := billing.ValidateAmount(amount); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	dueDay := opts.DueDay
	if dueDay == 0 {
		dueDay = s.defaults.DueDay
	}
	repair := opts.RepairPartial || s.defaults.RepairPartial

	population, err := s.population(ctx)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}

	for _, period := range periods {
		existing, err := s.charges.ListByPeriod(ctx, period)
		if err != nil {
			s.logger.Warn("list period charges failed", zap.String("period", period.Key()), zap.Error(err))
			batch.FailedCount += len(population)
			continue
		}
		targets := population
		if len(existing) > 0 {
			if !repair {
				batch.SkippedPeriods = append(batch.SkippedPeriods, period)
				continue
			}
			targets = missingAccounts(population, existing)
			if len(targets) == 0 {
				batch.SkippedPeriods = append(batch.SkippedPeriods, period)
				continue
			}
		}
		if len(targets) == 0 {
			continue
		}

		dueDate := period.DueInstant(s.defaults.Location, dueDay)
		created, failed := 0, 0
		for _, account := range targets {
			charge, err := s.charges.Create(ctx, period, account, amount, dueDate)
			if errors.Is(err, billing.ErrDuplicate) {
				// created concurrently by another generator
				continue
			}
			if err != nil {
				failed++
				s.logger.Warn("create charge failed",
					zap.String("period", period.Key()),
					zap.String("account", account),
					zap.Error(err),
				)
				continue
			}
			batch.Succeeded = append(batch.Succeeded, *charge)
			created++
		}
		batch.FailedCount += failed
		if created > 0 {
			s.publish(ctx, events.ChargesGenerated{
				PeriodKey:  period.Key(),
				Count:      created,
				Failed:     failed,
				Amount:     amount,
				OccurredAt: s.clock.Now().UTC(),
			})
		}
	}

	batch.Message = fmt.Sprintf("generated %d charges across %d period(s); skipped %d period(s); %d failed",
		len(batch.Succeeded), len(periods), len(batch.SkippedPeriods), batch.FailedCount)
	if batch.FailedCount > 0 {
		result = metrics.ResultPartial
		s.logger.Warn("charge generation partially failed", zap.String("message", batch.Message))
	} else {
		s.logger.Info("charge generation finished", zap.String("message", batch.Message))
	}
	return batch, nil
}

func (s *GenerationScheduler) population(ctx context.Context) ([]string, error) {
	accounts, err := s.accounts.ActiveAccounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("generation scheduler: active accounts: %w", err)
	}
	seen := make(map[string]struct{}, len(accounts))
	result := make([]string, 0, len(accounts))
	for _, account := range accounts {
		account = strings.TrimSpace(account)
		if account == "" {
			continue
		}
		if _, ok := seen[account]; ok {
			continue
		}
		seen[account] = struct{}{}
		result = append(result, account)
	}
	return result, nil
}

func missingAccounts(population []string, existing []billing.Charge) []string {
	have := make(map[string]struct{}, len(existing))
	for _, charge := range existing {
		have[charge.Account] = struct{}{}
	}
	var missing []string
	for _, account := range population {
		if _, ok := have[account]; !ok {
			missing = append(missing, account)
		}
	}
	return missing
}

func (s *GenerationScheduler) publish(ctx context.Context, event any) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish billing event failed", zap.Any("event", event), zap.Error(err))
	}
}
