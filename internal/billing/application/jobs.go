package application

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	billing "residence-cloud/internal/billing/domain"
	"residence-cloud/internal/observability/metrics"
)

const (
	jobEnsureYear   = "ensure_year"
	jobMonthlyClose = "monthly_close"
	jobAnnualClose  = "annual_close"

	jobTimeout = 5 * time.Minute
)

// Jobs runs the scheduled billing automation. Every job is idempotent and
// resolves "current" through the generation scheduler's clock.
type Jobs struct {
	generator *GenerationScheduler
	engine    *ClosingEngine
	schedule  ScheduleConfig
	logger    *zap.Logger
}

// NewJobs constructs the job runner.
func NewJobs(generator *GenerationScheduler, engine *ClosingEngine, schedule ScheduleConfig, logger *zap.Logger) (*Jobs, error) {
	if generator == nil {
		return nil, errors.New("billing jobs: nil generation scheduler")
	}
	if engine == nil {
		return nil, errors.New("billing jobs: nil closing engine")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Jobs{generator: generator, engine: engine, schedule: schedule, logger: logger}, nil
}

// EnsureCurrentYear generates any missing charges of the current year.
func (j *Jobs) EnsureCurrentYear(ctx context.Context) (*BatchResult, error) {
	start := time.Now()
	year := j.generator.CurrentPeriod().Year
	batch, err := j.generator.GenerateForYear(ctx, year, GenerationOptions{})
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case batch.FailedCount > 0:
		result = metrics.ResultPartial
	}
	metrics.ObserveJobRun(jobEnsureYear, result, time.Since(start))
	return batch, err
}

// ClosePreviousMonth closes the month before the current one. An existing
// closing counts as done and returns nil, nil.
func (j *Jobs) ClosePreviousMonth(ctx context.Context) (*billing.ClosingRecord, error) {
	start := time.Now()
	period := j.generator.CurrentPeriod().Previous()
	record, err := j.engine.CloseMonth(ctx, period)
	if errors.Is(err, billing.ErrAlreadyClosed) {
		j.logger.Debug("monthly closing already exists", zap.String("period", period.Key()))
		record, err = nil, nil
	}
	j.observe(jobMonthlyClose, err, start)
	return record, err
}

// ClosePreviousYear closes the year before the current one. An existing annual
// closing or a year without monthly closings counts as done.
func (j *Jobs) ClosePreviousYear(ctx context.Context) (*billing.ClosingRecord, error) {
	start := time.Now()
	year := j.generator.CurrentPeriod().Year - 1
	record, err := j.engine.CloseYear(ctx, year)
	switch {
	case errors.Is(err, billing.ErrAlreadyClosed):
		j.logger.Debug("annual closing already exists", zap.Int("year", year))
		record, err = nil, nil
	case errors.Is(err, billing.ErrNoMonthlyClosings):
		j.logger.Warn("annual closing skipped: no monthly closings", zap.Int("year", year))
		record, err = nil, nil
	}
	j.observe(jobAnnualClose, err, start)
	return record, err
}

// Start registers the cron entries and runs them until ctx is done.
func (j *Jobs) Start(ctx context.Context) (*cron.Cron, error) {
	logger := cronLogger{sugar: j.logger.Sugar()}
	c := cron.New(
		cron.WithLocation(j.generator.Location()),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	entries := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{jobEnsureYear, j.schedule.EnsureYearCron, func(ctx context.Context) error {
			batch, err := j.EnsureCurrentYear(ctx)
			if err != nil {
				return err
			}
			return batch.Err()
		}},
		{jobMonthlyClose, j.schedule.MonthlyCloseCron, func(ctx context.Context) error {
			_, err := j.ClosePreviousMonth(ctx)
			return err
		}},
		{jobAnnualClose, j.schedule.AnnualCloseCron, func(ctx context.Context) error {
			_, err := j.ClosePreviousYear(ctx)
			return err
		}},
	}
	for _, entry := range entries {
		entry := entry
		if entry.spec == "" {
			continue
		}
		_, err := c.AddFunc(entry.spec, func() {
			runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
			defer cancel()
			if err := entry.run(runCtx); err != nil {
				j.logger.Error("billing job failed", zap.String("job", entry.name), zap.Error(err))
			}
		})
		if err != nil {
			return nil, err
		}
		j.logger.Info("billing job scheduled", zap.String("job", entry.name), zap.String("spec", entry.spec))
	}
	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}

func (j *Jobs) observe(job string, err error, start time.Time) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveJobRun(job, result, time.Since(start))
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
