package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"residence-cloud/internal/billing/application/events"
	billing "residence-cloud/internal/billing/domain"
	"residence-cloud/internal/observability/metrics"
)

// ChargeService owns the charge lifecycle. It is the only writer of charge state.
type ChargeService struct {
	repo      billing.ChargeRepository
	publisher EventPublisher
	clock     Clock
	logger    *zap.Logger
}

// NewChargeService constructs the service.
func NewChargeService(repo billing.ChargeRepository, publisher EventPublisher, clock Clock, logger *zap.Logger) (*ChargeService, error) {
	if repo == nil {
		return nil, errors.New("charge service: nil repository")
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
	return &ChargeService{repo: repo, publisher: publisher, clock: clock, logger: logger}, nil
}

// Create inserts a PENDING charge. It fails with billing.ErrDuplicate when the
// (period, account) pair already has a charge.
func (s *ChargeService) Create(ctx context.Context, period billing.Period, account string, amount decimal.Decimal, dueDate time.Time) (*billing.Charge, error) {
	charge, err := billing.NewCharge(period, account, amount, dueDate, s.clock.Now().UTC())
	if err != nil {
		return nil, err
	}
	if err := s.repo.Insert(ctx, charge); err != nil {
		return nil, err
	}
	return charge, nil
}

// MarkPaid registers a payment on a PENDING charge.
func (s *ChargeService) MarkPaid(ctx context.Context, id, proof string) (*billing.Charge, error) {
	result := metrics.ResultSuccess
	defer func() {
		metrics.IncChargeTransition(metrics.TransitionPaid, result)
	}()

	charge, err := s.load(ctx, id)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if err := charge.MarkPaid(s.clock.Now().UTC(), strings.TrimSpace(proof)); err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if err := s.repo.Update(ctx, charge, billing.ChargeStatePending); err != nil {
		result = metrics.ResultError
		return nil, err
	}

	s.publish(ctx, events.ChargePaid{
		ChargeID:   charge.ID,
		PeriodKey:  charge.Period.Key(),
		Account:    charge.Account,
		Amount:     charge.Amount,
		Proof:      charge.PaymentProof,
		OccurredAt: *charge.PaidAt,
	})
	return charge, nil
}

// Expire moves a PENDING charge to EXPIRED. Expiring an EXPIRED charge is a
// no-op that returns the charge unchanged.
func (s *ChargeService) Expire(ctx context.Context, id string) (*billing.Charge, error) {
	charge, err := s.load(ctx, id)
	if err != nil {
		metrics.IncChargeTransition(metrics.TransitionExpired, metrics.ResultError)
		return nil, err
	}
	changed, err := charge.Expire()
	if err != nil {
		metrics.IncChargeTransition(metrics.TransitionExpired, metrics.ResultError)
		return nil, err
	}
	if !changed {
		return charge, nil
	}
	if err := s.repo.Update(ctx, charge, billing.ChargeStatePending); err != nil {
		metrics.IncChargeTransition(metrics.TransitionExpired, metrics.ResultError)
		return nil, err
	}
	metrics.IncChargeTransition(metrics.TransitionExpired, metrics.ResultSuccess)

	s.publish(ctx, events.ChargeExpired{
		ChargeID:   charge.ID,
		PeriodKey:  charge.Period.Key(),
		Account:    charge.Account,
		OccurredAt: s.clock.Now().UTC(),
	})
	return charge, nil
}

// Get returns a charge or billing.ErrNotFound.
func (s *ChargeService) Get(ctx context.Context, id string) (*billing.Charge, error) {
	return s.load(ctx, id)
}

// ListByPeriod returns the charges of a period in store order.
func (s *ChargeService) ListByPeriod(ctx context.Context, period billing.Period) ([]billing.Charge, error) {
	if !period.IsValid() {
		return nil, billing.ErrInvalidPeriod
	}
	return s.repo.ListByPeriod(ctx, period)
}

// ListByAccount returns the charges of an account in store order.
func (s *ChargeService) ListByAccount(ctx context.Context, account string) ([]billing.Charge, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, billing.ErrEmptyAccount
	}
	return s.repo.ListByAccount(ctx, account)
}

func (s *ChargeService) load(ctx context.Context, id string) (*billing.Charge, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, billing.ErrNotFound
	}
	charge, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if charge == nil {
		return nil, billing.ErrNotFound
	}
	return charge, nil
}

func (s *ChargeService) publish(ctx context.Context, event any) {
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("publish billing event failed", zap.Any("event", event), zap.Error(err))
	}
}
