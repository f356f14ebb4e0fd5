package eventing

import (
	"context"
	"time"

	"go.uber.org/zap"

	"residence-cloud/internal/observability/metrics"
)

// DefaultMaxAttempts is the number of deliveries tried before an event is
// dead-lettered.
const DefaultMaxAttempts = 5

// Dispatcher sends outbox events to the in-process bus. A failed delivery goes
// back to pending until it has been tried maxAttempts times; events that cannot
// be decoded are dead-lettered at once.
type Dispatcher struct {
	bus         EventBus
	outbox      OutboxStore
	registry    *Registry
	dlq         DLQStore
	maxAttempts int
	logger      *zap.Logger
}

// DispatcherOption configures the dispatcher.
type DispatcherOption func(*Dispatcher)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.maxAttempts = n
		}
	}
}

// EventBus is the minimal publish interface.
type EventBus interface {
	Publish(ctx context.Context, event any) error
}

// OutboxStore provides access to outbox records.
type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]OutboxRecord, error)
	MarkSent(ctx context.Context, id string) error
	// MarkRetry returns a claimed record to pending and counts the attempt.
	MarkRetry(ctx context.Context, id string) error
	// MarkFailed parks a record for good and counts the attempt.
	MarkFailed(ctx context.Context, id string) error
}

// DLQStore records failures.
type DLQStore interface {
	RecordFailure(ctx context.Context, env Envelope, err error) error
}

// OutboxRecord represents a pending outbox entry.
type OutboxRecord struct {
	ID       string
	Envelope Envelope
	Attempts int
}

// DispatchResult captures the outcome of a dispatch run.
type DispatchResult struct {
	Requested int
	Claimed   int
	Sent      int
	Failed    int
	Retried   int
	DLQ       int
}

// NewDispatcher constructs a dispatcher.
func NewDispatcher(bus EventBus, outbox OutboxStore, registry *Registry, dlq DLQStore, logger *zap.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{bus: bus, outbox: outbox, registry: registry, dlq: dlq, maxAttempts: DefaultMaxAttempts, logger: logger}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch pulls pending outbox messages and delivers them.
func (d *Dispatcher) Dispatch(ctx context.Context, limit int) (DispatchResult, error) {
	start := time.Now()
	result := DispatchResult{Requested: limit}
	if d == nil || d.outbox == nil || d.bus == nil || d.registry == nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, nil
	}
	if limit <= 0 {
		limit = 50
		result.Requested = limit
	}
	records, err := d.outbox.ListPending(ctx, limit)
	if err != nil {
		metrics.ObserveOutboxDispatch(metrics.ResultError, time.Since(start), 0, 0, 0)
		return result, err
	}
	result.Claimed = len(records)
	if result.Claimed == 0 {
		metrics.ObserveOutboxDispatch(metrics.ResultSuccess, time.Since(start), 0, 0, 0)
		return result, nil
	}
	var firstErr error

	for _, record := range records {
		env := record.Envelope
		payload, err := d.registry.DecodePayload(env)
		retryable := err == nil
		if err == nil {
			err = d.bus.Publish(WithEnvelope(ctx, env), payload)
		}
		if err != nil {
			result.Failed++
			if retryable && record.Attempts+1 < d.maxAttempts {
				d.logger.Warn("outbox delivery failed, will retry",
					zap.String("event_id", env.EventID),
					zap.String("event_type", env.EventType),
					zap.Int("attempt", record.Attempts+1),
					zap.Error(err),
				)
				if markErr := d.outbox.MarkRetry(ctx, record.ID); markErr != nil && firstErr == nil {
					firstErr = markErr
				}
				result.Retried++
				continue
			}
			d.logger.Error("outbox delivery abandoned",
				zap.String("event_id", env.EventID),
				zap.String("event_type", env.EventType),
				zap.Int("attempt", record.Attempts+1),
				zap.Error(err),
			)
			if markErr := d.outbox.MarkFailed(ctx, record.ID); markErr != nil && firstErr == nil {
				firstErr = markErr
			}
			if d.dlq != nil {
				if dlqErr := d.dlq.RecordFailure(ctx, env, err); dlqErr == nil {
					result.DLQ++
				}
			}
			continue
		}

		if err := d.outbox.MarkSent(ctx, record.ID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Failed++
			continue
		}
		result.Sent++
	}
	dispatchResult := metrics.ResultSuccess
	if firstErr != nil || result.Failed > 0 {
		dispatchResult = metrics.ResultError
	}
	metrics.ObserveOutboxDispatch(dispatchResult, time.Since(start), result.Sent, result.Failed, result.DLQ)
	return result, firstErr
}
