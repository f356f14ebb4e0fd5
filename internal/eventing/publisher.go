package eventing

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"residence-cloud/internal/eventing/eventbus"
	"residence-cloud/internal/observability/metrics"
)

const slowPublishThreshold = 50 * time.Millisecond

// Publisher writes events to the outbox and optionally triggers dispatch.
type Publisher struct {
	outbox   OutboxWriter
	dispatch *Dispatcher
	actor    string
	sub      Subscriber
	logger   *zap.Logger
}

// OutboxWriter inserts outbox records.
type OutboxWriter interface {
	Insert(ctx context.Context, env Envelope) (string, error)
}

// Subscriber registers handlers.
type Subscriber interface {
	Subscribe(eventType string, handler eventbus.EventHandler)
}

// NewPublisher constructs a publisher. dispatch may be nil when a background
// runner drains the outbox.
func NewPublisher(outbox OutboxWriter, dispatch *Dispatcher, defaultActor string, sub Subscriber, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{outbox: outbox, dispatch: dispatch, actor: defaultActor, sub: sub, logger: logger}
}

// Publish writes the event to the outbox.
func (p *Publisher) Publish(ctx context.Context, event any) error {
	start := time.Now()
	result := metrics.ResultSuccess
	if p == nil || p.outbox == nil {
		metrics.ObserveOutboxPublish(result, time.Since(start))
		return nil
	}
	env, err := BuildEnvelope(event, MetaFromContext(ctx, p.actor))
	if err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	if _, err := p.outbox.Insert(ctx, env); err != nil {
		metrics.ObserveOutboxPublish(metrics.ResultError, time.Since(start))
		return err
	}
	duration := time.Since(start)
	metrics.ObserveOutboxPublish(result, duration)
	if duration > slowPublishThreshold {
		p.logger.Warn("slow outbox publish",
			zap.Duration("duration", duration),
			zap.String("event_type", reflect.TypeOf(event).String()),
		)
	}
	if p.dispatch != nil {
		if _, err := p.dispatch.Dispatch(ctx, 10); err != nil {
			p.logger.Warn("inline dispatch failed", zap.Error(err))
		}
	}
	return nil
}

// Subscribe delegates to the underlying subscriber when available.
func (p *Publisher) Subscribe(eventType string, handler eventbus.EventHandler) {
	if p == nil || p.sub == nil {
		return
	}
	p.sub.Subscribe(eventType, handler)
}
