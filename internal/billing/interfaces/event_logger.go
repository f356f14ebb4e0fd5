package interfaces

import (
	"context"

	"go.uber.org/zap"

	"residence-cloud/internal/billing/application/events"
	"residence-cloud/internal/eventing"
)

// EventLoggerConsumer is the consumer name used for idempotency tracking.
const EventLoggerConsumer = "billing.event_log"

// EventLogger writes one structured line per delivered billing event.
type EventLogger struct {
	logger *zap.Logger
}

// NewEventLogger constructs the consumer.
func NewEventLogger(logger *zap.Logger) *EventLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventLogger{logger: logger}
}

// Handle logs the event.
func (l *EventLogger) Handle(ctx context.Context, event any) error {
	fields := make([]zap.Field, 0, 6)
	if env, ok := eventing.EnvelopeFromContext(ctx); ok {
		fields = append(fields, zap.String("event_id", env.EventID), zap.String("actor", env.Actor))
	}
	switch e := event.(type) {
	case events.ChargesGenerated:
		fields = append(fields, zap.String("period", e.PeriodKey), zap.Int("count", e.Count), zap.Int("failed", e.Failed))
		l.logger.Info("charges generated", fields...)
	case events.ChargePaid:
		fields = append(fields, zap.String("charge_id", e.ChargeID), zap.String("account", e.Account), zap.String("amount", e.Amount.String()))
		l.logger.Info("charge paid", fields...)
	case events.ChargeExpired:
		fields = append(fields, zap.String("charge_id", e.ChargeID), zap.String("account", e.Account), zap.String("period", e.PeriodKey))
		l.logger.Info("charge expired", fields...)
	case events.PeriodClosed:
		fields = append(fields, zap.String("closing_id", e.ClosingID), zap.String("balance", e.Balance.String()))
		l.logger.Info("period closed", fields...)
	default:
		l.logger.Debug("unhandled billing event", zap.Any("event", event))
	}
	return nil
}
