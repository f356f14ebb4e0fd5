package interfaces

import (
	"context"

	"residence-cloud/internal/auth"
	"residence-cloud/internal/eventing"
	"residence-cloud/internal/observability/logger"
)

// OutboxPublisher writes billing events to the outbox, stamping the acting
// subject and the request id when the call came through the HTTP surface.
type OutboxPublisher struct {
	publisher *eventing.Publisher
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher}
}

// Publish writes event to the outbox.
func (p *OutboxPublisher) Publish(ctx context.Context, event any) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	if subject := auth.SubjectFromContext(ctx); subject != "" {
		ctx = eventing.WithActor(ctx, subject)
	}
	if requestID := logger.RequestIDFromContext(ctx); requestID != "" {
		ctx = eventing.WithCorrelationID(ctx, requestID)
	}
	return p.publisher.Publish(ctx, event)
}
