package integration_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"residence-cloud/internal/eventing"
	"residence-cloud/internal/eventing/eventbus"
	eventingrepo "residence-cloud/internal/eventing/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type chargePaid struct {
	ChargeID   string    `json:"charge_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func TestOutbox_IdempotentConsumer(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	bus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(chargePaid{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	processedStore := eventingrepo.NewProcessedStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(bus, outboxStore, registry, dlqStore, nil)
	publisher := eventing.NewPublisher(outboxStore, dispatcher, "system", bus, nil)

	count := 0
	eventing.Subscribe(bus, eventbus.EventTypeOf[chargePaid](), "consumer-a", func(ctx context.Context, event any) error {
		count++
		return nil
	}, processedStore)

	ctx = eventing.WithEventID(ctx, "evt-dup-"+time.Now().UTC().Format("150405.000000"))
	payload := chargePaid{ChargeID: "charge-1", OccurredAt: time.Date(2025, time.March, 10, 10, 0, 0, 0, time.UTC)}

	if err := publisher.Publish(ctx, payload); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if err := publisher.Publish(ctx, payload); err != nil {
		t.Fatalf("publish duplicate: %v", err)
	}
	if _, err := dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if count != 1 {
		t.Fatalf("expected handler once, got %d", count)
	}
}

func TestOutbox_DLQOnFailure(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	bus := eventbus.NewInMemoryBus()
	registry := eventing.NewRegistry()
	registry.Register(chargePaid{})

	outboxStore := eventingrepo.NewOutboxStore(db)
	dlqStore := eventingrepo.NewDLQStore(db)
	dispatcher := eventing.NewDispatcher(bus, outboxStore, registry, dlqStore, nil, eventing.WithMaxAttempts(2))
	publisher := eventing.NewPublisher(outboxStore, nil, "system", bus, nil)

	bus.Subscribe(eventbus.EventTypeOf[chargePaid](), func(ctx context.Context, event any) error {
		return errors.New("boom")
	})

	if err := publisher.Publish(ctx, chargePaid{ChargeID: "charge-2", OccurredAt: time.Now().UTC()}); err != nil {
		t.Fatalf("publish event: %v", err)
	}
	if _, err := dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	var status string
	var attempts int
	if err := db.QueryRowContext(ctx, "SELECT status, attempts FROM event_outbox").Scan(&status, &attempts); err != nil {
		t.Fatalf("load outbox row: %v", err)
	}
	if status != "pending" || attempts != 1 {
		t.Fatalf("expected pending retry after first failure, got %s/%d", status, attempts)
	}
	if _, err := dispatcher.Dispatch(ctx, 10); err != nil {
		t.Fatalf("dispatch retry: %v", err)
	}
	if err := db.QueryRowContext(ctx, "SELECT status, attempts FROM event_outbox").Scan(&status, &attempts); err != nil {
		t.Fatalf("load outbox row: %v", err)
	}
	if status != "failed" || attempts != 2 {
		t.Fatalf("expected failed after the last attempt, got %s/%d", status, attempts)
	}

	var dlqCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM dead_letter_events").Scan(&dlqCount); err != nil {
		t.Fatalf("count dlq: %v", err)
	}
	if dlqCount != 1 {
		t.Fatalf("expected 1 dlq record, got %d", dlqCount)
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if !tableExists(db, "event_outbox") ||
		!tableExists(db, "processed_events") ||
		!tableExists(db, "dead_letter_events") {
		t.Skip("missing tables; run migrations")
	}
	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM processed_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM dead_letter_events")
	_, _ = db.ExecContext(ctx, "DELETE FROM event_outbox")
	return db
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
