package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"residence-cloud/internal/eventing"
)

const defaultOutboxTable = "event_outbox"

// OutboxStore is a Postgres implementation for outbox records. Pending rows are
// claimed with FOR UPDATE SKIP LOCKED so concurrent dispatchers never deliver
// the same row twice.
type OutboxStore struct {
	db    *sql.DB
	table string
}

// NewOutboxStore constructs an outbox store.
func NewOutboxStore(db *sql.DB, opts ...OutboxOption) *OutboxStore {
	store := &OutboxStore{db: db, table: defaultOutboxTable}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// OutboxOption configures the outbox store.
type OutboxOption func(*OutboxStore)

// WithOutboxTable overrides the table name.
func WithOutboxTable(table string) OutboxOption {
	return func(store *OutboxStore) {
		if table != "" {
			store.table = table
		}
	}
}

// Insert writes an envelope to the outbox.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	if s == nil || s.db == nil {
		return "", errors.New("outbox store: nil db")
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	outboxID := eventing.NewEventID()
	query := fmt.Sprintf(`
INSERT INTO %s (id, event_id, event_type, aggregate_id, payload, status, attempts, created_at)
VALUES ($1, $2, $3, $4, $5, 'pending', 0, $6)`, s.table)

	if _, err := s.db.ExecContext(ctx, query, outboxID, env.EventID, env.EventType, env.AggregateID, payload, time.Now().UTC()); err != nil {
		return "", err
	}
	return outboxID, nil
}

// ListPending claims up to limit pending records.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("outbox store: nil db")
	}
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'dispatching', claimed_at = $2
WHERE id IN (
	SELECT id FROM %s
	WHERE status = 'pending'
	ORDER BY created_at ASC
	LIMIT $1
	FOR UPDATE SKIP LOCKED
)
RETURNING id, payload, attempts, created_at`, s.table, s.table)

	rows, err := s.db.QueryContext(ctx, query, limit, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		record    eventing.OutboxRecord
		createdAt time.Time
	}
	var batch []claimed
	for rows.Next() {
		var id string
		var payload []byte
		var attempts int
		var createdAt time.Time
		if err := rows.Scan(&id, &payload, &attempts, &createdAt); err != nil {
			return nil, err
		}
		var env eventing.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			return nil, err
		}
		batch = append(batch, claimed{record: eventing.OutboxRecord{ID: id, Envelope: env, Attempts: attempts}, createdAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING does not preserve the subquery order.
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].createdAt.Before(batch[j].createdAt)
	})
	result := make([]eventing.OutboxRecord, 0, len(batch))
	for _, item := range batch {
		result = append(result, item.record)
	}
	return result, nil
}

// MarkSent marks an outbox record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'sent', sent_at = $1
WHERE id = $2`, s.table)
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

// MarkRetry returns a claimed record to pending and increments attempts.
func (s *OutboxStore) MarkRetry(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'pending', attempts = attempts + 1, claimed_at = NULL
WHERE id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// MarkFailed marks an outbox record as failed and increments attempts.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'failed', attempts = attempts + 1
WHERE id = $1`, s.table)
	_, err := s.db.ExecContext(ctx, query, id)
	return err
}

// RequeueStale returns rows stuck in dispatching for longer than olderThan to
// pending, e.g. after a crash mid-dispatch.
func (s *OutboxStore) RequeueStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("outbox store: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = 'pending', claimed_at = NULL
WHERE status = 'dispatching' AND claimed_at < $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
