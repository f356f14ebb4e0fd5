package memory

import (
	"context"
	"sync"

	"residence-cloud/internal/eventing"
)

type outboxEntry struct {
	record   eventing.OutboxRecord
	status   string
	attempts int
}

// OutboxStore keeps outbox records in insertion order.
type OutboxStore struct {
	mu      sync.Mutex
	entries []*outboxEntry
	byID    map[string]*outboxEntry
}

// NewOutboxStore constructs an in-memory outbox.
func NewOutboxStore() *OutboxStore {
	return &OutboxStore{byID: make(map[string]*outboxEntry)}
}

// Insert appends an envelope as pending.
func (s *OutboxStore) Insert(ctx context.Context, env eventing.Envelope) (string, error) {
	_ = ctx
	id := eventing.NewEventID()
	entry := &outboxEntry{record: eventing.OutboxRecord{ID: id, Envelope: env}, status: "pending"}
	s.mu.Lock()
	s.entries = append(s.entries, entry)
	s.byID[id] = entry
	s.mu.Unlock()
	return id, nil
}

// ListPending claims up to limit pending records.
func (s *OutboxStore) ListPending(ctx context.Context, limit int) ([]eventing.OutboxRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 50
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []eventing.OutboxRecord
	for _, entry := range s.entries {
		if len(result) >= limit {
			break
		}
		if entry.status != "pending" {
			continue
		}
		entry.status = "dispatching"
		record := entry.record
		record.Attempts = entry.attempts
		result = append(result, record)
	}
	return result, nil
}

// MarkSent marks a record as sent.
func (s *OutboxStore) MarkSent(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	if entry := s.byID[id]; entry != nil {
		entry.status = "sent"
	}
	s.mu.Unlock()
	return nil
}

// MarkRetry returns a record to pending for the next dispatch.
func (s *OutboxStore) MarkRetry(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	if entry := s.byID[id]; entry != nil {
		entry.status = "pending"
		entry.attempts++
	}
	s.mu.Unlock()
	return nil
}

// MarkFailed marks a record as failed.
func (s *OutboxStore) MarkFailed(ctx context.Context, id string) error {
	_ = ctx
	s.mu.Lock()
	if entry := s.byID[id]; entry != nil {
		entry.status = "failed"
		entry.attempts++
	}
	s.mu.Unlock()
	return nil
}

// CountByStatus returns the number of records in a status.
func (s *OutboxStore) CountByStatus(status string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.entries {
		if entry.status == status {
			count++
		}
	}
	return count
}

// ProcessedStore tracks handled (event, consumer) pairs.
type ProcessedStore struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewProcessedStore constructs an in-memory processed store.
func NewProcessedStore() *ProcessedStore {
	return &ProcessedStore{seen: make(map[string]struct{})}
}

// HasProcessed reports whether the consumer handled the event.
func (s *ProcessedStore) HasProcessed(ctx context.Context, eventID, consumerName string) (bool, error) {
	_ = ctx
	s.mu.RLock()
	_, ok := s.seen[eventID+"|"+consumerName]
	s.mu.RUnlock()
	return ok, nil
}

// MarkProcessed records the pair.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, eventID, consumerName string) error {
	_ = ctx
	s.mu.Lock()
	s.seen[eventID+"|"+consumerName] = struct{}{}
	s.mu.Unlock()
	return nil
}

// DLQStore keeps the last failure per event.
type DLQStore struct {
	mu       sync.Mutex
	failures map[string]string
}

// NewDLQStore constructs an in-memory DLQ.
func NewDLQStore() *DLQStore {
	return &DLQStore{failures: make(map[string]string)}
}

// RecordFailure stores the error message for the event.
func (s *DLQStore) RecordFailure(ctx context.Context, env eventing.Envelope, err error) error {
	_ = ctx
	message := ""
	if err != nil {
		message = err.Error()
	}
	s.mu.Lock()
	s.failures[env.EventID] = message
	s.mu.Unlock()
	return nil
}

// Len returns the number of dead-lettered events.
func (s *DLQStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.failures)
}
