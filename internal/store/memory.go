package store

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the in-process Store used for tests and local development.
// MarkCompleted deletes the record outright, which satisfies the "no longer
// unfinished" contract without accumulating terminal state.
type MemoryStore struct {
	mu        sync.Mutex
	records   map[string]*Record
	queueName string
	now       func() time.Time
}

// NewMemoryStore creates an empty store scoped to the given queue name.
func NewMemoryStore(queueName string) *MemoryStore {
	return &MemoryStore{
		records:   make(map[string]*Record),
		queueName: queueName,
		now:       time.Now,
	}
}

func (s *MemoryStore) Upsert(_ context.Context, record *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *record
	clone.Headers = copyHeaders(record.Headers)
	s.records[Key(record.ID)] = &clone
	return nil
}

func (s *MemoryStore) MarkProcessing(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[Key(id)]; ok {
		now := s.now()
		record.Status = StatusProcessing
		record.LastAttemptAt = &now
		record.AttemptCount++
	}
	return nil
}

func (s *MemoryStore) MarkCompleted(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, Key(id))
	return nil
}

func (s *MemoryStore) MarkMovedToError(_ context.Context, id, errorText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record, ok := s.records[Key(id)]; ok {
		now := s.now()
		record.Status = StatusMovedToError
		record.LastError = errorText
		record.LastAttemptAt = &now
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.records, Key(id))
	return nil
}

func (s *MemoryStore) LoadUnfinished(_ context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()

	var unfinished []Record
	for _, record := range s.records {
		if record.QueueName != s.queueName || !record.Unfinished() {
			continue
		}
		clone := *record
		clone.Headers = copyHeaders(record.Headers)
		unfinished = append(unfinished, clone)
	}
	return unfinished, nil
}

func (s *MemoryStore) GetStatuses(_ context.Context, ids []string) (map[string]Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()

	statuses := make(map[string]Status)
	for _, id := range ids {
		if record, ok := s.records[Key(id)]; ok {
			statuses[Key(id)] = record.Status
		}
	}
	return statuses, nil
}

func (s *MemoryStore) ExistsUnfinished(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.purgeExpiredLocked()

	record, ok := s.records[Key(id)]
	return ok && record.Unfinished(), nil
}

// purgeExpiredLocked enforces the retention horizon lazily on reads, standing
// in for the TTL index a durable backend provides.
func (s *MemoryStore) purgeExpiredLocked() {
	now := s.now()
	for key, record := range s.records {
		if !record.ExpiresAt.IsZero() && record.ExpiresAt.Before(now) {
			delete(s.records, key)
		}
	}
}

func copyHeaders(headers map[string]string) map[string]string {
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return copied
}
