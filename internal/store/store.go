// Package store holds the durable record of every message the pipeline has
// seen, used for crash recovery and status inspection.
package store

import (
	"context"
	"strings"
	"time"
)

// Status is the lifecycle state of a persisted message record.
type Status string

const (
	StatusPending      Status = "Pending"
	StatusProcessing   Status = "Processing"
	StatusCompleted    Status = "Completed"
	StatusMovedToError Status = "MovedToError"
)

// Record is the authoritative persisted state of one message, keyed by id.
// ExpiresAt is the retention horizon; stores may drop records past it.
type Record struct {
	ID            string
	QueueName     string
	Payload       string
	Headers       map[string]string
	EnqueuedAt    time.Time
	CreatedAt     time.Time
	LastAttemptAt *time.Time
	AttemptCount  int
	Status        Status
	LastError     string
	ExpiresAt     time.Time
}

// Unfinished reports whether the record still needs processing.
func (r *Record) Unfinished() bool {
	return r.Status == StatusPending || r.Status == StatusProcessing
}

// Store is the durable job store contract. All methods are safe for
// concurrent use and may fail with transient I/O errors; callers must not
// assume success. Id lookups are case-insensitive: GetStatuses returns a map
// keyed by the lowercased id (see Key).
type Store interface {
	// Upsert replaces or inserts the record by id. Idempotent.
	Upsert(ctx context.Context, record *Record) error
	// MarkProcessing sets status Processing, bumps the attempt count and
	// stamps the attempt time. No-op for unknown ids.
	MarkProcessing(ctx context.Context, id string) error
	// MarkCompleted records terminal success. Implementations may delete
	// the record instead; either way it no longer counts as unfinished.
	MarkCompleted(ctx context.Context, id string) error
	// MarkMovedToError records terminal failure with the full error text.
	MarkMovedToError(ctx context.Context, id, errorText string) error
	Delete(ctx context.Context, id string) error
	// LoadUnfinished returns all Pending or Processing records for the
	// store's queue. Ordering is not guaranteed.
	LoadUnfinished(ctx context.Context) ([]Record, error)
	// GetStatuses resolves statuses for the given ids, case-insensitively.
	// Unknown ids are simply absent from the result.
	GetStatuses(ctx context.Context, ids []string) (map[string]Status, error)
	ExistsUnfinished(ctx context.Context, id string) (bool, error)
}

// Key normalizes a message id for case-insensitive lookups.
func Key(id string) string {
	return strings.ToLower(id)
}

// NewPending builds a fresh Pending record for a newly observed message,
// stamping creation time and the retention horizon.
func NewPending(id, queueName, payload string, headers map[string]string, enqueuedAt time.Time, retention time.Duration) *Record {
	now := time.Now().UTC()
	if enqueuedAt.IsZero() {
		enqueuedAt = now
	}
	if headers == nil {
		headers = map[string]string{}
	}

	return &Record{
		ID:         id,
		QueueName:  queueName,
		Payload:    payload,
		Headers:    headers,
		EnqueuedAt: enqueuedAt,
		CreatedAt:  now,
		Status:     StatusPending,
		ExpiresAt:  now.Add(retention),
	}
}
