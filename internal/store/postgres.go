package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresStore is the production Store backed by PostgreSQL via sqlx.
// Retention is honored by filtering expired rows on every read plus an
// opportunistic purge; there is no background reaper.
type PostgresStore struct {
	db        *sqlx.DB
	queueName string
	logger    *slog.Logger
}

type messageRow struct {
	ID            string     `db:"id"`
	QueueName     string     `db:"queue_name"`
	Payload       string     `db:"payload"`
	Headers       []byte     `db:"headers"`
	EnqueuedAt    time.Time  `db:"enqueued_at"`
	CreatedAt     time.Time  `db:"created_at"`
	LastAttemptAt *time.Time `db:"last_attempt_at"`
	AttemptCount  int        `db:"attempt_count"`
	Status        string     `db:"status"`
	LastError     string     `db:"last_error"`
	ExpiresAt     time.Time  `db:"expires_at"`
}

// NewPostgresStore creates a Store over an existing sqlx connection.
func NewPostgresStore(db *sqlx.DB, queueName string, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		db:        db,
		queueName: queueName,
		logger:    logger,
	}
}

// EnsureSchema creates the message table and its indexes if missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS report_messages (
			id              TEXT PRIMARY KEY,
			queue_name      TEXT NOT NULL,
			payload         TEXT NOT NULL,
			headers         JSONB NOT NULL DEFAULT '{}',
			enqueued_at     TIMESTAMPTZ NOT NULL,
			created_at      TIMESTAMPTZ NOT NULL,
			last_attempt_at TIMESTAMPTZ,
			attempt_count   INT NOT NULL DEFAULT 0,
			status          TEXT NOT NULL,
			last_error      TEXT NOT NULL DEFAULT '',
			expires_at      TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_report_messages_unfinished
			ON report_messages (queue_name, status)`,
		`CREATE INDEX IF NOT EXISTS idx_report_messages_expires_at
			ON report_messages (expires_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

	s.logger.Info("Message table schema ensured",
		slog.String("table", "report_messages"),
	)
	return nil
}

func (s *PostgresStore) Upsert(ctx context.Context, record *Record) error {
	headers, err := json.Marshal(record.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	query := `
		INSERT INTO report_messages (
			id, queue_name, payload, headers, enqueued_at, created_at,
			last_attempt_at, attempt_count, status, last_error, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			queue_name      = EXCLUDED.queue_name,
			payload         = EXCLUDED.payload,
			headers         = EXCLUDED.headers,
			enqueued_at     = EXCLUDED.enqueued_at,
			created_at      = EXCLUDED.created_at,
			last_attempt_at = EXCLUDED.last_attempt_at,
			attempt_count   = EXCLUDED.attempt_count,
			status          = EXCLUDED.status,
			last_error      = EXCLUDED.last_error,
			expires_at      = EXCLUDED.expires_at
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		record.QueueName,
		record.Payload,
		headers,
		record.EnqueuedAt,
		record.CreatedAt,
		record.LastAttemptAt,
		record.AttemptCount,
		string(record.Status),
		record.LastError,
		record.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert message record: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkProcessing(ctx context.Context, id string) error {
	query := `
		UPDATE report_messages
		SET status = $1, attempt_count = attempt_count + 1, last_attempt_at = NOW()
		WHERE lower(id) = lower($2)
	`

	if _, err := s.db.ExecContext(ctx, query, string(StatusProcessing), id); err != nil {
		return fmt.Errorf("failed to mark message processing: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string) error {
	query := `
		UPDATE report_messages
		SET status = $1, last_attempt_at = NOW()
		WHERE lower(id) = lower($2)
	`

	if _, err := s.db.ExecContext(ctx, query, string(StatusCompleted), id); err != nil {
		return fmt.Errorf("failed to mark message completed: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkMovedToError(ctx context.Context, id, errorText string) error {
	query := `
		UPDATE report_messages
		SET status = $1, last_error = $2, last_attempt_at = NOW()
		WHERE lower(id) = lower($3)
	`

	if _, err := s.db.ExecContext(ctx, query, string(StatusMovedToError), errorText, id); err != nil {
		return fmt.Errorf("failed to mark message moved to error: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM report_messages WHERE lower(id) = lower($1)`

	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete message record: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadUnfinished(ctx context.Context) ([]Record, error) {
	s.purgeExpired(ctx)

	query := `
		SELECT id, queue_name, payload, headers, enqueued_at, created_at,
		       last_attempt_at, attempt_count, status, last_error, expires_at
		FROM report_messages
		WHERE queue_name = $1 AND status = ANY($2) AND expires_at > NOW()
	`

	var rows []messageRow
	statuses := pq.StringArray{string(StatusPending), string(StatusProcessing)}
	if err := s.db.SelectContext(ctx, &rows, query, s.queueName, statuses); err != nil {
		return nil, fmt.Errorf("failed to load unfinished messages: %w", err)
	}

	records := make([]Record, 0, len(rows))
	for _, row := range rows {
		record, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	s.logger.Info("Loaded unfinished messages",
		slog.Int("count", len(records)),
		slog.String("queue", s.queueName),
	)
	return records, nil
}

func (s *PostgresStore) GetStatuses(ctx context.Context, ids []string) (map[string]Status, error) {
	if len(ids) == 0 {
		return map[string]Status{}, nil
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, Key(id))
	}

	query := `
		SELECT id, status
		FROM report_messages
		WHERE lower(id) = ANY($1) AND expires_at > NOW()
	`

	var rows []struct {
		ID     string `db:"id"`
		Status string `db:"status"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, pq.StringArray(keys)); err != nil {
		return nil, fmt.Errorf("failed to get message statuses: %w", err)
	}

	statuses := make(map[string]Status, len(rows))
	for _, row := range rows {
		statuses[Key(row.ID)] = Status(row.Status)
	}
	return statuses, nil
}

func (s *PostgresStore) ExistsUnfinished(ctx context.Context, id string) (bool, error) {
	query := `
		SELECT COUNT(1)
		FROM report_messages
		WHERE lower(id) = lower($1) AND status = ANY($2) AND expires_at > NOW()
	`

	var count int
	statuses := pq.StringArray{string(StatusPending), string(StatusProcessing)}
	if err := s.db.GetContext(ctx, &count, query, id, statuses); err != nil {
		return false, fmt.Errorf("failed to check unfinished message: %w", err)
	}
	return count > 0, nil
}

// purgeExpired drops rows past their retention horizon. Failures are logged
// only; expired rows are already invisible to reads.
func (s *PostgresStore) purgeExpired(ctx context.Context) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM report_messages WHERE expires_at <= NOW()`)
	if err != nil {
		s.logger.Warn("Failed to purge expired message records",
			slog.Any("error", err),
		)
		return
	}

	if purged, err := result.RowsAffected(); err == nil && purged > 0 {
		s.logger.Debug("Purged expired message records",
			slog.Int64("count", purged),
		)
	}
}

func (r messageRow) toRecord() (Record, error) {
	var headers map[string]string
	if len(r.Headers) > 0 {
		if err := json.Unmarshal(r.Headers, &headers); err != nil {
			return Record{}, fmt.Errorf("failed to unmarshal headers for %s: %w", r.ID, err)
		}
	}
	if headers == nil {
		headers = map[string]string{}
	}

	return Record{
		ID:            r.ID,
		QueueName:     r.QueueName,
		Payload:       r.Payload,
		Headers:       headers,
		EnqueuedAt:    r.EnqueuedAt,
		CreatedAt:     r.CreatedAt,
		LastAttemptAt: r.LastAttemptAt,
		AttemptCount:  r.AttemptCount,
		Status:        Status(r.Status),
		LastError:     r.LastError,
		ExpiresAt:     r.ExpiresAt,
	}, nil
}
