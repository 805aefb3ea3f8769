package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingRecord(id string) *Record {
	return NewPending(id, "report-jobs", `{"reportId":"r1"}`, map[string]string{"k": "v"}, time.Now(), 30*24*time.Hour)
}

func TestUpsertAndLoadUnfinished(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")

	require.NoError(t, s.Upsert(ctx, newPendingRecord("msg-1")))
	require.NoError(t, s.Upsert(ctx, newPendingRecord("msg-2")))

	unfinished, err := s.LoadUnfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 2)
}

func TestUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")

	require.NoError(t, s.Upsert(ctx, newPendingRecord("msg-1")))
	require.NoError(t, s.Upsert(ctx, newPendingRecord("msg-1")))

	unfinished, err := s.LoadUnfinished(ctx)
	require.NoError(t, err)
	assert.Len(t, unfinished, 1)
}

func TestLoadUnfinishedSkipsOtherQueues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")

	other := newPendingRecord("msg-other")
	other.QueueName = "another-queue"
	require.NoError(t, s.Upsert(ctx, other))

	unfinished, err := s.LoadUnfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestMarkProcessingBumpsAttempts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")

	require.NoError(t, s.Upsert(ctx, newPendingRecord("msg-1")))
	require.NoError(t, s.MarkProcessing(ctx, "msg-1"))
	require.NoError(t, s.MarkProcessing(ctx, "msg-1"))

	unfinished, err := s.LoadUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, StatusProcessing, unfinished[0].Status)
	assert.Equal(t, 2, unfinished[0].AttemptCount)
	assert.NotNil(t, unfinished[0].LastAttemptAt)
}

func TestMarkCompletedRemovesRecord(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")

	require.NoError(t, s.Upsert(ctx, newPendingRecord("msg-1")))
	require.NoError(t, s.MarkCompleted(ctx, "msg-1"))

	exists, err := s.ExistsUnfinished(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)

	statuses, err := s.GetStatuses(ctx, []string{"msg-1"})
	require.NoError(t, err)
	assert.Empty(t, statuses)
}

func TestMarkMovedToErrorIsTerminal(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")

	require.NoError(t, s.Upsert(ctx, newPendingRecord("msg-1")))
	require.NoError(t, s.MarkMovedToError(ctx, "msg-1", "processor panic: boom"))

	exists, err := s.ExistsUnfinished(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)

	statuses, err := s.GetStatuses(ctx, []string{"msg-1"})
	require.NoError(t, err)
	assert.Equal(t, StatusMovedToError, statuses[Key("msg-1")])
}

func TestMarkUnknownIdIsNoop(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")

	assert.NoError(t, s.MarkProcessing(ctx, "ghost"))
	assert.NoError(t, s.MarkCompleted(ctx, "ghost"))
	assert.NoError(t, s.MarkMovedToError(ctx, "ghost", "err"))
}

func TestCaseInsensitiveLookups(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")

	require.NoError(t, s.Upsert(ctx, newPendingRecord("MSG-Mixed")))

	exists, err := s.ExistsUnfinished(ctx, "msg-mixed")
	require.NoError(t, err)
	assert.True(t, exists)

	statuses, err := s.GetStatuses(ctx, []string{"MSG-MIXED"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, statuses["msg-mixed"])

	require.NoError(t, s.MarkProcessing(ctx, "Msg-MIXED"))
	unfinished, err := s.LoadUnfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 1)
	assert.Equal(t, StatusProcessing, unfinished[0].Status)
}

func TestRetentionExpiryPurgesRecords(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore("report-jobs")
	current := time.Now()
	s.now = func() time.Time { return current }

	record := newPendingRecord("msg-1")
	record.ExpiresAt = current.Add(time.Hour)
	require.NoError(t, s.Upsert(ctx, record))

	exists, err := s.ExistsUnfinished(ctx, "msg-1")
	require.NoError(t, err)
	assert.True(t, exists)

	current = current.Add(2 * time.Hour)

	exists, err = s.ExistsUnfinished(ctx, "msg-1")
	require.NoError(t, err)
	assert.False(t, exists)

	unfinished, err := s.LoadUnfinished(ctx)
	require.NoError(t, err)
	assert.Empty(t, unfinished)
}

func TestNewPendingDefaults(t *testing.T) {
	record := NewPending("msg-1", "report-jobs", "payload", nil, time.Time{}, time.Hour)

	assert.Equal(t, StatusPending, record.Status)
	assert.NotNil(t, record.Headers)
	assert.False(t, record.EnqueuedAt.IsZero())
	assert.False(t, record.ExpiresAt.IsZero())
	assert.True(t, record.ExpiresAt.After(record.CreatedAt))
	assert.True(t, record.Unfinished())
}
