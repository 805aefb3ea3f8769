package report

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/report-queue/internal/queue"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func payloadFor(t *testing.T, model ExecutionModel) string {
	t.Helper()
	data, err := json.Marshal(model)
	require.NoError(t, err)
	return string(data)
}

func TestProcessValidExecution(t *testing.T) {
	runner := NewRunner(0, testLogger())

	payload := payloadFor(t, ExecutionModel{
		ID:       "msg-1",
		ReportID: "monthly-sales",
		User:     "tester",
		Parameters: []QueryParameter{
			{Name: "month", Type: "string", Value: "2026-08"},
		},
	})

	err := runner.Process(context.Background(), queue.Envelope{MessageID: "msg-1", Payload: payload})
	assert.NoError(t, err)
}

func TestProcessRejectsInvalidExecution(t *testing.T) {
	runner := NewRunner(0, testLogger())

	tests := []struct {
		name  string
		model ExecutionModel
	}{
		{"missing report id", ExecutionModel{User: "tester"}},
		{"missing user", ExecutionModel{ReportID: "monthly-sales"}},
		{"blank fields", ExecutionModel{ReportID: "  ", User: "\t"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runner.Process(context.Background(), queue.Envelope{Payload: payloadFor(t, tt.model)})
			assert.ErrorIs(t, err, ErrInvalidExecution)
		})
	}
}

func TestProcessRejectsMalformedPayload(t *testing.T) {
	runner := NewRunner(0, testLogger())

	err := runner.Process(context.Background(), queue.Envelope{Payload: "not json at all"})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidExecution)
}

func TestProcessHonorsCancellationDuringDelay(t *testing.T) {
	runner := NewRunner(time.Minute, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	payload := payloadFor(t, ExecutionModel{ReportID: "r1", User: "tester"})
	err := runner.Process(ctx, queue.Envelope{Payload: payload})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEnsureIDGeneratesWhenBlank(t *testing.T) {
	model := ExecutionModel{ReportID: "r1", User: "tester"}
	model.EnsureID()

	assert.Len(t, model.ID, 32)
	assert.NotContains(t, model.ID, "-")
	assert.False(t, model.RequestedAt.IsZero())
}

func TestEnsureIDKeepsExistingID(t *testing.T) {
	requested := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	model := ExecutionModel{ID: "caller-chosen", RequestedAt: requested}
	model.EnsureID()

	assert.Equal(t, "caller-chosen", model.ID)
	assert.Equal(t, requested, model.RequestedAt)
}

func TestNewMessageIDIsUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewMessageID()
		assert.Len(t, id, 32)
		assert.False(t, seen[id])
		seen[id] = true
	}
}
