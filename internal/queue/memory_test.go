package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient() *MemoryClient {
	return NewMemoryClient("report-jobs", "report-jobs-error")
}

func TestReceiveLocksAndCompleteRemoves(t *testing.T) {
	ctx := context.Background()
	client := newTestClient()

	require.NoError(t, client.EnqueueMain(ctx, Envelope{
		MessageID:  "msg-1",
		Payload:    `{"reportId":"r1"}`,
		EnqueuedAt: time.Now(),
	}))

	item, err := client.ReceiveMain(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "msg-1", item.MessageID)
	assert.Equal(t, 1, client.InflightCount())

	// Locked message is not redelivered.
	second, err := client.ReceiveMain(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)

	require.NoError(t, client.Complete(ctx, item))
	assert.Equal(t, 0, client.InflightCount())

	third, err := client.ReceiveMain(ctx)
	require.NoError(t, err)
	assert.Nil(t, third)
}

func TestAbandonReturnsToTailOfOriginQueue(t *testing.T) {
	ctx := context.Background()
	client := newTestClient()

	require.NoError(t, client.EnqueueMain(ctx, Envelope{MessageID: "msg-1"}))
	require.NoError(t, client.EnqueueMain(ctx, Envelope{MessageID: "msg-2"}))

	first, err := client.ReceiveMain(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	assert.Equal(t, "msg-1", first.MessageID)

	require.NoError(t, client.Abandon(ctx, first))
	assert.Equal(t, 0, client.InflightCount())

	next, err := client.ReceiveMain(ctx)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, "msg-2", next.MessageID)

	last, err := client.ReceiveMain(ctx)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, "msg-1", last.MessageID)
}

func TestAbandonErrorMessageStaysOnErrorQueue(t *testing.T) {
	ctx := context.Background()
	client := newTestClient()

	require.NoError(t, client.EnqueueError(ctx, ErrorEnvelope{
		OriginalMessageID: "msg-1",
		OriginalPayload:   "payload",
		FailedAt:          time.Now(),
	}))

	item, err := client.ReceiveError(ctx)
	require.NoError(t, err)
	require.NotNil(t, item)
	require.NoError(t, client.Abandon(ctx, item))

	again, err := client.ReceiveError(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, "msg-1", again.MessageID)

	fromMain, err := client.ReceiveMain(ctx)
	require.NoError(t, err)
	assert.Nil(t, fromMain)
}

func TestPeekIsNonDestructive(t *testing.T) {
	ctx := context.Background()
	client := newTestClient()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, client.EnqueueMain(ctx, Envelope{MessageID: id}))
	}

	peeked, err := client.PeekMain(ctx, 2)
	require.NoError(t, err)
	require.Len(t, peeked, 2)
	assert.Equal(t, "a", peeked[0].MessageID)
	assert.Equal(t, "b", peeked[1].MessageID)

	// Peek did not lock or remove anything.
	assert.Equal(t, 0, client.InflightCount())
	all, err := client.PeekMain(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestErrorEnvelopeRoundTrip(t *testing.T) {
	envelope := ErrorEnvelope{
		OriginalMessageID: "msg-1",
		OriginalPayload:   `{"reportId":"r1"}`,
		FailedAt:          time.Now().UTC().Truncate(time.Second),
		ErrorKind:         "*errors.errorString",
		ErrorMessage:      "boom",
		OriginalHeaders:   map[string]string{"correlationId": "c-1"},
		Host:              "worker-a",
	}

	payload, err := MarshalErrorEnvelope(envelope)
	require.NoError(t, err)

	parsed, ok := ParseErrorEnvelope(payload)
	require.True(t, ok)
	assert.Equal(t, envelope.OriginalMessageID, parsed.OriginalMessageID)
	assert.Equal(t, envelope.OriginalPayload, parsed.OriginalPayload)
	assert.Equal(t, envelope.ErrorMessage, parsed.ErrorMessage)
	assert.Equal(t, envelope.Host, parsed.Host)
}

func TestParseErrorEnvelopeRejectsGarbage(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not json", "this is not json"},
		{"json without original id", `{"errorMessage":"boom"}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, ok := ParseErrorEnvelope(tt.payload)
			assert.False(t, ok)
			assert.Nil(t, parsed)
		})
	}
}

func TestCopyHeadersIsIndependent(t *testing.T) {
	original := map[string]string{"a": "1"}
	copied := CopyHeaders(original)
	copied["a"] = "2"

	assert.Equal(t, "1", original["a"])
	assert.NotNil(t, CopyHeaders(nil))
}
