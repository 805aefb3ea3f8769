package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/report-queue/internal/api/dto"
	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/replay"
	"github.com/example/report-queue/internal/store"
)

const testQueueName = "report-jobs"

type testEnv struct {
	router *gin.Engine
	client *queue.MemoryClient
	store  *store.MemoryStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client := queue.NewMemoryClient(testQueueName, testQueueName+"-error")
	messageStore := store.NewMemoryStore(testQueueName)
	replayService := replay.NewService(client, messageStore, testQueueName, 200, time.Hour, logger)

	h := NewQueueHandler(&Dependencies{
		Logger:         logger,
		Queue:          client,
		Store:          messageStore,
		Replay:         replayService,
		MainQueueName:  testQueueName,
		PeekMaxDefault: 100,
		Retention:      time.Hour,
	})

	r := gin.New()
	r.POST("/api/reports/enqueue", h.EnqueueReport)
	r.GET("/api/queues/main/messages", h.ListMainMessages)
	r.GET("/api/queues/error/messages", h.ListErrorMessages)
	r.POST("/api/queues/error/move/:message_id", h.MoveErrorMessage)
	r.POST("/api/queues/error/move-all", h.MoveAllErrorMessages)

	return &testEnv{router: r, client: client, store: messageStore}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestEnqueueReportAccepted(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/reports/enqueue", `{"reportId":"monthly-sales","user":"tester"}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	var resp dto.EnqueueReportResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.MessageID)

	// The job is on the broker with a Pending record behind it.
	peeked, err := env.client.PeekMain(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, peeked, 1)
	assert.Equal(t, resp.MessageID, peeked[0].MessageID)

	exists, err := env.store.ExistsUnfinished(context.Background(), resp.MessageID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestEnqueueReportValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body string
	}{
		{"missing report id", `{"user":"tester"}`},
		{"missing user", `{"reportId":"monthly-sales"}`},
		{"not json", `so close and yet so far`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(http.MethodPost, "/api/reports/enqueue", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListMainMessagesMergesQueueAndStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// One message visible on the broker with a persisted record.
	require.NoError(t, env.client.EnqueueMain(ctx, queue.Envelope{
		MessageID:  "msg-queued",
		EnqueuedAt: time.Now().Add(-time.Minute),
	}))
	require.NoError(t, env.store.Upsert(ctx, store.NewPending("msg-queued", testQueueName, "p", nil, time.Now().Add(-time.Minute), time.Hour)))

	// One store-only record, locked by a worker somewhere.
	require.NoError(t, env.store.Upsert(ctx, store.NewPending("msg-inflight", testQueueName, "p", nil, time.Now(), time.Hour)))
	require.NoError(t, env.store.MarkProcessing(ctx, "msg-inflight"))

	w := env.do(http.MethodGet, "/api/queues/main/messages", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListMessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 2)

	// Ordered by enqueue time: the broker message came first.
	assert.Equal(t, "msg-queued", resp.Messages[0].MessageID)
	assert.Equal(t, string(store.StatusPending), resp.Messages[0].Status)
	assert.Equal(t, "queue", resp.Messages[0].Source)

	assert.Equal(t, "msg-inflight", resp.Messages[1].MessageID)
	assert.Equal(t, string(store.StatusProcessing), resp.Messages[1].Status)
	assert.Equal(t, "store", resp.Messages[1].Source)
}

func TestListMainMessagesRespectsMax(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, env.client.EnqueueMain(ctx, queue.Envelope{
			MessageID:  string(rune('a' + i)),
			EnqueuedAt: base.Add(time.Duration(i) * time.Second),
		}))
	}

	w := env.do(http.MethodGet, "/api/queues/main/messages?max=2", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListMessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Messages, 2)
}

func TestListErrorMessagesResolvesOriginal(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.client.EnqueueError(ctx, queue.ErrorEnvelope{
		OriginalMessageID: "msg-1",
		OriginalPayload:   "payload",
		FailedAt:          time.Now().UTC(),
		ErrorKind:         "*errors.errorString",
		ErrorMessage:      "boom",
	}))
	require.NoError(t, env.store.Upsert(ctx, store.NewPending("msg-1", testQueueName, "p", nil, time.Now(), time.Hour)))
	require.NoError(t, env.store.MarkMovedToError(ctx, "msg-1", "boom"))

	w := env.do(http.MethodGet, "/api/queues/error/messages", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.ListErrorMessagesResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Messages, 1)

	message := resp.Messages[0]
	assert.Equal(t, "msg-1", message.OriginalMessageID)
	assert.Equal(t, "boom", message.ErrorMessage)
	assert.Equal(t, string(store.StatusMovedToError), message.OriginalStatus)
}

func TestMoveErrorMessageFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.client.EnqueueError(ctx, queue.ErrorEnvelope{
		OriginalMessageID: "msg-1",
		OriginalPayload:   "payload",
		FailedAt:          time.Now().UTC(),
	}))

	w := env.do(http.MethodPost, "/api/queues/error/move/msg-1", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.MoveResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Moved)

	peeked, err := env.client.PeekMain(ctx, 10)
	require.NoError(t, err)
	require.Len(t, peeked, 1)
	assert.Equal(t, "msg-1", peeked[0].MessageID)
}

func TestMoveErrorMessageNotFound(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodPost, "/api/queues/error/move/ghost", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMoveAllErrorMessages(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for _, id := range []string{"msg-1", "msg-2", "msg-3"} {
		require.NoError(t, env.client.EnqueueError(ctx, queue.ErrorEnvelope{
			OriginalMessageID: id,
			OriginalPayload:   "payload",
			FailedAt:          time.Now().UTC(),
		}))
	}

	w := env.do(http.MethodPost, "/api/queues/error/move-all", "")
	require.Equal(t, http.StatusOK, w.Code)

	var resp dto.MoveAllResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp.MovedCount)

	peeked, err := env.client.PeekMain(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, peeked, 3)
}
