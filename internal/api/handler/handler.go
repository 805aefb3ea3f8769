package handler

import (
	"log/slog"
	"time"

	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/replay"
	"github.com/example/report-queue/internal/store"
)

// PeekMaxLimit caps how many messages a single inspection request may list.
const PeekMaxLimit = 1000

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Queue          queue.Client
	Store          store.Store
	Replay         *replay.Service
	MainQueueName  string
	PeekMaxDefault int
	Retention      time.Duration
}

// QueueHandler handles report submission, inspection and replay requests.
type QueueHandler struct {
	logger         *slog.Logger
	queue          queue.Client
	store          store.Store
	replay         *replay.Service
	mainQueueName  string
	peekMaxDefault int
	retention      time.Duration
}

// NewQueueHandler creates a new QueueHandler instance
func NewQueueHandler(deps *Dependencies) *QueueHandler {
	peekMax := deps.PeekMaxDefault
	if peekMax < 1 {
		peekMax = 100
	}

	return &QueueHandler{
		logger:         deps.Logger,
		queue:          deps.Queue,
		store:          deps.Store,
		replay:         deps.Replay,
		mainQueueName:  deps.MainQueueName,
		peekMaxDefault: peekMax,
		retention:      deps.Retention,
	}
}
