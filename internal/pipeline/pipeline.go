// Package pipeline connects the broker's main queue to a pool of workers
// through a bounded channel, with persistence-backed crash recovery and
// retry-with-backoff error routing.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/example/report-queue/internal/dedup"
	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/store"
)

// MaxWorkerCount caps the configured worker pool size.
const MaxWorkerCount = 64

// Options configures the pipeline. Zero values fall back to the defaults
// noted on each field.
type Options struct {
	QueueName       string
	ChannelCapacity int           // default 500
	WorkerCount     int           // default 4, clamped to 1..MaxWorkerCount
	MaxRetries      int           // default 3, minimum 1
	ReceiveWait     time.Duration // default 2s
	DrainTimeout    time.Duration // default 20s
	ClaimTTL        time.Duration // default 2h
	Retention       time.Duration // default 30 days
	Host            string
}

func (o *Options) normalize() {
	if o.ChannelCapacity <= 0 {
		o.ChannelCapacity = 500
	}
	if o.WorkerCount <= 0 {
		o.WorkerCount = 4
	}
	if o.WorkerCount > MaxWorkerCount {
		o.WorkerCount = MaxWorkerCount
	}
	if o.MaxRetries < 1 {
		o.MaxRetries = 3
	}
	if o.ReceiveWait <= 0 {
		o.ReceiveWait = 2 * time.Second
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = 20 * time.Second
	}
	if o.ClaimTTL <= 0 {
		o.ClaimTTL = 2 * time.Hour
	}
	if o.Retention <= 0 {
		o.Retention = 30 * 24 * time.Hour
	}
}

// Pipeline owns the ingestion loop, the bounded work channel and the worker
// pool. The channel's fixed capacity is the only backpressure mechanism:
// ingestion blocks when workers fall behind.
type Pipeline struct {
	queue   queue.Client
	store   store.Store
	guard   *dedup.Guard
	handler *Handler
	opts    Options
	logger  *slog.Logger

	items       chan *queue.ReceiveItem
	workersWG   sync.WaitGroup
	ingestDone  chan struct{}
	cancelPump  context.CancelFunc
	forceCancel context.CancelFunc
	startOnce   sync.Once
	stopOnce    sync.Once
}

// New wires a pipeline from its collaborators. The processor is the opaque
// business logic run once per attempt.
func New(queueClient queue.Client, messageStore store.Store, guard *dedup.Guard, processor Processor, opts Options, logger *slog.Logger) *Pipeline {
	opts.normalize()

	return &Pipeline{
		queue:      queueClient,
		store:      messageStore,
		guard:      guard,
		handler:    NewHandler(processor, queueClient, messageStore, guard, opts.MaxRetries, opts.Host, logger),
		opts:       opts,
		logger:     logger,
		items:      make(chan *queue.ReceiveItem, opts.ChannelCapacity),
		ingestDone: make(chan struct{}),
	}
}

// Start launches the ingestion goroutine (recovery first, then the broker
// pump) and the worker pool. It returns immediately.
func (p *Pipeline) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		pumpCtx, cancelPump := context.WithCancel(ctx)
		p.cancelPump = cancelPump

		// Workers get their own context so they keep draining buffered
		// items after ingestion is cancelled; forceCancel fires only when
		// the drain timeout expires.
		workerCtx, forceCancel := context.WithCancel(context.Background())
		p.forceCancel = forceCancel

		p.logger.Info("Starting pipeline",
			slog.String("queue", p.opts.QueueName),
			slog.Int("channel_capacity", p.opts.ChannelCapacity),
			slog.Int("worker_count", p.opts.WorkerCount),
			slog.Int("max_retries", p.opts.MaxRetries),
		)

		go func() {
			defer close(p.ingestDone)
			defer close(p.items)
			p.ingest(pumpCtx)
		}()

		for i := 0; i < p.opts.WorkerCount; i++ {
			p.workersWG.Add(1)
			go p.workerLoop(workerCtx, i)
		}
	})
}

// Stop cancels ingestion, closes the work channel and waits for workers to
// drain it, giving up after the configured drain timeout. Items still in
// flight at that point are abandoned; the store recovers them on the next
// startup.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(func() {
		if p.cancelPump == nil {
			return
		}

		p.logger.Info("Stopping pipeline",
			slog.Duration("drain_timeout", p.opts.DrainTimeout),
		)

		p.cancelPump()
		<-p.ingestDone

		drained := make(chan struct{})
		go func() {
			p.workersWG.Wait()
			close(drained)
		}()

		select {
		case <-drained:
			p.logger.Info("Pipeline drained")
		case <-time.After(p.opts.DrainTimeout):
			p.logger.Warn("Pipeline drain timeout reached, abandoning in-flight items",
				slog.Duration("drain_timeout", p.opts.DrainTimeout),
			)
			p.forceCancel()
		}
	})
}

// workerLoop drains the work channel until it is closed and empty.
func (p *Pipeline) workerLoop(ctx context.Context, workerNum int) {
	defer p.workersWG.Done()

	workerName := fmt.Sprintf("worker-%d", workerNum)
	p.logger.Debug("Worker started",
		slog.String("worker", workerName),
	)

	for item := range p.items {
		p.logger.Debug("Worker handling message",
			slog.String("worker", workerName),
			slog.String("message_id", item.MessageID),
		)
		p.handleSafely(ctx, workerName, item)
	}

	p.logger.Debug("Worker stopping, work channel closed",
		slog.String("worker", workerName),
	)
}

// handleSafely keeps an unexpected panic in the handler path from silently
// killing the worker goroutine.
func (p *Pipeline) handleSafely(ctx context.Context, workerName string, item *queue.ReceiveItem) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Worker recovered from panic",
				slog.String("worker", workerName),
				slog.String("message_id", item.MessageID),
				slog.Any("panic", r),
			)
		}
	}()

	p.handler.Handle(ctx, item)
}
