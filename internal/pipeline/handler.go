package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/example/report-queue/internal/dedup"
	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/store"
)

// Handler drives the per-message state machine: mark processing, invoke the
// processor, retry with backoff, then finalize as completed or route the
// message to the error queue.
type Handler struct {
	processor  Processor
	queue      queue.Client
	store      store.Store
	guard      *dedup.Guard
	maxRetries int
	host       string
	logger     *slog.Logger
}

// NewHandler creates a handler. maxRetries below 1 is treated as 1: every
// message gets at least one attempt.
func NewHandler(processor Processor, queueClient queue.Client, messageStore store.Store, guard *dedup.Guard, maxRetries int, host string, logger *slog.Logger) *Handler {
	if maxRetries < 1 {
		maxRetries = 1
	}

	return &Handler{
		processor:  processor,
		queue:      queueClient,
		store:      messageStore,
		guard:      guard,
		maxRetries: maxRetries,
		host:       host,
		logger:     logger,
	}
}

// Handle processes one work item to a terminal outcome. Every exit path
// either acknowledges the broker message or deliberately leaves its lock
// pending (cancellation mid-retry), in which case the persisted record gets
// the message recovered after restart.
func (h *Handler) Handle(ctx context.Context, item *queue.ReceiveItem) {
	var lastErr error

	for attempt := 1; attempt <= h.maxRetries; attempt++ {
		if err := h.store.MarkProcessing(ctx, item.MessageID); err != nil {
			// Store writes during an attempt are best-effort; the broker
			// ack decision follows the processor outcome alone.
			h.logger.Warn("Failed to mark message processing",
				slog.String("message_id", item.MessageID),
				slog.Any("error", err),
			)
		}

		envelope := queue.Envelope{
			MessageID:  item.MessageID,
			Payload:    item.Body,
			EnqueuedAt: item.EnqueuedAt,
			Headers:    item.Headers,
		}

		err := h.invoke(ctx, envelope)
		if err == nil {
			h.finalizeSuccess(ctx, item, attempt)
			return
		}

		lastErr = err
		if attempt >= h.maxRetries {
			break
		}

		h.logger.Warn("Processing attempt failed, backing off",
			slog.String("message_id", item.MessageID),
			slog.Int("attempt", attempt),
			slog.Int("max_retries", h.maxRetries),
			slog.Any("error", err),
		)

		if !sleep(ctx, backoffDelay(attempt)) {
			// Shutdown mid-retry: leave the broker lock pending so the
			// message is redelivered or recovered from the store.
			h.logger.Info("Processing interrupted by shutdown",
				slog.String("message_id", item.MessageID),
			)
			return
		}
	}

	h.moveToError(ctx, item, lastErr)
}

// invoke runs one processor attempt, converting a panic into a processing
// failure so a misbehaving processor cannot kill the worker.
func (h *Handler) invoke(ctx context.Context, envelope queue.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processor panic: %v", r)
		}
	}()

	return h.processor.Process(ctx, envelope)
}

func (h *Handler) finalizeSuccess(ctx context.Context, item *queue.ReceiveItem, attempts int) {
	if item.Ack != nil {
		if err := h.queue.Complete(ctx, item); err != nil {
			h.logger.Error("Failed to acknowledge message",
				slog.String("message_id", item.MessageID),
				slog.Any("error", err),
			)
		}
	}

	if err := h.store.MarkCompleted(ctx, item.MessageID); err != nil {
		h.logger.Error("Failed to mark message completed",
			slog.String("message_id", item.MessageID),
			slog.Any("error", err),
		)
	}

	h.guard.Complete(item.MessageID)

	h.logger.Info("Message processed",
		slog.String("message_id", item.MessageID),
		slog.Int("attempts", attempts),
	)
}

// moveToError builds the error envelope, routes it to the error queue and
// records the terminal MovedToError state.
func (h *Handler) moveToError(ctx context.Context, item *queue.ReceiveItem, lastErr error) {
	envelope := queue.ErrorEnvelope{
		OriginalMessageID: item.MessageID,
		OriginalPayload:   item.Body,
		FailedAt:          time.Now().UTC(),
		ErrorKind:         failureKind(lastErr),
		ErrorMessage:      lastErr.Error(),
		OriginalHeaders:   queue.CopyHeaders(item.Headers),
		Host:              h.host,
	}

	if err := h.queue.EnqueueError(ctx, envelope); err != nil {
		// Without the error envelope on the broker the original lock must
		// stay pending; redelivery retries the whole cycle.
		h.logger.Error("Failed to enqueue error envelope",
			slog.String("message_id", item.MessageID),
			slog.Any("error", err),
		)
		return
	}

	if item.Ack != nil {
		if err := h.queue.Complete(ctx, item); err != nil {
			h.logger.Error("Failed to acknowledge message after error routing",
				slog.String("message_id", item.MessageID),
				slog.Any("error", err),
			)
		}
	}

	if err := h.store.MarkMovedToError(ctx, item.MessageID, lastErr.Error()); err != nil {
		h.logger.Error("Failed to mark message moved to error",
			slog.String("message_id", item.MessageID),
			slog.Any("error", err),
		)
	}

	h.guard.Complete(item.MessageID)

	h.logger.Warn("Message moved to error queue",
		slog.String("message_id", item.MessageID),
		slog.Int("attempts", h.maxRetries),
		slog.String("error", lastErr.Error()),
	)
}

// backoffDelay returns the retry delay after the given failed attempt:
// 100ms, 300ms, then 900ms, each with up to 50ms of jitter so synchronized
// failures do not retry in lockstep.
func backoffDelay(attempt int) time.Duration {
	var base time.Duration
	switch {
	case attempt <= 1:
		base = 100 * time.Millisecond
	case attempt == 2:
		base = 300 * time.Millisecond
	default:
		base = 900 * time.Millisecond
	}

	return base + time.Duration(rand.Intn(50))*time.Millisecond
}

// failureKind names the innermost error type for the error envelope.
func failureKind(err error) string {
	root := err
	for {
		unwrapped := errors.Unwrap(root)
		if unwrapped == nil {
			break
		}
		root = unwrapped
	}
	return fmt.Sprintf("%T", root)
}

// sleep waits for d, returning false when the context is cancelled first.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
