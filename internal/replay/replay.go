// Package replay moves messages from the error queue back into the main
// flow, either one by id or all at once.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/store"
)

// Service scans the broker's error queue and re-enqueues originals onto the
// main queue with a fresh Pending store record.
type Service struct {
	queue     queue.Client
	store     store.Store
	queueName string
	scanLimit int
	retention time.Duration
	logger    *slog.Logger
}

// NewService creates a replay service. scanLimit bounds how many error-queue
// messages MoveByID inspects before giving up; below 1 it is treated as 1.
func NewService(queueClient queue.Client, messageStore store.Store, queueName string, scanLimit int, retention time.Duration, logger *slog.Logger) *Service {
	if scanLimit < 1 {
		scanLimit = 1
	}

	return &Service{
		queue:     queueClient,
		store:     messageStore,
		queueName: queueName,
		scanLimit: scanLimit,
		retention: retention,
		logger:    logger,
	}
}

// MoveByID scans the error queue for the message whose original id matches
// messageID and moves it back to the main queue. Non-matching messages are
// released without acknowledgment; since broker ordering is not strict FIFO
// they may resurface within the same scan, which the scan limit bounds.
// Returns false when the id was not found within the limit.
func (s *Service) MoveByID(ctx context.Context, messageID string) (bool, error) {
	for scanned := 0; scanned < s.scanLimit; scanned++ {
		received, err := s.queue.ReceiveError(ctx)
		if err != nil {
			return false, fmt.Errorf("failed to receive from error queue: %w", err)
		}
		if received == nil {
			return false, nil
		}

		errorEnvelope, parsed := queue.ParseErrorEnvelope(received.Body)

		matches := strings.EqualFold(received.MessageID, messageID)
		if !matches && parsed {
			matches = strings.EqualFold(errorEnvelope.OriginalMessageID, messageID)
		}

		if !matches {
			if err := s.queue.Abandon(ctx, received); err != nil {
				return false, fmt.Errorf("failed to release non-matching message: %w", err)
			}
			continue
		}

		if err := s.move(ctx, received, errorEnvelope); err != nil {
			return false, err
		}

		s.logger.Info("Moved error message back to main queue",
			slog.String("message_id", messageID),
		)
		return true, nil
	}

	s.logger.Info("Message not found in error queue within scan limit",
		slog.String("message_id", messageID),
		slog.Int("scan_limit", s.scanLimit),
	)
	return false, nil
}

// MoveAll drains the entire error queue back into the main queue and returns
// how many messages were moved.
func (s *Service) MoveAll(ctx context.Context) (int, error) {
	moved := 0

	for {
		received, err := s.queue.ReceiveError(ctx)
		if err != nil {
			return moved, fmt.Errorf("failed to receive from error queue: %w", err)
		}
		if received == nil {
			break
		}

		errorEnvelope, _ := queue.ParseErrorEnvelope(received.Body)
		if err := s.move(ctx, received, errorEnvelope); err != nil {
			return moved, err
		}
		moved++
	}

	s.logger.Info("Moved all error messages back to main queue",
		slog.Int("moved", moved),
	)
	return moved, nil
}

// move re-enqueues the original message, acknowledges the error-queue copy
// and records fresh Pending intent in the store.
func (s *Service) move(ctx context.Context, received *queue.ReceiveItem, errorEnvelope *queue.ErrorEnvelope) error {
	envelope := toMainEnvelope(received, errorEnvelope)

	if err := s.queue.EnqueueMain(ctx, envelope); err != nil {
		return fmt.Errorf("failed to re-enqueue message %s: %w", envelope.MessageID, err)
	}

	if err := s.queue.Complete(ctx, received); err != nil {
		return fmt.Errorf("failed to acknowledge error message %s: %w", received.MessageID, err)
	}

	record := store.NewPending(envelope.MessageID, s.queueName, envelope.Payload, queue.CopyHeaders(envelope.Headers), envelope.EnqueuedAt, s.retention)
	if err := s.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("failed to upsert replayed message %s: %w", envelope.MessageID, err)
	}

	return nil
}

// toMainEnvelope rebuilds the original message from its error envelope. A
// message that never parsed as an error envelope is replayed as-is, using the
// raw item's own id.
func toMainEnvelope(received *queue.ReceiveItem, errorEnvelope *queue.ErrorEnvelope) queue.Envelope {
	if errorEnvelope == nil {
		return queue.Envelope{
			MessageID:  received.MessageID,
			Payload:    received.Body,
			EnqueuedAt: time.Now().UTC(),
			Headers:    queue.CopyHeaders(received.Headers),
		}
	}

	return queue.Envelope{
		MessageID:  errorEnvelope.OriginalMessageID,
		Payload:    errorEnvelope.OriginalPayload,
		EnqueuedAt: time.Now().UTC(),
		Headers:    queue.CopyHeaders(errorEnvelope.OriginalHeaders),
	}
}
