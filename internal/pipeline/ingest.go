package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/report-queue/internal/queue"
	"github.com/example/report-queue/internal/store"
)

// ingest runs the startup recovery pass and then pumps the broker's main
// queue until cancelled.
func (p *Pipeline) ingest(ctx context.Context) {
	if err := p.recoverUnfinished(ctx); err != nil {
		p.logger.Error("Recovery pass failed",
			slog.Any("error", err),
		)
	}

	p.pump(ctx)
}

// recoverUnfinished replays unfinished records from the store into the work
// channel. Records whose dedup claim is already held are skipped: a live
// receive or a concurrent recovery owns them.
func (p *Pipeline) recoverUnfinished(ctx context.Context) error {
	records, err := p.store.LoadUnfinished(ctx)
	if err != nil {
		return err
	}

	recovered := 0
	for i := range records {
		record := records[i]
		if !p.guard.TryStart(record.ID, p.opts.ClaimTTL) {
			continue
		}

		item := &queue.ReceiveItem{
			MessageID:  record.ID,
			Body:       record.Payload,
			Headers:    queue.CopyHeaders(record.Headers),
			EnqueuedAt: record.EnqueuedAt,
			Ack:        nil,
			QueueName:  record.QueueName,
		}

		select {
		case p.items <- item:
			recovered++
		case <-ctx.Done():
			p.guard.Complete(record.ID)
			return ctx.Err()
		}
	}

	if recovered > 0 {
		p.logger.Info("Recovered unfinished messages",
			slog.Int("count", recovered),
		)
	}
	return nil
}

// pump is the live ingestion loop: receive, dedup, persist intent, push.
func (p *Pipeline) pump(ctx context.Context) {
	for ctx.Err() == nil {
		item, err := p.queue.ReceiveMain(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("Failed to receive from main queue",
				slog.Any("error", err),
			)
			p.waitReceive(ctx)
			continue
		}

		if item == nil {
			// Empty queue; the bounded wait lets cancellation through.
			p.waitReceive(ctx)
			continue
		}

		p.accept(ctx, item)
	}
}

// accept runs the ingest steps for one received message.
func (p *Pipeline) accept(ctx context.Context, item *queue.ReceiveItem) {
	exists, err := p.store.ExistsUnfinished(ctx, item.MessageID)
	if err != nil {
		p.logger.Warn("Unfinished-check failed, treating message as new",
			slog.String("message_id", item.MessageID),
			slog.Any("error", err),
		)
	}
	if err == nil && exists {
		// At-least-once redelivery of a message already in flight.
		p.complete(ctx, item)
		return
	}

	record := store.NewPending(item.MessageID, p.opts.QueueName, item.Body, queue.CopyHeaders(item.Headers), item.EnqueuedAt, p.opts.Retention)
	if err := p.store.Upsert(ctx, record); err != nil {
		// Persistence state is unknown, so release the broker lock and let
		// redelivery retry the whole ingest.
		p.logger.Error("Persistence upsert failed, abandoning message lock",
			slog.String("message_id", item.MessageID),
			slog.Any("error", err),
		)
		if abandonErr := p.queue.Abandon(ctx, item); abandonErr != nil {
			p.logger.Error("Failed to abandon message lock",
				slog.String("message_id", item.MessageID),
				slog.Any("error", abandonErr),
			)
		}
		return
	}

	if !p.guard.TryStart(item.MessageID, p.opts.ClaimTTL) {
		// Another path already owns this id; the broker copy is redundant.
		p.complete(ctx, item)
		return
	}

	select {
	case p.items <- item:
	case <-ctx.Done():
		// Shutdown while blocked on a full channel: release both the claim
		// and the broker lock so the message is redelivered.
		p.guard.Complete(item.MessageID)
		if err := p.queue.Abandon(ctx, item); err != nil {
			p.logger.Error("Failed to abandon message lock on shutdown",
				slog.String("message_id", item.MessageID),
				slog.Any("error", err),
			)
		}
	}
}

func (p *Pipeline) complete(ctx context.Context, item *queue.ReceiveItem) {
	if err := p.queue.Complete(ctx, item); err != nil {
		p.logger.Error("Failed to acknowledge duplicate message",
			slog.String("message_id", item.MessageID),
			slog.Any("error", err),
		)
	}
}

func (p *Pipeline) waitReceive(ctx context.Context) {
	timer := time.NewTimer(p.opts.ReceiveWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
