package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/report-queue/shared/rabbitmq"
)

// RabbitClient realizes the broker port on RabbitMQ. Receives use basic.get
// with manual acknowledgment, so an unacked delivery behaves as a peek-lock:
// Complete acks it, Abandon nacks it back onto the queue.
//
// RabbitMQ has no native non-destructive peek; Peek* is approximated by
// locking up to max messages and releasing them all, which may reorder the
// queue. The inspection surface tolerates that.
type RabbitClient struct {
	client      *rabbitmq.Client
	mainQueue   string
	errorQueue  string
	receiveWait time.Duration
	logger      *slog.Logger
}

// NewRabbitClient wraps a connected RabbitMQ client for the pipeline's two
// queues. receiveWait bounds how long an empty Receive* call blocks before
// reporting no message.
func NewRabbitClient(client *rabbitmq.Client, mainQueue, errorQueue string, receiveWait time.Duration, logger *slog.Logger) *RabbitClient {
	return &RabbitClient{
		client:      client,
		mainQueue:   mainQueue,
		errorQueue:  errorQueue,
		receiveWait: receiveWait,
		logger:      logger,
	}
}

func (c *RabbitClient) EnqueueMain(ctx context.Context, envelope Envelope) error {
	return c.client.Publish(ctx, c.mainQueue, envelope.MessageID, []byte(envelope.Payload), toTable(envelope.Headers))
}

func (c *RabbitClient) EnqueueError(ctx context.Context, envelope ErrorEnvelope) error {
	payload, err := MarshalErrorEnvelope(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal error envelope: %w", err)
	}

	headers := amqp.Table{"ErrorEnvelope": "true"}
	return c.client.Publish(ctx, c.errorQueue, envelope.OriginalMessageID, []byte(payload), headers)
}

func (c *RabbitClient) PeekMain(ctx context.Context, max int) ([]PeekItem, error) {
	return c.peek(ctx, c.mainQueue, max)
}

func (c *RabbitClient) PeekError(ctx context.Context, max int) ([]PeekItem, error) {
	return c.peek(ctx, c.errorQueue, max)
}

func (c *RabbitClient) ReceiveMain(ctx context.Context) (*ReceiveItem, error) {
	return c.receive(ctx, c.mainQueue)
}

func (c *RabbitClient) ReceiveError(ctx context.Context) (*ReceiveItem, error) {
	return c.receive(ctx, c.errorQueue)
}

func (c *RabbitClient) Complete(_ context.Context, item *ReceiveItem) error {
	delivery, ok := item.Ack.(amqp.Delivery)
	if !ok {
		return nil
	}

	if err := delivery.Ack(false); err != nil {
		return fmt.Errorf("failed to ack message %s: %w", item.MessageID, err)
	}
	return nil
}

func (c *RabbitClient) Abandon(_ context.Context, item *ReceiveItem) error {
	delivery, ok := item.Ack.(amqp.Delivery)
	if !ok {
		return nil
	}

	if err := delivery.Nack(false, true); err != nil {
		return fmt.Errorf("failed to nack message %s: %w", item.MessageID, err)
	}
	return nil
}

// receive polls basic.get until a message arrives or the bounded wait
// elapses, whichever comes first.
func (c *RabbitClient) receive(ctx context.Context, queueName string) (*ReceiveItem, error) {
	deadline := time.Now().Add(c.receiveWait)

	for {
		delivery, ok, err := c.client.Get(queueName)
		if err != nil {
			return nil, err
		}

		if ok {
			return c.mapDelivery(delivery, queueName), nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func (c *RabbitClient) peek(ctx context.Context, queueName string, max int) ([]PeekItem, error) {
	var (
		items    []PeekItem
		locked   []amqp.Delivery
		firstErr error
	)

	for len(items) < max && ctx.Err() == nil {
		delivery, ok, err := c.client.Get(queueName)
		if err != nil {
			firstErr = err
			break
		}
		if !ok {
			break
		}

		locked = append(locked, delivery)
		items = append(items, PeekItem{
			MessageID:  delivery.MessageId,
			EnqueuedAt: delivery.Timestamp,
			Headers:    fromTable(delivery.Headers),
			Payload:    string(delivery.Body),
		})
	}

	for _, delivery := range locked {
		if err := delivery.Nack(false, true); err != nil {
			c.logger.Error("Failed to release peeked message",
				slog.String("queue", queueName),
				slog.String("message_id", delivery.MessageId),
				slog.Any("error", err),
			)
		}
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return items, nil
}

func (c *RabbitClient) mapDelivery(delivery amqp.Delivery, queueName string) *ReceiveItem {
	return &ReceiveItem{
		MessageID:  delivery.MessageId,
		Body:       string(delivery.Body),
		Headers:    fromTable(delivery.Headers),
		EnqueuedAt: delivery.Timestamp,
		Ack:        delivery,
		QueueName:  queueName,
	}
}

func toTable(headers map[string]string) amqp.Table {
	table := make(amqp.Table, len(headers))
	for k, v := range headers {
		table[k] = v
	}
	return table
}

func fromTable(table amqp.Table) map[string]string {
	headers := make(map[string]string, len(table))
	for k, v := range table {
		if s, ok := v.(string); ok {
			headers[k] = s
		}
	}
	return headers
}
