package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryMessage struct {
	token      string
	messageID  string
	payload    string
	headers    map[string]string
	enqueuedAt time.Time
	queueName  string
}

// MemoryClient is a fully in-process broker that reproduces peek-lock
// semantics: a receive takes an exclusive lock tracked by token, Complete
// deletes the message, and Abandon returns it to the tail of its origin
// queue. Used for tests and local development.
type MemoryClient struct {
	mu        sync.Mutex
	mainQueue []memoryMessage
	errQueue  []memoryMessage
	inflight  map[string]memoryMessage
	mainName  string
	errName   string
}

// NewMemoryClient creates an empty in-process broker for the given queue names.
func NewMemoryClient(mainName, errorName string) *MemoryClient {
	return &MemoryClient{
		inflight: make(map[string]memoryMessage),
		mainName: mainName,
		errName:  errorName,
	}
}

func (c *MemoryClient) EnqueueMain(_ context.Context, envelope Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.mainQueue = append(c.mainQueue, memoryMessage{
		token:      uuid.NewString(),
		messageID:  envelope.MessageID,
		payload:    envelope.Payload,
		headers:    CopyHeaders(envelope.Headers),
		enqueuedAt: envelope.EnqueuedAt,
		queueName:  c.mainName,
	})
	return nil
}

func (c *MemoryClient) EnqueueError(_ context.Context, envelope ErrorEnvelope) error {
	payload, err := MarshalErrorEnvelope(envelope)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.errQueue = append(c.errQueue, memoryMessage{
		token:      uuid.NewString(),
		messageID:  envelope.OriginalMessageID,
		payload:    payload,
		headers:    map[string]string{"ErrorEnvelope": "true"},
		enqueuedAt: envelope.FailedAt,
		queueName:  c.errName,
	})
	return nil
}

func (c *MemoryClient) PeekMain(_ context.Context, max int) ([]PeekItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return peek(c.mainQueue, max), nil
}

func (c *MemoryClient) PeekError(_ context.Context, max int) ([]PeekItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return peek(c.errQueue, max), nil
}

func (c *MemoryClient) ReceiveMain(_ context.Context) (*ReceiveItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive(&c.mainQueue), nil
}

func (c *MemoryClient) ReceiveError(_ context.Context) (*ReceiveItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.receive(&c.errQueue), nil
}

func (c *MemoryClient) Complete(_ context.Context, item *ReceiveItem) error {
	token, ok := item.Ack.(string)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.inflight, token)
	return nil
}

func (c *MemoryClient) Abandon(_ context.Context, item *ReceiveItem) error {
	token, ok := item.Ack.(string)
	if !ok {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	msg, held := c.inflight[token]
	if !held {
		return nil
	}
	delete(c.inflight, token)

	if msg.queueName == c.errName {
		c.errQueue = append(c.errQueue, msg)
	} else {
		c.mainQueue = append(c.mainQueue, msg)
	}
	return nil
}

// InflightCount reports how many messages are locked but unresolved.
func (c *MemoryClient) InflightCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

func (c *MemoryClient) receive(q *[]memoryMessage) *ReceiveItem {
	if len(*q) == 0 {
		return nil
	}

	msg := (*q)[0]
	*q = (*q)[1:]
	c.inflight[msg.token] = msg

	return &ReceiveItem{
		MessageID:  msg.messageID,
		Body:       msg.payload,
		Headers:    CopyHeaders(msg.headers),
		EnqueuedAt: msg.enqueuedAt,
		Ack:        msg.token,
		QueueName:  msg.queueName,
	}
}

func peek(q []memoryMessage, max int) []PeekItem {
	if max > len(q) {
		max = len(q)
	}

	items := make([]PeekItem, 0, max)
	for _, msg := range q[:max] {
		items = append(items, PeekItem{
			MessageID:  msg.messageID,
			EnqueuedAt: msg.enqueuedAt,
			Headers:    CopyHeaders(msg.headers),
			Payload:    msg.payload,
		})
	}
	return items
}
