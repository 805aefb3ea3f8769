// Package queue defines the broker port used by the report pipeline: two
// logical queues (main and error) with peek-lock receive semantics.
package queue

import (
	"context"
	"encoding/json"
	"time"
)

// Envelope is a message bound for the main queue.
type Envelope struct {
	MessageID  string            `json:"messageId"`
	Payload    string            `json:"payload"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	Headers    map[string]string `json:"headers"`
}

// ErrorEnvelope wraps a permanently-failed message on the error queue. It
// carries everything needed to replay the original message later.
type ErrorEnvelope struct {
	OriginalMessageID string            `json:"originalMessageId"`
	OriginalPayload   string            `json:"originalPayload"`
	FailedAt          time.Time         `json:"failedAt"`
	ErrorKind         string            `json:"errorKind"`
	ErrorMessage      string            `json:"errorMessage"`
	OriginalHeaders   map[string]string `json:"originalHeaders"`
	Host              string            `json:"host"`
}

// PeekItem is a non-destructive preview of a queued message.
type PeekItem struct {
	MessageID  string
	EnqueuedAt time.Time
	Headers    map[string]string
	Payload    string
}

// ReceiveItem is a message received under a peek-lock. Ack is the
// broker-native acknowledgment handle; it is opaque to callers and must only
// be passed back to Complete or Abandon. Items rebuilt from the persistence
// store during recovery carry a nil Ack.
type ReceiveItem struct {
	MessageID  string
	Body       string
	Headers    map[string]string
	EnqueuedAt time.Time
	Ack        any
	QueueName  string
}

// Client is the broker port. Receive calls use a bounded wait and return
// (nil, nil) when no message arrived in time, so callers can observe
// cancellation between polls.
type Client interface {
	EnqueueMain(ctx context.Context, envelope Envelope) error
	EnqueueError(ctx context.Context, envelope ErrorEnvelope) error
	PeekMain(ctx context.Context, max int) ([]PeekItem, error)
	PeekError(ctx context.Context, max int) ([]PeekItem, error)
	ReceiveMain(ctx context.Context) (*ReceiveItem, error)
	ReceiveError(ctx context.Context) (*ReceiveItem, error)
	Complete(ctx context.Context, item *ReceiveItem) error
	Abandon(ctx context.Context, item *ReceiveItem) error
}

// ParseErrorEnvelope attempts to decode an error-queue payload. Replay and
// inspection treat a parse failure as "the raw item is its own original", so
// this returns ok=false instead of an error.
func ParseErrorEnvelope(payload string) (*ErrorEnvelope, bool) {
	var envelope ErrorEnvelope
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil {
		return nil, false
	}
	if envelope.OriginalMessageID == "" {
		return nil, false
	}
	return &envelope, true
}

// MarshalErrorEnvelope encodes an error envelope for the wire.
func MarshalErrorEnvelope(envelope ErrorEnvelope) (string, error) {
	data, err := json.Marshal(envelope)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// CopyHeaders returns an independent copy of headers, never nil.
func CopyHeaders(headers map[string]string) map[string]string {
	copied := make(map[string]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return copied
}
