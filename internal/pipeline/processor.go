package pipeline

import (
	"context"

	"github.com/example/report-queue/internal/queue"
)

// Processor is the pluggable business logic invoked once per processing
// attempt. A returned error marks the attempt failed and drives the retry /
// error-routing decision; the pipeline never lets it propagate further.
type Processor interface {
	Process(ctx context.Context, envelope queue.Envelope) error
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(ctx context.Context, envelope queue.Envelope) error

func (f ProcessorFunc) Process(ctx context.Context, envelope queue.Envelope) error {
	return f(ctx, envelope)
}
