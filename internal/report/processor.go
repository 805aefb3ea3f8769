package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/report-queue/internal/queue"
)

// ErrInvalidExecution is returned when a payload is missing required fields.
// It is a processing failure like any other: the pipeline retries it and
// eventually routes the message to the error queue.
var ErrInvalidExecution = errors.New("report execution requires reportId and user")

// Runner is the default report processor. The actual report engine is out of
// scope; Runner validates the request and simulates the execution delay.
type Runner struct {
	delay  time.Duration
	logger *slog.Logger
}

// NewRunner creates a runner that simulates executions taking delay.
func NewRunner(delay time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		delay:  delay,
		logger: logger,
	}
}

// Process implements pipeline.Processor.
func (r *Runner) Process(ctx context.Context, envelope queue.Envelope) error {
	var model ExecutionModel
	if err := json.Unmarshal([]byte(envelope.Payload), &model); err != nil {
		return fmt.Errorf("failed to parse report execution payload: %w", err)
	}

	if !model.Valid() {
		return ErrInvalidExecution
	}

	if r.delay > 0 {
		timer := time.NewTimer(r.delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return fmt.Errorf("report execution cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}

	r.logger.Info("Report executed",
		slog.String("message_id", envelope.MessageID),
		slog.String("report_id", model.ReportID),
		slog.String("user", model.User),
		slog.Int("parameters", len(model.Parameters)),
	)
	return nil
}
