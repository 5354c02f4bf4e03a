// Package dispatch adapts the external task scheduler: scheduling a callback
// for a job id means publishing its id to the work queue, from which the
// worker service delivers it at least once to the processing entry point.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Publisher is the broker surface the adapter needs. Implemented by
// rabbitmq.Client.
type Publisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
	PublishDelayed(ctx context.Context, body []byte, contentType string, delay time.Duration) error
}

// Message is the wire shape of a scheduled callback.
type Message struct {
	JobID string `json:"job_id"`
}

// Dispatcher schedules processing callbacks through the message broker.
type Dispatcher struct {
	publisher Publisher
	logger    *slog.Logger
}

// New creates a Dispatcher.
func New(publisher Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		logger:    logger,
	}
}

// Schedule asks the broker to deliver a processing callback for jobID,
// approximately after delay when one is given. No ordering or single-delivery
// guarantee exists; the processing entry point compensates with its
// idempotency guard.
func (d *Dispatcher) Schedule(ctx context.Context, jobID string, delay time.Duration) error {
	body, err := json.Marshal(Message{JobID: jobID})
	if err != nil {
		return fmt.Errorf("failed to encode dispatch message: %w", err)
	}

	if delay > 0 {
		err = d.publisher.PublishDelayed(ctx, body, "application/json", delay)
	} else {
		err = d.publisher.PublishWithRetry(ctx, body, "application/json")
	}
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", jobID, err)
	}

	d.logger.Debug("Job dispatched",
		slog.String("job_id", jobID),
		slog.Duration("delay", delay),
	)

	return nil
}
