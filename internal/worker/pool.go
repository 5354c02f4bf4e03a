package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

// spawnWorkerPool spawns N processing goroutines based on the concurrency
// configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, i)
	}
}

// workerLoop is the main processing loop for each pool goroutine
func (w *Worker) workerLoop(ctx context.Context, workerNum int) {
	defer w.wg.Done()

	workerName := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	w.logger.Info("Worker goroutine started",
		slog.String("worker_name", workerName),
	)

	for {
		select {
		case <-w.stopChan:
			w.logger.Info("Worker goroutine stopping - stopChan closed",
				slog.String("worker_name", workerName),
			)
			return

		case <-ctx.Done():
			w.logger.Info("Worker goroutine stopping - context canceled",
				slog.String("worker_name", workerName),
			)
			return

		case msg, ok := <-w.jobsChan:
			if !ok {
				w.logger.Info("Worker goroutine stopping - jobsChan closed",
					slog.String("worker_name", workerName),
				)
				return
			}

			w.handleMessage(ctx, msg, workerName)
		}
	}
}

// handleMessage runs one delivery through the lifecycle service and settles
// the broker message according to the outcome.
func (w *Worker) handleMessage(ctx context.Context, msg *jobMessage, workerName string) {
	w.logger.Info("Processing job",
		slog.String("job_id", msg.jobID),
		slog.String("worker_name", workerName),
	)

	job, err := w.lifecycle.Process(ctx, msg.jobID)

	switch {
	case err == nil:
		w.logger.Info("Job delivery finished",
			slog.String("job_id", msg.jobID),
			slog.String("status", job.Status),
		)
		w.ack(msg)

	case errors.Is(err, domain.ErrJobNotFound):
		// The job was deleted; redelivery cannot help.
		w.logger.Warn("Job not found, dropping delivery",
			slog.String("job_id", msg.jobID),
		)
		w.nack(msg, false)

	case isRetryable(err):
		// Transient contention or infrastructure failure; let the broker
		// redeliver. The idempotency guard keeps repeats harmless.
		w.logger.Warn("Job delivery will be retried",
			slog.String("job_id", msg.jobID),
			slog.String("error", err.Error()),
		)
		w.nack(msg, true)

	default:
		var procErr *domain.ProcessingError
		if errors.As(err, &procErr) {
			// The failure is recorded on the job, which is now terminal. A
			// redelivery would only hit the idempotency guard.
			w.logger.Error("Job execution failed",
				slog.String("job_id", msg.jobID),
				slog.String("error", err.Error()),
			)
			w.nack(msg, false)
			return
		}

		// Unclassified storage or service error; treat as transient.
		w.logger.Error("Job delivery failed",
			slog.String("job_id", msg.jobID),
			slog.String("error", err.Error()),
		)
		w.nack(msg, true)
	}
}

func isRetryable(err error) bool {
	var retryable *domain.RetryableError
	return errors.As(err, &retryable)
}

func (w *Worker) ack(msg *jobMessage) {
	if err := msg.delivery.Ack(false); err != nil {
		w.logger.Error("Failed to ACK message",
			slog.String("job_id", msg.jobID),
			slog.String("error", err.Error()),
		)
	}
}

func (w *Worker) nack(msg *jobMessage, requeue bool) {
	if err := msg.delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.String("job_id", msg.jobID),
			slog.String("error", err.Error()),
		)
	}
}
