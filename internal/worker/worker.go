// Package worker consumes dispatched job callbacks from the message broker
// and funnels them through the lifecycle service's processing entry point.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
	"github.com/jobflow-dev/jobflow-be/shared/rabbitmq"
)

// Lifecycle is the processing entry point the worker delivers callbacks to.
type Lifecycle interface {
	Process(ctx context.Context, jobID string) (*domain.Job, error)
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Lifecycle     Lifecycle
	RabbitClient  *rabbitmq.Client
	Concurrency   int
	PrefetchCount int
}

// Worker runs the consumer and a bounded pool of processing goroutines.
type Worker struct {
	logger        *slog.Logger
	lifecycle     Lifecycle
	rabbitClient  *rabbitmq.Client
	concurrency   int
	prefetchCount int
	workerID      string
	jobsChan      chan *jobMessage
	wg            sync.WaitGroup
	stopChan      chan struct{}
}

// jobMessage pairs a parsed job id with its broker delivery so the pool can
// ack or nack after processing.
type jobMessage struct {
	jobID    string
	delivery amqp.Delivery
}

// New creates a worker instance
func New(cfg *Config) *Worker {
	return &Worker{
		logger:        cfg.Logger,
		lifecycle:     cfg.Lifecycle,
		rabbitClient:  cfg.RabbitClient,
		concurrency:   cfg.Concurrency,
		prefetchCount: cfg.PrefetchCount,
		workerID:      "worker-" + uuid.New().String(),
		jobsChan:      make(chan *jobMessage),
		stopChan:      make(chan struct{}),
	}
}

// Start begins consuming and processing until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	w.spawnWorkerPool(ctx)
	go w.startMessageDispatcher(ctx, deliveries)

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	close(w.stopChan)
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
