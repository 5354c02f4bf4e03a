// Package sweeper runs the periodic reconciliation passes that keep the job
// store honest: reporting stalled PROCESSING jobs, re-dispatching QUEUED jobs
// whose callback scheduling was lost, and enforcing retention on terminal
// jobs.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

// Store is the repository surface the sweeper needs.
type Store interface {
	FindStalled(ctx context.Context, threshold time.Duration) ([]*domain.Job, error)
	FindUndispatched(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error)
	CleanupOlderThan(ctx context.Context, days int) (int64, error)
}

// Dispatcher schedules processing callbacks for re-dispatched jobs.
type Dispatcher interface {
	Schedule(ctx context.Context, jobID string, delay time.Duration) error
}

// Config holds sweeper policy and schedules.
type Config struct {
	Logger           *slog.Logger
	Store            Store
	Dispatcher       Dispatcher
	StalledThreshold time.Duration // how long PROCESSING may sit before it counts as stalled
	RedispatchAfter  time.Duration // how long QUEUED may sit before it is dispatched again
	RetentionDays    int           // terminal job age before cleanup
	SweepSchedule    string        // cron spec for the stalled/undispatched passes
	CleanupSchedule  string        // cron spec for the retention pass
	SweepTimeout     time.Duration // per-pass deadline
}

// Sweeper drives the reconciliation passes on a cron schedule.
type Sweeper struct {
	logger           *slog.Logger
	store            Store
	dispatcher       Dispatcher
	stalledThreshold time.Duration
	redispatchAfter  time.Duration
	retentionDays    int
	sweepSchedule    string
	cleanupSchedule  string
	sweepTimeout     time.Duration
	cron             *cron.Cron
}

// New creates a Sweeper with defaults filled in for unset policy values.
func New(cfg *Config) *Sweeper {
	s := &Sweeper{
		logger:           cfg.Logger,
		store:            cfg.Store,
		dispatcher:       cfg.Dispatcher,
		stalledThreshold: cfg.StalledThreshold,
		redispatchAfter:  cfg.RedispatchAfter,
		retentionDays:    cfg.RetentionDays,
		sweepSchedule:    cfg.SweepSchedule,
		cleanupSchedule:  cfg.CleanupSchedule,
		sweepTimeout:     cfg.SweepTimeout,
		cron:             cron.New(),
	}

	if s.stalledThreshold <= 0 {
		s.stalledThreshold = 30 * time.Minute
	}
	if s.redispatchAfter <= 0 {
		s.redispatchAfter = 5 * time.Minute
	}
	if s.retentionDays <= 0 {
		s.retentionDays = 30
	}
	if s.sweepSchedule == "" {
		s.sweepSchedule = "*/10 * * * *"
	}
	if s.cleanupSchedule == "" {
		s.cleanupSchedule = "0 3 * * *"
	}
	if s.sweepTimeout <= 0 {
		s.sweepTimeout = time.Minute
	}

	return s
}

// Start registers the cron entries and begins running them.
func (s *Sweeper) Start() error {
	_, err := s.cron.AddFunc(s.sweepSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.sweepTimeout)
		defer cancel()
		s.ReportStalled(ctx)
		s.RedispatchQueued(ctx)
	})
	if err != nil {
		return err
	}

	_, err = s.cron.AddFunc(s.cleanupSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.sweepTimeout)
		defer cancel()
		s.Cleanup(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()

	s.logger.Info("Sweeper started",
		slog.String("sweep_schedule", s.sweepSchedule),
		slog.String("cleanup_schedule", s.cleanupSchedule),
		slog.Duration("stalled_threshold", s.stalledThreshold),
		slog.Int("retention_days", s.retentionDays),
	)

	return nil
}

// Stop halts the schedule and waits for a running pass to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Sweeper stopped")
}

// ReportStalled logs jobs stuck in PROCESSING past the threshold. Stalled
// jobs are a reconciliation signal for operators; nothing is transitioned
// here because the execution outcome is unknown.
func (s *Sweeper) ReportStalled(ctx context.Context) {
	jobs, err := s.store.FindStalled(ctx, s.stalledThreshold)
	if err != nil {
		s.logger.Error("Stalled job scan failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, job := range jobs {
		s.logger.Warn("Stalled job detected",
			slog.String("job_id", job.JobID),
			slog.Int("attempts", job.Attempts),
			slog.Time("started_at", *job.StartedAt),
		)
	}

	if len(jobs) > 0 {
		s.logger.Warn("Stalled job scan finished",
			slog.Int("stalled_count", len(jobs)),
		)
	}
}

// RedispatchQueued schedules a callback again for QUEUED jobs that sat
// untouched longer than the redispatch threshold. This compensates for a
// dispatch that failed after the create committed. A duplicate delivery is
// harmless: processing is idempotent for finished jobs.
func (s *Sweeper) RedispatchQueued(ctx context.Context) {
	jobs, err := s.store.FindUndispatched(ctx, s.redispatchAfter)
	if err != nil {
		s.logger.Error("Undispatched job scan failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, job := range jobs {
		if err := s.dispatcher.Schedule(ctx, job.JobID, 0); err != nil {
			s.logger.Error("Failed to re-dispatch job",
				slog.String("job_id", job.JobID),
				slog.String("error", err.Error()),
			)
			continue
		}

		s.logger.Info("Job re-dispatched",
			slog.String("job_id", job.JobID),
			slog.Time("created_at", job.CreatedAt),
		)
	}
}

// Cleanup deletes terminal COMPLETED/FAILED jobs past retention age.
func (s *Sweeper) Cleanup(ctx context.Context) {
	deleted, err := s.store.CleanupOlderThan(ctx, s.retentionDays)
	if err != nil {
		s.logger.Error("Retention cleanup failed",
			slog.String("error", err.Error()),
		)
		return
	}

	if deleted > 0 {
		s.logger.Info("Retention cleanup finished",
			slog.Int64("deleted_count", deleted),
			slog.Int("retention_days", s.retentionDays),
		)
	}
}
