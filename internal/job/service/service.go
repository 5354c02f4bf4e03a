// Package service orchestrates the job lifecycle: creation plus dispatch,
// ownership-scoped reads and mutations, and the idempotent processing entry
// point invoked by the dispatcher's at-least-once callbacks.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

// Store is the persistence contract the service needs. Implemented by
// repository.Repository; swapped for a fake in tests.
type Store interface {
	Create(ctx context.Context, userID string, fields domain.NewJobFields) (*domain.Job, error)
	GetByID(ctx context.Context, jobID string) (*domain.Job, error)
	GetForOwner(ctx context.Context, jobID, userID string) (*domain.Job, error)
	ListForOwner(ctx context.Context, userID string, filter domain.ListFilter) ([]*domain.Job, error)
	TransitionStatus(ctx context.Context, jobID, status string, result map[string]any, errMsg string) (*domain.Job, error)
	IncrementAttempts(ctx context.Context, jobID string) (*domain.Job, error)
	UpdateForOwner(ctx context.Context, jobID, userID string, patch domain.JobPatch) (*domain.Job, error)
	DeleteForOwner(ctx context.Context, jobID, userID string) (bool, error)
	StatsByStatus(ctx context.Context, userID string) (map[string]int, error)
}

// Dispatcher schedules a future processing callback for a job id. Delivery
// is at least once, eventually, approximately after delay.
type Dispatcher interface {
	Schedule(ctx context.Context, jobID string, delay time.Duration) error
}

// Processor executes a job's domain-specific work and returns its result.
type Processor interface {
	Process(ctx context.Context, job *domain.Job) (map[string]any, error)
}

// Release frees an exclusive processing claim.
type Release func(ctx context.Context) error

// Locker hands out short-lived exclusive claims keyed by job id, for
// processing logic with external non-idempotent side effects. Optional: when
// nil, only the idempotency guard protects against duplicate execution.
type Locker interface {
	TryAcquire(ctx context.Context, jobID string) (Release, bool, error)
}

// Pagination bounds for job listings
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Config holds the service dependencies and processing policy.
type Config struct {
	Logger         *slog.Logger
	Store          Store
	Dispatcher     Dispatcher
	Processor      Processor
	Locker         Locker
	ProcessTimeout time.Duration
}

// Service implements the job lifecycle operations consumed by the HTTP layer
// and the worker. It keeps no mutable state across calls; everything mutable
// lives in the store.
type Service struct {
	logger         *slog.Logger
	store          Store
	dispatcher     Dispatcher
	processor      Processor
	locker         Locker
	processTimeout time.Duration
}

// New creates a Service.
func New(cfg *Config) *Service {
	return &Service{
		logger:         cfg.Logger,
		store:          cfg.Store,
		dispatcher:     cfg.Dispatcher,
		processor:      cfg.Processor,
		locker:         cfg.Locker,
		processTimeout: cfg.ProcessTimeout,
	}
}

// Create validates the request, persists a QUEUED job and schedules its
// processing callback. When scheduling fails the job stays persisted and
// QUEUED: the store write already committed and a compensating delete would
// race with delivery, so the sweeper re-dispatches it instead. The persisted
// job is returned alongside the dispatch error in that case.
func (s *Service) Create(ctx context.Context, userID string, fields domain.NewJobFields) (*domain.Job, error) {
	if err := validateNewJob(fields); err != nil {
		return nil, err
	}

	job, err := s.store.Create(ctx, userID, fields)
	if err != nil {
		return nil, err
	}

	if err := s.dispatcher.Schedule(ctx, job.JobID, 0); err != nil {
		s.logger.Error("Failed to schedule job processing",
			slog.String("job_id", job.JobID),
			slog.String("error", err.Error()),
		)
		return job, &domain.DispatchError{JobID: job.JobID, Err: err}
	}

	return job, nil
}

// Get is an ownership-scoped read-through.
func (s *Service) Get(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	return s.store.GetForOwner(ctx, jobID, userID)
}

// List returns the owner's jobs with the filter's limit clamped to sane
// bounds.
func (s *Service) List(ctx context.Context, userID string, filter domain.ListFilter) ([]*domain.Job, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultPageSize
	}
	if filter.Limit > MaxPageSize {
		filter.Limit = MaxPageSize
	}
	if filter.Skip < 0 {
		filter.Skip = 0
	}

	if filter.Status != "" && !domain.IsValidStatus(filter.Status) {
		return nil, &domain.ValidationError{Field: "status", Reason: "unknown status value"}
	}

	return s.store.ListForOwner(ctx, userID, filter)
}

// Update applies a partial update under ownership. A mismatch yields the same
// not-found as an absent job so existence is never confirmed to non-owners.
func (s *Service) Update(ctx context.Context, jobID, userID string, patch domain.JobPatch) (*domain.Job, error) {
	if err := validatePatch(patch); err != nil {
		return nil, err
	}
	return s.store.UpdateForOwner(ctx, jobID, userID, patch)
}

// Delete removes the owner's job and reports whether one existed.
func (s *Service) Delete(ctx context.Context, jobID, userID string) (bool, error) {
	return s.store.DeleteForOwner(ctx, jobID, userID)
}

// Cancel moves a QUEUED or PROCESSING job to CANCELLED. Cancellation does
// not interrupt an in-flight execution; it only makes future deliveries hit
// the idempotency guard. Ownership is immutable so the scoped read followed
// by the guarded transition cannot race with an owner change.
func (s *Service) Cancel(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	if _, err := s.store.GetForOwner(ctx, jobID, userID); err != nil {
		return nil, err
	}

	job, err := s.store.TransitionStatus(ctx, jobID, domain.JobStatusCancelled, nil, "")
	if err != nil {
		return nil, err
	}

	s.logger.Info("Job cancelled",
		slog.String("job_id", jobID),
		slog.String("user_id", userID),
	)

	return job, nil
}

// Stats returns job counts by status for one owner.
func (s *Service) Stats(ctx context.Context, userID string) (map[string]int, error) {
	return s.store.StatsByStatus(ctx, userID)
}

// Process is the idempotent processing entry point invoked by the dispatcher
// callback. It is safe to call concurrently and repeatedly for the same job:
// a terminal job is returned unchanged without re-executing anything, and
// when two deliveries race past that guard the losing terminal transition
// resolves to the winner's stored document.
func (s *Service) Process(ctx context.Context, jobID string) (*domain.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	// Idempotency guard: at-least-once delivery must never re-execute a
	// finished job or double-apply its side effects.
	if domain.IsTerminal(job.Status) {
		s.logger.Info("Skipping already finished job",
			slog.String("job_id", jobID),
			slog.String("status", job.Status),
		)
		return job, nil
	}

	if s.locker != nil {
		release, ok, err := s.locker.TryAcquire(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, domain.NewRetryableError(fmt.Errorf("%w: %s", domain.ErrJobLocked, jobID))
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release job claim",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}()
	}

	if _, err := s.store.IncrementAttempts(ctx, jobID); err != nil {
		return nil, err
	}

	job, err = s.store.TransitionStatus(ctx, jobID, domain.JobStatusProcessing, nil, "")
	if err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			// Another delivery finished (or the owner cancelled) between the
			// guard and the transition.
			return s.store.GetByID(ctx, jobID)
		}
		return nil, err
	}

	result, procErr := s.execute(ctx, job)
	if procErr != nil {
		s.logger.Error("Job execution failed",
			slog.String("job_id", jobID),
			slog.String("error", procErr.Error()),
		)

		failed, err := s.store.TransitionStatus(ctx, jobID, domain.JobStatusFailed, nil, procErr.Error())
		if err != nil {
			if errors.Is(err, domain.ErrTerminalState) {
				return s.store.GetByID(ctx, jobID)
			}
			return nil, err
		}

		// The failure is recorded on the job; re-raise so the dispatcher's
		// own backoff policy decides about redelivery.
		return failed, &domain.ProcessingError{JobID: jobID, Err: procErr}
	}

	completed, err := s.store.TransitionStatus(ctx, jobID, domain.JobStatusCompleted, result, "")
	if err != nil {
		if errors.Is(err, domain.ErrTerminalState) {
			return s.store.GetByID(ctx, jobID)
		}
		return nil, err
	}

	s.logger.Info("Job completed",
		slog.String("job_id", jobID),
		slog.Int("attempts", completed.Attempts),
	)

	return completed, nil
}

// execute runs the pluggable processing logic with a bounded timeout.
func (s *Service) execute(ctx context.Context, job *domain.Job) (map[string]any, error) {
	if s.processTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.processTimeout)
		defer cancel()
	}

	return s.processor.Process(ctx, job)
}

func validateNewJob(fields domain.NewJobFields) error {
	if fields.Title == "" {
		return &domain.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if len(fields.Title) > domain.TitleMaxLen {
		return &domain.ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", domain.TitleMaxLen)}
	}
	if len(fields.Description) > domain.DescriptionMaxLen {
		return &domain.ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", domain.DescriptionMaxLen)}
	}
	if fields.Priority < domain.PriorityMin || fields.Priority > domain.PriorityMax {
		return &domain.ValidationError{Field: "priority", Reason: fmt.Sprintf("must be between %d and %d", domain.PriorityMin, domain.PriorityMax)}
	}
	return validatePayloadSize(fields.Payload)
}

func validatePatch(patch domain.JobPatch) error {
	if patch.IsEmpty() {
		return domain.ErrEmptyPatch
	}
	if patch.Title != nil {
		if *patch.Title == "" {
			return &domain.ValidationError{Field: "title", Reason: "must not be empty"}
		}
		if len(*patch.Title) > domain.TitleMaxLen {
			return &domain.ValidationError{Field: "title", Reason: fmt.Sprintf("must be at most %d characters", domain.TitleMaxLen)}
		}
	}
	if patch.Description != nil && len(*patch.Description) > domain.DescriptionMaxLen {
		return &domain.ValidationError{Field: "description", Reason: fmt.Sprintf("must be at most %d characters", domain.DescriptionMaxLen)}
	}
	if patch.Priority != nil && (*patch.Priority < domain.PriorityMin || *patch.Priority > domain.PriorityMax) {
		return &domain.ValidationError{Field: "priority", Reason: fmt.Sprintf("must be between %d and %d", domain.PriorityMin, domain.PriorityMax)}
	}
	return validatePayloadSize(patch.Payload)
}

// validatePayloadSize bounds the serialized payload representation.
func validatePayloadSize(payload map[string]any) error {
	if payload == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return &domain.ValidationError{Field: "payload", Reason: "must be JSON-serializable"}
	}
	if len(raw) > domain.PayloadMaxBytes {
		return &domain.ValidationError{Field: "payload", Reason: fmt.Sprintf("serialized size must be at most %d bytes", domain.PayloadMaxBytes)}
	}
	return nil
}
