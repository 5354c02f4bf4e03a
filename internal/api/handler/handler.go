package handler

import (
	"context"
	"log/slog"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

// JobService is the lifecycle surface the handlers call into. Implemented by
// service.Service; swapped for a fake in tests.
type JobService interface {
	Create(ctx context.Context, userID string, fields domain.NewJobFields) (*domain.Job, error)
	Get(ctx context.Context, jobID, userID string) (*domain.Job, error)
	List(ctx context.Context, userID string, filter domain.ListFilter) ([]*domain.Job, error)
	Update(ctx context.Context, jobID, userID string, patch domain.JobPatch) (*domain.Job, error)
	Delete(ctx context.Context, jobID, userID string) (bool, error)
	Cancel(ctx context.Context, jobID, userID string) (*domain.Job, error)
	Stats(ctx context.Context, userID string) (map[string]int, error)
	Process(ctx context.Context, jobID string) (*domain.Job, error)
}

// Dependencies holds what the handlers need
type Dependencies struct {
	Logger  *slog.Logger
	Service JobService
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger  *slog.Logger
	service JobService
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:  deps.Logger,
		service: deps.Service,
	}
}
