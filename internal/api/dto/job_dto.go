package dto

import (
	"time"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

type CreateJobRequest struct {
	Title       string         `json:"title" binding:"required,min=1,max=200"`
	Description string         `json:"description" binding:"omitempty,max=1000"`
	Priority    int            `json:"priority" binding:"omitempty,min=0,max=100"`
	Payload     map[string]any `json:"payload"`
}

type UpdateJobRequest struct {
	Title       *string        `json:"title" binding:"omitempty,min=1,max=200"`
	Description *string        `json:"description" binding:"omitempty,max=1000"`
	Priority    *int           `json:"priority" binding:"omitempty,min=0,max=100"`
	Payload     map[string]any `json:"payload"`
}

type ListJobsRequest struct {
	Status string `form:"status"`
	Skip   int    `form:"skip"`
	Limit  int    `form:"limit"`
}

type ListJobsResponse struct {
	Jobs  []JobDTO `json:"jobs"`
	Skip  int      `json:"skip"`
	Limit int      `json:"limit"`
}

// JobDTO is the response shape of a job. The field names are the wire
// contract and must stay stable.
type JobDTO struct {
	JobID       string         `json:"job_id"`
	UserID      string         `json:"user_id"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Priority    int            `json:"priority"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      string         `json:"status"`
	Attempts    int            `json:"attempts"`
	Result      map[string]any `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   string         `json:"created_at"`
	UpdatedAt   string         `json:"updated_at"`
	StartedAt   string         `json:"started_at,omitempty"`
	CompletedAt string         `json:"completed_at,omitempty"`
}

// FromDomain converts a domain job to its response shape.
func FromDomain(job *domain.Job) JobDTO {
	dto := JobDTO{
		JobID:       job.JobID,
		UserID:      job.UserID,
		Title:       job.Title,
		Description: job.Description,
		Priority:    job.Priority,
		Payload:     job.Payload,
		Status:      job.Status,
		Attempts:    job.Attempts,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
	}

	if job.StartedAt != nil {
		dto.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	if job.CompletedAt != nil {
		dto.CompletedAt = job.CompletedAt.Format(time.RFC3339)
	}

	return dto
}
