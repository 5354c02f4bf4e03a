package domain

import "time"

// Job status constants
const (
	JobStatusQueued     = "QUEUED"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
	JobStatusCancelled  = "CANCELLED"
)

// Validation bounds for job fields
const (
	TitleMaxLen       = 200
	DescriptionMaxLen = 1000
	PriorityMin       = 0
	PriorityMax       = 100
	PayloadMaxBytes   = 1_000_000

	// MaxAttempts bounds how often a stalled job is considered retryable.
	MaxAttempts = 3
)

// IsTerminal reports whether no further status transition is permitted.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsValidStatus reports whether status is one of the known job statuses.
func IsValidStatus(status string) bool {
	switch status {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted,
		JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// Job is the central entity: a durable, owned unit of work tracked through
// its status lifecycle. Mutations go through repository operations, never by
// direct field assignment from callers.
type Job struct {
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
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// NewJobFields carries the caller-supplied descriptive fields for creation.
// Lifecycle fields (status, attempts, timestamps) are set by the repository.
type NewJobFields struct {
	Title       string
	Description string
	Priority    int
	Payload     map[string]any
}

// JobPatch is a partial update: only non-nil fields are applied, so unset
// fields are never overwritten with defaults.
type JobPatch struct {
	Title       *string
	Description *string
	Priority    *int
	Payload     map[string]any
}

// IsEmpty reports whether the patch carries no changes.
func (p JobPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil && p.Payload == nil
}

// ListFilter narrows a job listing. Skip/Limit paginate the result ordered
// by creation time descending.
type ListFilter struct {
	Status string
	Skip   int
	Limit  int
}
