package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job is absent, or exists but is not
	// owned by the caller. The two cases are indistinguishable on purpose.
	ErrJobNotFound = errors.New("job not found")

	// ErrTerminalState is returned when a transition would move a job out of
	// COMPLETED, FAILED or CANCELLED.
	ErrTerminalState = errors.New("job is in a terminal state")

	// ErrJobLocked is returned when another delivery holds the exclusive
	// processing claim for the job.
	ErrJobLocked = errors.New("job is claimed by another processor")

	// ErrEmptyPatch is returned when an update request carries no fields.
	ErrEmptyPatch = errors.New("update contains no fields")
)

// ValidationError reports a request field that is missing or out of bounds.
// It is raised before any persistence happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// DispatchError wraps a failure to schedule the processing callback. The job
// is already persisted and stays QUEUED; the sweeper re-dispatches it later.
type DispatchError struct {
	JobID string
	Err   error
}

func (e *DispatchError) Error() string {
	return "failed to dispatch job " + e.JobID + ": " + e.Err.Error()
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

// ProcessingError wraps a failure of the job's processing logic. The failure
// is already recorded on the job; the error propagates so the dispatcher's
// retry policy can decide about redelivery.
type ProcessingError struct {
	JobID string
	Err   error
}

func (e *ProcessingError) Error() string {
	return "processing job " + e.JobID + " failed: " + e.Err.Error()
}

func (e *ProcessingError) Unwrap() error {
	return e.Err
}

// RetryableError marks transient failures that should trigger a requeue
// instead of dropping the delivery.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return "retryable error: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps err as retryable.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}
