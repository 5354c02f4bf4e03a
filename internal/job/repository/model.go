package repository

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

// jsonMap bridges map columns to JSONB. A nil map stores SQL NULL.
type jsonMap map[string]any

func (m jsonMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal json column: %w", err)
	}
	return b, nil
}

func (m *jsonMap) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported json column type %T", src)
	}

	return json.Unmarshal(data, m)
}

// jobRow is the database representation of a job.
type jobRow struct {
	JobID       string         `db:"job_id"`
	UserID      string         `db:"user_id"`
	Title       string         `db:"title"`
	Description sql.NullString `db:"description"`
	Priority    int            `db:"priority"`
	Payload     jsonMap        `db:"payload"`
	Status      string         `db:"status"`
	Attempts    int            `db:"attempts"`
	Result      jsonMap        `db:"result"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	StartedAt   sql.NullTime   `db:"started_at"`
	CompletedAt sql.NullTime   `db:"completed_at"`
}

func (r *jobRow) toDomain() *domain.Job {
	job := &domain.Job{
		JobID:     r.JobID,
		UserID:    r.UserID,
		Title:     r.Title,
		Priority:  r.Priority,
		Payload:   r.Payload,
		Status:    r.Status,
		Attempts:  r.Attempts,
		Result:    r.Result,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}

	if r.Description.Valid {
		job.Description = r.Description.String
	}
	if r.Error.Valid {
		job.Error = r.Error.String
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		job.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		job.CompletedAt = &t
	}

	return job
}
