package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

const jobColumns = `
	job_id, user_id, title, description, priority, payload,
	status, attempts, result, error,
	created_at, updated_at, started_at, completed_at`

// Repository handles all database operations on jobs. Every mutation is a
// single statement so concurrent callers can never interleave a
// read-modify-write on the same row.
type Repository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// New creates a Repository on top of a pooled database handle.
func New(db *sqlx.DB, logger *slog.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

// Create inserts a new QUEUED job with zero attempts and both timestamps set
// to the same instant.
func (r *Repository) Create(ctx context.Context, userID string, fields domain.NewJobFields) (*domain.Job, error) {
	query := `
		INSERT INTO jobs (
			job_id, user_id, title, description, priority, payload,
			status, attempts, created_at, updated_at
		) VALUES (
			$1, $2, $3, NULLIF($4, ''), $5, $6,
			$7, 0, $8, $8
		)
		RETURNING` + jobColumns

	now := time.Now().UTC()

	var row jobRow
	err := r.db.GetContext(ctx, &row, query,
		uuid.New().String(),
		userID,
		fields.Title,
		fields.Description,
		fields.Priority,
		jsonMap(fields.Payload),
		domain.JobStatusQueued,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	r.logger.Info("Job created",
		slog.String("job_id", row.JobID),
		slog.String("user_id", userID),
	)

	return row.toDomain(), nil
}

// GetByID retrieves a job without ownership scoping. Reserved for the
// processing callback path; the dispatcher channel is authenticated itself.
func (r *Repository) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE job_id = $1`

	var row jobRow
	err := r.db.GetContext(ctx, &row, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain(), nil
}

// GetForOwner retrieves a job only if userID matches its owner. A job owned
// by someone else reports the same not-found as an absent job.
func (r *Repository) GetForOwner(ctx context.Context, jobID, userID string) (*domain.Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE job_id = $1 AND user_id = $2`

	var row jobRow
	err := r.db.GetContext(ctx, &row, query, jobID, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return row.toDomain(), nil
}

// ListForOwner lists the owner's jobs ordered by creation time descending.
// The (created_at, job_id) sort keeps pagination stable when timestamps tie.
func (r *Repository) ListForOwner(ctx context.Context, userID string, filter domain.ListFilter) ([]*domain.Job, error) {
	query := `SELECT` + jobColumns + ` FROM jobs WHERE user_id = $1`
	args := []interface{}{userID}
	argIdx := 2

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	query += " ORDER BY created_at DESC, job_id DESC"
	query += fmt.Sprintf(" OFFSET $%d LIMIT $%d", argIdx, argIdx+1)
	args = append(args, filter.Skip, filter.Limit)

	var rows []jobRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}

	return jobs, nil
}

// TransitionStatus atomically moves a job to status. Entering PROCESSING sets
// started_at once; entering COMPLETED or FAILED sets completed_at and the
// result or error rider. A job already in a terminal status is never moved:
// the statement matches zero rows and the follow-up read disambiguates
// ErrJobNotFound from ErrTerminalState.
func (r *Repository) TransitionStatus(ctx context.Context, jobID, status string, result map[string]any, errMsg string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $2,
			result = COALESCE($3, result),
			error = COALESCE(NULLIF($4, ''), error),
			started_at = CASE
				WHEN $2 = $5 THEN COALESCE(started_at, NOW())
				ELSE started_at
			END,
			completed_at = CASE
				WHEN $2 IN ($6, $7) THEN NOW()
				ELSE completed_at
			END,
			updated_at = NOW()
		WHERE job_id = $1
		  AND status NOT IN ($6, $7, $8)
		RETURNING` + jobColumns

	var row jobRow
	err := r.db.GetContext(ctx, &row, query,
		jobID,
		status,
		jsonMap(result),
		errMsg,
		domain.JobStatusProcessing,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		domain.JobStatusCancelled,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.explainMissedUpdate(ctx, jobID)
		}
		return nil, fmt.Errorf("failed to transition job status: %w", err)
	}

	r.logger.Info("Job status updated",
		slog.String("job_id", jobID),
		slog.String("status", status),
	)

	return row.toDomain(), nil
}

// explainMissedUpdate tells apart "no such job" from "job is terminal" after
// a guarded update matched nothing.
func (r *Repository) explainMissedUpdate(ctx context.Context, jobID string) error {
	_, err := r.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	// Terminal statuses are absorbing, so a row that exists but missed the
	// guarded update must have been terminal already.
	return domain.ErrTerminalState
}

// IncrementAttempts bumps the attempt counter regardless of status, so it can
// run unconditionally at the start of every processing attempt.
func (r *Repository) IncrementAttempts(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET attempts = attempts + 1,
			updated_at = NOW()
		WHERE job_id = $1
		RETURNING` + jobColumns

	var row jobRow
	err := r.db.GetContext(ctx, &row, query, jobID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to increment attempts: %w", err)
	}

	return row.toDomain(), nil
}

// UpdateForOwner applies a partial update. Only fields present in the patch
// reach the SET clause, and the owner check rides in the WHERE clause so an
// ownership mismatch is the same zero-row outcome as a missing job.
func (r *Repository) UpdateForOwner(ctx context.Context, jobID, userID string, patch domain.JobPatch) (*domain.Job, error) {
	if patch.IsEmpty() {
		return nil, domain.ErrEmptyPatch
	}

	query := "UPDATE jobs SET updated_at = NOW()"
	args := []interface{}{}
	argIdx := 1

	if patch.Title != nil {
		query += fmt.Sprintf(", title = $%d", argIdx)
		args = append(args, *patch.Title)
		argIdx++
	}

	if patch.Description != nil {
		query += fmt.Sprintf(", description = NULLIF($%d, '')", argIdx)
		args = append(args, *patch.Description)
		argIdx++
	}

	if patch.Priority != nil {
		query += fmt.Sprintf(", priority = $%d", argIdx)
		args = append(args, *patch.Priority)
		argIdx++
	}

	if patch.Payload != nil {
		query += fmt.Sprintf(", payload = $%d", argIdx)
		args = append(args, jsonMap(patch.Payload))
		argIdx++
	}

	query += fmt.Sprintf(" WHERE job_id = $%d AND user_id = $%d RETURNING", argIdx, argIdx+1) + jobColumns
	args = append(args, jobID, userID)

	var row jobRow
	err := r.db.GetContext(ctx, &row, query, args...)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to update job: %w", err)
	}

	return row.toDomain(), nil
}

// DeleteForOwner hard-deletes a job scoped to its owner. Returns whether a
// row existed and was removed.
func (r *Repository) DeleteForOwner(ctx context.Context, jobID, userID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE job_id = $1 AND user_id = $2`, jobID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to delete job: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected > 0, nil
}

// FindStalled returns PROCESSING jobs whose started_at is older than the
// threshold and that still have attempts left. These are jobs whose callback
// likely crashed without updating status; callers decide what to do with
// them, nothing is resolved here.
func (r *Repository) FindStalled(ctx context.Context, threshold time.Duration) ([]*domain.Job, error) {
	query := `SELECT` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND started_at < $2
		  AND attempts < $3
		ORDER BY started_at ASC`

	cutoff := time.Now().UTC().Add(-threshold)

	var rows []jobRow
	err := r.db.SelectContext(ctx, &rows, query, domain.JobStatusProcessing, cutoff, domain.MaxAttempts)
	if err != nil {
		return nil, fmt.Errorf("failed to find stalled jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}

	return jobs, nil
}

// FindUndispatched returns QUEUED jobs untouched for longer than olderThan.
// A job stuck there means its dispatch was lost after the create committed;
// the sweeper schedules it again.
func (r *Repository) FindUndispatched(ctx context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	query := `SELECT` + jobColumns + `
		FROM jobs
		WHERE status = $1
		  AND updated_at < $2
		ORDER BY created_at ASC`

	cutoff := time.Now().UTC().Add(-olderThan)

	var rows []jobRow
	err := r.db.SelectContext(ctx, &rows, query, domain.JobStatusQueued, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find undispatched jobs: %w", err)
	}

	jobs := make([]*domain.Job, len(rows))
	for i := range rows {
		jobs[i] = rows[i].toDomain()
	}

	return jobs, nil
}

// CleanupOlderThan bulk-deletes COMPLETED and FAILED jobs created more than
// the given number of days ago. QUEUED, PROCESSING and CANCELLED jobs are
// never removed here regardless of age.
func (r *Repository) CleanupOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	result, err := r.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE status IN ($1, $2) AND created_at < $3`,
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up old jobs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	r.logger.Info("Cleaned up old jobs",
		slog.Int64("deleted_count", deleted),
		slog.Int("threshold_days", days),
	)

	return deleted, nil
}

// StatsByStatus aggregates job counts by status, optionally scoped to one
// owner when userID is non-empty.
func (r *Repository) StatsByStatus(ctx context.Context, userID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) AS count FROM jobs`
	args := []interface{}{}

	if userID != "" {
		query += ` WHERE user_id = $1`
		args = append(args, userID)
	}

	query += ` GROUP BY status`

	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("failed to aggregate job stats: %w", err)
	}

	stats := make(map[string]int, len(rows))
	for _, row := range rows {
		stats[row.Status] = row.Count
	}

	return stats, nil
}
