// Package joblock provides short-lived exclusive processing claims keyed by
// job id, backed by Postgres advisory locks. It is the strict
// single-execution guard for processing logic whose side effects are not
// idempotent.
package joblock

import (
	"context"
	"database/sql/driver"
	"fmt"
	"hash/fnv"

	"github.com/jmoiron/sqlx"

	"github.com/jobflow-dev/jobflow-be/internal/job/service"
)

// Manager hands out advisory-lock claims. Session locks are tied to the
// connection that took them, so each claim pins one pooled connection until
// released.
type Manager struct {
	db *sqlx.DB
}

// NewManager creates a Manager on top of a pooled database handle.
func NewManager(db *sqlx.DB) *Manager {
	return &Manager{db: db}
}

// TryAcquire attempts to claim the job without blocking. It reports false
// when another session holds the claim. On success the returned Release must
// be called to free the lock and return the pinned connection to the pool.
func (m *Manager) TryAcquire(ctx context.Context, jobID string) (service.Release, bool, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get connection for job lock: %w", err)
	}

	key := LockKey(jobID)

	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", key).Scan(&acquired); err != nil {
		conn.Close()
		return nil, false, fmt.Errorf("failed to acquire job lock: %w", err)
	}

	if !acquired {
		conn.Close()
		return nil, false, nil
	}

	release := func(ctx context.Context) error {
		var released bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_advisory_unlock($1)", key).Scan(&released); err != nil {
			// The session may still hold the lock. Returning the connection
			// to the pool would keep the claim alive on it, so mark the
			// underlying driver connection bad before closing: the pool then
			// discards the session and the lock dies with it.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
			conn.Close()
			return fmt.Errorf("failed to release job lock: %w", err)
		}
		if !released {
			conn.Close()
			return fmt.Errorf("job lock %d was not held at release", key)
		}
		return conn.Close()
	}

	return release, true, nil
}

// LockKey derives the advisory lock key for a job id. FNV-1a keeps the full
// 64-bit key space and is stable across processes.
func LockKey(jobID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(jobID))
	return int64(h.Sum64())
}
