package sweeper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

type fakeStore struct {
	stalled          []*domain.Job
	stalledErr       error
	stalledThreshold time.Duration

	undispatched    []*domain.Job
	undispatchedErr error
	redispatchAfter time.Duration

	cleanupDeleted int64
	cleanupErr     error
	cleanupDays    int
}

func (s *fakeStore) FindStalled(_ context.Context, threshold time.Duration) ([]*domain.Job, error) {
	s.stalledThreshold = threshold
	return s.stalled, s.stalledErr
}

func (s *fakeStore) FindUndispatched(_ context.Context, olderThan time.Duration) ([]*domain.Job, error) {
	s.redispatchAfter = olderThan
	return s.undispatched, s.undispatchedErr
}

func (s *fakeStore) CleanupOlderThan(_ context.Context, days int) (int64, error) {
	s.cleanupDays = days
	return s.cleanupDeleted, s.cleanupErr
}

type fakeDispatcher struct {
	calls   []string
	failFor map[string]error
}

func (d *fakeDispatcher) Schedule(_ context.Context, jobID string, _ time.Duration) error {
	if err, ok := d.failFor[jobID]; ok {
		return err
	}
	d.calls = append(d.calls, jobID)
	return nil
}

func newTestSweeper(store *fakeStore, dispatcher *fakeDispatcher, cfg Config) *Sweeper {
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg.Store = store
	cfg.Dispatcher = dispatcher
	return New(&cfg)
}

func TestNew_Defaults(t *testing.T) {
	s := newTestSweeper(&fakeStore{}, &fakeDispatcher{}, Config{})

	assert.Equal(t, 30*time.Minute, s.stalledThreshold)
	assert.Equal(t, 5*time.Minute, s.redispatchAfter)
	assert.Equal(t, 30, s.retentionDays)
	assert.Equal(t, "*/10 * * * *", s.sweepSchedule)
	assert.Equal(t, "0 3 * * *", s.cleanupSchedule)
	assert.Equal(t, time.Minute, s.sweepTimeout)
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := newTestSweeper(&fakeStore{}, &fakeDispatcher{}, Config{
		SweepSchedule: "not a cron spec",
	})

	err := s.Start()
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := newTestSweeper(&fakeStore{}, &fakeDispatcher{}, Config{})

	require.NoError(t, s.Start())
	s.Stop()
}

func TestReportStalled(t *testing.T) {
	started := time.Now().Add(-time.Hour)
	store := &fakeStore{
		stalled: []*domain.Job{
			{JobID: "job-1", Status: domain.JobStatusProcessing, Attempts: 1, StartedAt: &started},
			{JobID: "job-2", Status: domain.JobStatusProcessing, Attempts: 2, StartedAt: &started},
		},
	}
	s := newTestSweeper(store, &fakeDispatcher{}, Config{
		StalledThreshold: 45 * time.Minute,
	})

	s.ReportStalled(context.Background())

	// The configured threshold is what reaches the store
	assert.Equal(t, 45*time.Minute, store.stalledThreshold)
}

func TestReportStalled_ScanError(t *testing.T) {
	store := &fakeStore{stalledErr: errors.New("db gone")}
	s := newTestSweeper(store, &fakeDispatcher{}, Config{})

	// Must not panic; the error is logged and the pass ends
	s.ReportStalled(context.Background())
}

func TestRedispatchQueued(t *testing.T) {
	store := &fakeStore{
		undispatched: []*domain.Job{
			{JobID: "job-1", Status: domain.JobStatusQueued},
			{JobID: "job-2", Status: domain.JobStatusQueued},
		},
	}
	dispatcher := &fakeDispatcher{}
	s := newTestSweeper(store, dispatcher, Config{
		RedispatchAfter: 10 * time.Minute,
	})

	s.RedispatchQueued(context.Background())

	assert.Equal(t, 10*time.Minute, store.redispatchAfter)
	assert.Equal(t, []string{"job-1", "job-2"}, dispatcher.calls)
}

func TestRedispatchQueued_PartialFailure(t *testing.T) {
	store := &fakeStore{
		undispatched: []*domain.Job{
			{JobID: "job-1", Status: domain.JobStatusQueued},
			{JobID: "job-2", Status: domain.JobStatusQueued},
			{JobID: "job-3", Status: domain.JobStatusQueued},
		},
	}
	dispatcher := &fakeDispatcher{
		failFor: map[string]error{"job-2": errors.New("broker flapping")},
	}
	s := newTestSweeper(store, dispatcher, Config{})

	s.RedispatchQueued(context.Background())

	// One failed dispatch does not stop the rest of the pass
	assert.Equal(t, []string{"job-1", "job-3"}, dispatcher.calls)
}

func TestCleanup(t *testing.T) {
	store := &fakeStore{cleanupDeleted: 7}
	s := newTestSweeper(store, &fakeDispatcher{}, Config{
		RetentionDays: 14,
	})

	s.Cleanup(context.Background())

	assert.Equal(t, 14, store.cleanupDays)
}

func TestCleanup_Error(t *testing.T) {
	store := &fakeStore{cleanupErr: errors.New("db gone")}
	s := newTestSweeper(store, &fakeDispatcher{}, Config{})

	s.Cleanup(context.Background())
}
