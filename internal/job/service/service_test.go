package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobflow-dev/jobflow-be/internal/job/domain"
)

// fakeStore is an in-memory Store with the same transition semantics as the
// SQL repository: guarded status updates, terminal states absorbing, and
// lifecycle timestamps maintained on transition.
type fakeStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job

	// beforeTransition, when set, runs inside TransitionStatus before the
	// guard check. Tests use it to interleave a concurrent finish.
	beforeTransition func(jobID, status string)
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*domain.Job)}
}

func (s *fakeStore) Create(_ context.Context, userID string, fields domain.NewJobFields) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	job := &domain.Job{
		JobID:       uuid.New().String(),
		UserID:      userID,
		Title:       fields.Title,
		Description: fields.Description,
		Priority:    fields.Priority,
		Payload:     fields.Payload,
		Status:      domain.JobStatusQueued,
		Attempts:    0,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.jobs[job.JobID] = job
	return copyJob(job), nil
}

func (s *fakeStore) GetByID(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (s *fakeStore) GetForOwner(_ context.Context, jobID, userID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, domain.ErrJobNotFound
	}
	return copyJob(job), nil
}

func (s *fakeStore) ListForOwner(_ context.Context, userID string, filter domain.ListFilter) ([]*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var owned []*domain.Job
	for _, job := range s.jobs {
		if job.UserID != userID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		owned = append(owned, copyJob(job))
	}

	sort.Slice(owned, func(i, j int) bool {
		if !owned[i].CreatedAt.Equal(owned[j].CreatedAt) {
			return owned[i].CreatedAt.After(owned[j].CreatedAt)
		}
		return owned[i].JobID > owned[j].JobID
	})

	if filter.Skip >= len(owned) {
		return nil, nil
	}
	owned = owned[filter.Skip:]
	if filter.Limit < len(owned) {
		owned = owned[:filter.Limit]
	}
	return owned, nil
}

func (s *fakeStore) TransitionStatus(_ context.Context, jobID, status string, result map[string]any, errMsg string) (*domain.Job, error) {
	if s.beforeTransition != nil {
		s.beforeTransition(jobID, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	if domain.IsTerminal(job.Status) {
		return nil, domain.ErrTerminalState
	}

	now := time.Now().UTC()
	job.Status = status
	if result != nil {
		job.Result = result
	}
	if errMsg != "" {
		job.Error = errMsg
	}
	if status == domain.JobStatusProcessing && job.StartedAt == nil {
		job.StartedAt = &now
	}
	if status == domain.JobStatusCompleted || status == domain.JobStatusFailed {
		job.CompletedAt = &now
	}
	job.UpdatedAt = now
	return copyJob(job), nil
}

func (s *fakeStore) IncrementAttempts(_ context.Context, jobID string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	job.Attempts++
	job.UpdatedAt = time.Now().UTC()
	return copyJob(job), nil
}

func (s *fakeStore) UpdateForOwner(_ context.Context, jobID, userID string, patch domain.JobPatch) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return nil, domain.ErrJobNotFound
	}
	if patch.Title != nil {
		job.Title = *patch.Title
	}
	if patch.Description != nil {
		job.Description = *patch.Description
	}
	if patch.Priority != nil {
		job.Priority = *patch.Priority
	}
	if patch.Payload != nil {
		job.Payload = patch.Payload
	}
	job.UpdatedAt = time.Now().UTC()
	return copyJob(job), nil
}

func (s *fakeStore) DeleteForOwner(_ context.Context, jobID, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok || job.UserID != userID {
		return false, nil
	}
	delete(s.jobs, jobID)
	return true, nil
}

func (s *fakeStore) StatsByStatus(_ context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := make(map[string]int)
	for _, job := range s.jobs {
		if job.UserID == userID {
			stats[job.Status]++
		}
	}
	return stats, nil
}

func copyJob(job *domain.Job) *domain.Job {
	c := *job
	return &c
}

type fakeDispatcher struct {
	mu     sync.Mutex
	calls  []string
	delays []time.Duration
	err    error
}

func (d *fakeDispatcher) Schedule(_ context.Context, jobID string, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.calls = append(d.calls, jobID)
	d.delays = append(d.delays, delay)
	return nil
}

type fakeProcessor struct {
	mu     sync.Mutex
	calls  int
	result map[string]any
	err    error
}

func (p *fakeProcessor) Process(_ context.Context, _ *domain.Job) (map[string]any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.err != nil {
		return nil, p.err
	}
	return p.result, nil
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeLocker struct {
	busy     bool
	acquired int
	released int
	err      error
}

func (l *fakeLocker) TryAcquire(_ context.Context, _ string) (Release, bool, error) {
	if l.err != nil {
		return nil, false, l.err
	}
	if l.busy {
		return nil, false, nil
	}
	l.acquired++
	return func(context.Context) error {
		l.released++
		return nil
	}, true, nil
}

func newTestService(store *fakeStore, dispatcher *fakeDispatcher, processor *fakeProcessor, locker Locker) *Service {
	return New(&Config{
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		Store:      store,
		Dispatcher: dispatcher,
		Processor:  processor,
		Locker:     locker,
	})
}

func TestCreate(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, &fakeProcessor{}, nil)

	job, err := svc.Create(context.Background(), "user-1", domain.NewJobFields{
		Title:    "resize images",
		Priority: 5,
		Payload:  map[string]any{"bucket": "uploads"},
	})

	require.NoError(t, err)
	require.NotNil(t, job)
	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, "user-1", job.UserID)
	assert.Equal(t, domain.JobStatusQueued, job.Status)
	assert.Equal(t, 0, job.Attempts)
	assert.True(t, job.CreatedAt.Equal(job.UpdatedAt))
	assert.Nil(t, job.StartedAt)
	assert.Nil(t, job.CompletedAt)

	require.Len(t, dispatcher.calls, 1)
	assert.Equal(t, job.JobID, dispatcher.calls[0])
	assert.Equal(t, time.Duration(0), dispatcher.delays[0])
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name      string
		fields    domain.NewJobFields
		wantField string
	}{
		{
			name:      "empty title",
			fields:    domain.NewJobFields{Title: ""},
			wantField: "title",
		},
		{
			name:      "title too long",
			fields:    domain.NewJobFields{Title: strings.Repeat("a", domain.TitleMaxLen+1)},
			wantField: "title",
		},
		{
			name: "description too long",
			fields: domain.NewJobFields{
				Title:       "ok",
				Description: strings.Repeat("a", domain.DescriptionMaxLen+1),
			},
			wantField: "description",
		},
		{
			name:      "priority below range",
			fields:    domain.NewJobFields{Title: "ok", Priority: domain.PriorityMin - 1},
			wantField: "priority",
		},
		{
			name:      "priority above range",
			fields:    domain.NewJobFields{Title: "ok", Priority: domain.PriorityMax + 1},
			wantField: "priority",
		},
		{
			name: "payload too large",
			fields: domain.NewJobFields{
				Title:   "ok",
				Payload: map[string]any{"blob": strings.Repeat("x", domain.PayloadMaxBytes)},
			},
			wantField: "payload",
		},
	}

	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	svc := newTestService(store, dispatcher, &fakeProcessor{}, nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job, err := svc.Create(context.Background(), "user-1", tt.fields)

			require.Error(t, err)
			assert.Nil(t, job)

			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
		})
	}

	// Nothing persisted, nothing dispatched
	assert.Empty(t, store.jobs)
	assert.Empty(t, dispatcher.calls)
}

func TestCreate_DispatchFailure(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{err: errors.New("broker unreachable")}
	svc := newTestService(store, dispatcher, &fakeProcessor{}, nil)

	job, err := svc.Create(context.Background(), "user-1", domain.NewJobFields{Title: "t"})

	// The job survives the failed dispatch and stays QUEUED for the sweeper.
	require.Error(t, err)
	require.NotNil(t, job)

	var dErr *domain.DispatchError
	require.ErrorAs(t, err, &dErr)
	assert.Equal(t, job.JobID, dErr.JobID)

	stored, getErr := store.GetByID(context.Background(), job.JobID)
	require.NoError(t, getErr)
	assert.Equal(t, domain.JobStatusQueued, stored.Status)
}

func TestGet_OwnershipScoped(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{}, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	got, err := svc.Get(context.Background(), job.JobID, "owner")
	require.NoError(t, err)
	assert.Equal(t, job.JobID, got.JobID)

	// A different caller sees the same not-found as a missing job.
	_, err = svc.Get(context.Background(), job.JobID, "someone-else")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = svc.Get(context.Background(), uuid.New().String(), "owner")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestList_Pagination(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{}, nil)

	for i := 0; i < 150; i++ {
		_, err := svc.Create(context.Background(), "owner", domain.NewJobFields{
			Title: fmt.Sprintf("job %d", i),
		})
		require.NoError(t, err)
	}
	// Another owner's jobs never leak into the listing
	_, err := svc.Create(context.Background(), "other", domain.NewJobFields{Title: "foreign"})
	require.NoError(t, err)

	page1, err := svc.List(context.Background(), "owner", domain.ListFilter{Skip: 0, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page1, 100)

	page2, err := svc.List(context.Background(), "owner", domain.ListFilter{Skip: 100, Limit: 100})
	require.NoError(t, err)
	assert.Len(t, page2, 50)

	seen := make(map[string]bool)
	for _, j := range append(page1, page2...) {
		assert.Equal(t, "owner", j.UserID)
		assert.False(t, seen[j.JobID], "job %s returned twice", j.JobID)
		seen[j.JobID] = true
	}
	assert.Len(t, seen, 150)
}

func TestList_LimitClamping(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{}, nil)

	for i := 0; i < 30; i++ {
		_, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
		require.NoError(t, err)
	}

	// Zero limit falls back to the default page size
	jobs, err := svc.List(context.Background(), "owner", domain.ListFilter{})
	require.NoError(t, err)
	assert.Len(t, jobs, DefaultPageSize)

	// Oversized limit is clamped
	for i := 0; i < 80; i++ {
		_, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
		require.NoError(t, err)
	}
	jobs, err = svc.List(context.Background(), "owner", domain.ListFilter{Limit: 10_000})
	require.NoError(t, err)
	assert.Len(t, jobs, MaxPageSize)

	// Negative skip is treated as zero
	jobs, err = svc.List(context.Background(), "owner", domain.ListFilter{Skip: -5, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, jobs, 10)
}

func TestList_InvalidStatus(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeDispatcher{}, &fakeProcessor{}, nil)

	_, err := svc.List(context.Background(), "owner", domain.ListFilter{Status: "SHIPPED"})

	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "status", vErr.Field)
}

func TestList_StatusFilter(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{result: map[string]any{"ok": true}}, nil)

	queued, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "stays queued"})
	require.NoError(t, err)
	done, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "gets done"})
	require.NoError(t, err)
	_, err = svc.Process(context.Background(), done.JobID)
	require.NoError(t, err)

	jobs, err := svc.List(context.Background(), "owner", domain.ListFilter{Status: domain.JobStatusQueued})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queued.JobID, jobs[0].JobID)

	jobs, err = svc.List(context.Background(), "owner", domain.ListFilter{Status: domain.JobStatusCompleted})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, done.JobID, jobs[0].JobID)
}

func TestUpdate(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{}, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{
		Title:    "before",
		Priority: 1,
	})
	require.NoError(t, err)

	newTitle := "after"
	newPriority := 9
	updated, err := svc.Update(context.Background(), job.JobID, "owner", domain.JobPatch{
		Title:    &newTitle,
		Priority: &newPriority,
	})

	require.NoError(t, err)
	assert.Equal(t, "after", updated.Title)
	assert.Equal(t, 9, updated.Priority)
	// Untouched fields keep their values
	assert.Equal(t, job.Description, updated.Description)
}

func TestUpdate_Errors(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{}, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	_, err = svc.Update(context.Background(), job.JobID, "owner", domain.JobPatch{})
	assert.ErrorIs(t, err, domain.ErrEmptyPatch)

	empty := ""
	_, err = svc.Update(context.Background(), job.JobID, "owner", domain.JobPatch{Title: &empty})
	var vErr *domain.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "title", vErr.Field)

	title := "hijack"
	_, err = svc.Update(context.Background(), job.JobID, "intruder", domain.JobPatch{Title: &title})
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestDelete(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{}, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	// Non-owner delete is a silent miss
	deleted, err := svc.Delete(context.Background(), job.JobID, "intruder")
	require.NoError(t, err)
	assert.False(t, deleted)

	deleted, err = svc.Delete(context.Background(), job.JobID, "owner")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = svc.Delete(context.Background(), job.JobID, "owner")
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestCancel(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{}, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	cancelled, err := svc.Cancel(context.Background(), job.JobID, "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)
	// Cancellation is not a completion
	assert.Nil(t, cancelled.CompletedAt)

	// Cancelling twice hits the terminal guard
	_, err = svc.Cancel(context.Background(), job.JobID, "owner")
	assert.ErrorIs(t, err, domain.ErrTerminalState)
}

func TestCancel_NonOwner(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{}, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), job.JobID, "intruder")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	stored, err := store.GetByID(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, stored.Status)
}

func TestStats(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store, &fakeDispatcher{}, &fakeProcessor{result: map[string]any{"ok": true}}, nil)

	for i := 0; i < 3; i++ {
		_, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
		require.NoError(t, err)
	}
	done, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)
	_, err = svc.Process(context.Background(), done.JobID)
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), "other", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	stats, err := svc.Stats(context.Background(), "owner")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{
		domain.JobStatusQueued:    3,
		domain.JobStatusCompleted: 1,
	}, stats)
}

func TestProcess(t *testing.T) {
	store := newFakeStore()
	processor := &fakeProcessor{result: map[string]any{"processed": true}}
	svc := newTestService(store, &fakeDispatcher{}, processor, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	done, err := svc.Process(context.Background(), job.JobID)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, done.Attempts)
	assert.Equal(t, map[string]any{"processed": true}, done.Result)
	assert.Empty(t, done.Error)
	require.NotNil(t, done.StartedAt)
	require.NotNil(t, done.CompletedAt)
	assert.False(t, done.CompletedAt.Before(*done.StartedAt))
	assert.Equal(t, 1, processor.callCount())
}

func TestProcess_Idempotent(t *testing.T) {
	store := newFakeStore()
	processor := &fakeProcessor{result: map[string]any{"processed": true}}
	svc := newTestService(store, &fakeDispatcher{}, processor, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	first, err := svc.Process(context.Background(), job.JobID)
	require.NoError(t, err)

	// Redelivery returns the stored document without re-executing
	second, err := svc.Process(context.Background(), job.JobID)
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.Attempts, second.Attempts)
	assert.Equal(t, first.Result, second.Result)
	assert.True(t, first.UpdatedAt.Equal(second.UpdatedAt))
	assert.Equal(t, 1, processor.callCount())
}

func TestProcess_Failure(t *testing.T) {
	store := newFakeStore()
	processor := &fakeProcessor{err: errors.New("downstream exploded")}
	svc := newTestService(store, &fakeDispatcher{}, processor, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	failed, err := svc.Process(context.Background(), job.JobID)

	// The failure is recorded on the job and re-raised for the caller
	require.Error(t, err)
	var pErr *domain.ProcessingError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, job.JobID, pErr.JobID)

	require.NotNil(t, failed)
	assert.Equal(t, domain.JobStatusFailed, failed.Status)
	assert.Contains(t, failed.Error, "downstream exploded")
	assert.Nil(t, failed.Result)
	require.NotNil(t, failed.CompletedAt)

	// FAILED is terminal: redelivery does not retry
	again, err := svc.Process(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, again.Status)
	assert.Equal(t, 1, again.Attempts)
	assert.Equal(t, 1, processor.callCount())
}

func TestProcess_CancelledJob(t *testing.T) {
	store := newFakeStore()
	processor := &fakeProcessor{result: map[string]any{"processed": true}}
	svc := newTestService(store, &fakeDispatcher{}, processor, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)
	_, err = svc.Cancel(context.Background(), job.JobID, "owner")
	require.NoError(t, err)

	got, err := svc.Process(context.Background(), job.JobID)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	assert.Equal(t, 0, got.Attempts)
	assert.Equal(t, 0, processor.callCount())
}

func TestProcess_NotFound(t *testing.T) {
	svc := newTestService(newFakeStore(), &fakeDispatcher{}, &fakeProcessor{}, nil)

	_, err := svc.Process(context.Background(), uuid.New().String())
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestProcess_RaceLosesToConcurrentFinish(t *testing.T) {
	store := newFakeStore()
	processor := &fakeProcessor{result: map[string]any{"processed": true}}
	svc := newTestService(store, &fakeDispatcher{}, processor, nil)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	// A concurrent delivery finishes the job between the idempotency guard
	// and the PROCESSING transition.
	store.beforeTransition = func(jobID, status string) {
		if status != domain.JobStatusProcessing {
			return
		}
		store.beforeTransition = nil
		store.mu.Lock()
		now := time.Now().UTC()
		winner := store.jobs[jobID]
		winner.Status = domain.JobStatusCompleted
		winner.Result = map[string]any{"winner": true}
		winner.CompletedAt = &now
		store.mu.Unlock()
	}

	got, err := svc.Process(context.Background(), job.JobID)

	// The loser resolves to the winner's stored document
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, map[string]any{"winner": true}, got.Result)
	assert.Equal(t, 0, processor.callCount())
}

func TestProcess_WithLocker(t *testing.T) {
	store := newFakeStore()
	processor := &fakeProcessor{result: map[string]any{"processed": true}}
	locker := &fakeLocker{}
	svc := newTestService(store, &fakeDispatcher{}, processor, locker)

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	done, err := svc.Process(context.Background(), job.JobID)

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 1, locker.acquired)
	assert.Equal(t, 1, locker.released)
}

func TestProcess_LockerBusy(t *testing.T) {
	store := newFakeStore()
	processor := &fakeProcessor{result: map[string]any{"processed": true}}
	svc := newTestService(store, &fakeDispatcher{}, processor, &fakeLocker{busy: true})

	job, err := svc.Create(context.Background(), "owner", domain.NewJobFields{Title: "t"})
	require.NoError(t, err)

	_, err = svc.Process(context.Background(), job.JobID)

	// A held claim surfaces as retryable so the delivery is requeued
	require.Error(t, err)
	var rErr *domain.RetryableError
	assert.ErrorAs(t, err, &rErr)
	assert.ErrorIs(t, err, domain.ErrJobLocked)
	assert.Equal(t, 0, processor.callCount())

	stored, err := store.GetByID(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusQueued, stored.Status)
	assert.Equal(t, 0, stored.Attempts)
}

func TestProcess_EndToEnd(t *testing.T) {
	store := newFakeStore()
	dispatcher := &fakeDispatcher{}
	processor := &fakeProcessor{result: map[string]any{"processed": true}}
	svc := newTestService(store, dispatcher, processor, nil)

	created, err := svc.Create(context.Background(), "owner", domain.NewJobFields{
		Title:   "full lifecycle",
		Payload: map[string]any{"input": "value"},
	})
	require.NoError(t, err)
	require.Len(t, dispatcher.calls, 1)

	// The dispatcher callback delivers the scheduled job id
	done, err := svc.Process(context.Background(), dispatcher.calls[0])
	require.NoError(t, err)
	assert.Equal(t, created.JobID, done.JobID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)

	// The owner observes the terminal state through the read path
	got, err := svc.Get(context.Background(), created.JobID, "owner")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, map[string]any{"processed": true}, got.Result)
	assert.Equal(t, 1, got.Attempts)
}
