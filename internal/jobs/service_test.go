package jobs_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rbailey/tutorialforge/internal/jobs"
	"github.com/rbailey/tutorialforge/internal/pool"
	"github.com/rbailey/tutorialforge/internal/store"
	"github.com/rbailey/tutorialforge/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── in-memory store ─────────────────────────────────────────────────────────

type fakeStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *fakeStore) Ping(_ context.Context) error { return nil }

func (s *fakeStore) CreateUser(_ context.Context, _ *models.User) error { return nil }
func (s *fakeStore) GetUserByEmail(_ context.Context, _ string) (*models.User, error) {
	return nil, store.ErrNotFound
}
func (s *fakeStore) GetUserByID(_ context.Context, _ uuid.UUID) (*models.User, error) {
	return nil, store.ErrNotFound
}

func (s *fakeStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	cp := *job
	cp.Logs = append([]models.LogEntry(nil), job.Logs...)
	s.jobs[job.ID] = &cp
	return nil
}

func (s *fakeStore) GetJob(_ context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.UserID != ownerID {
		return nil, store.ErrNotFound
	}
	cp := *j
	cp.Logs = append([]models.LogEntry(nil), j.Logs...)
	return &cp, nil
}

func (s *fakeStore) ListJobs(_ context.Context, ownerID uuid.UUID) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.UserID == ownerID {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkJobProcessing(_ context.Context, id uuid.UUID) error {
	return s.transition(id, models.JobStatusPending, func(j *models.Job) {
		j.Status = models.JobStatusProcessing
	})
}

func (s *fakeStore) UpdateJobProgress(_ context.Context, id uuid.UUID, step string, progress int, entry *models.LogEntry) error {
	return s.transition(id, models.JobStatusProcessing, func(j *models.Job) {
		j.CurrentStep = &step
		j.Progress = progress
		if entry != nil {
			j.Logs = append(j.Logs, *entry)
		}
	})
}

func (s *fakeStore) MarkJobCompleted(_ context.Context, id uuid.UUID, result *models.JobResult) error {
	return s.transition(id, models.JobStatusProcessing, func(j *models.Job) {
		now := time.Now().UTC()
		j.Status = models.JobStatusCompleted
		j.Progress = 100
		j.Result = result
		j.CompletedAt = &now
	})
}

func (s *fakeStore) MarkJobFailed(_ context.Context, id uuid.UUID, message string) error {
	return s.transition(id, models.JobStatusProcessing, func(j *models.Job) {
		now := time.Now().UTC()
		j.Status = models.JobStatusFailed
		j.Error = &message
		j.CompletedAt = &now
		j.Logs = append(j.Logs, models.LogEntry{
			Timestamp: now,
			Level:     models.LogLevelError,
			Message:   message,
			Step:      "Failed",
			Progress:  j.Progress,
		})
	})
}

func (s *fakeStore) transition(id uuid.UUID, from string, apply func(*models.Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != from {
		return store.ErrInvalidTransition
	}
	apply(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

var _ store.Store = (*fakeStore)(nil)

// ─── in-memory cache ─────────────────────────────────────────────────────────

type fakeCache struct {
	mu      sync.Mutex
	entries map[string][]byte
	sets    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Ping(_ context.Context) error { return nil }

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = value
	c.sets++
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok, nil
}

func (c *fakeCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// ─── pipelines ───────────────────────────────────────────────────────────────

type pipelineFunc func(ctx context.Context, cfg models.JobConfig, sink jobs.ProgressSink) (*models.JobResult, error)

func (f pipelineFunc) Run(ctx context.Context, cfg models.JobConfig, sink jobs.ProgressSink) (*models.JobResult, error) {
	return f(ctx, cfg, sink)
}

func okPipeline() pipelineFunc {
	return func(ctx context.Context, cfg models.JobConfig, sink jobs.ProgressSink) (*models.JobResult, error) {
		sink.Report(ctx, "Scanning source files", 20, "Found 3 files")
		sink.Report(ctx, "Writing chapters", 60, "")
		return &models.JobResult{
			ProjectName: cfg.ProjectName,
			Chapters:    []string{"# Chapter 1: Overview\n"},
		}, nil
	}
}

// ─── helpers ─────────────────────────────────────────────────────────────────

func newService(t *testing.T, st store.Store, pl jobs.Pipeline, workers, queue int) (*jobs.Service, *fakeCache) {
	t.Helper()
	p := pool.New(workers, queue)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(ctx)
	})
	c := newFakeCache()
	return jobs.NewService(st, c, p, pl, time.Minute), c
}

func waitForStatus(t *testing.T, svc *jobs.Service, id, owner uuid.UUID, status string) *models.Job {
	t.Helper()
	var got *models.Job
	require.Eventually(t, func() bool {
		j, err := svc.GetStatus(context.Background(), id, owner)
		if err != nil {
			return false
		}
		got = j
		return j.Status == status
	}, 5*time.Second, 10*time.Millisecond)
	return got
}

// ─── tests ───────────────────────────────────────────────────────────────────

func TestService_CreateReturnsPendingJob(t *testing.T) {
	st := newFakeStore()
	block := make(chan struct{})
	defer close(block)
	svc, _ := newService(t, st, pipelineFunc(func(ctx context.Context, _ models.JobConfig, _ jobs.ProgressSink) (*models.JobResult, error) {
		<-block
		return &models.JobResult{Chapters: []string{"x"}}, nil
	}), 1, 1)

	owner := uuid.New()
	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)

	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)
	assert.Equal(t, owner, job.UserID)
	require.Len(t, job.Logs, 1)
	assert.Contains(t, job.Logs[0].Message, "demo")

	// The record is durably visible before execution finishes
	got, err := svc.GetStatus(context.Background(), job.ID, owner)
	require.NoError(t, err)
	assert.NotEqual(t, models.JobStatusCompleted, got.Status)
}

func TestService_CreateRejectsEmptyConfig(t *testing.T) {
	st := newFakeStore()
	svc, _ := newService(t, st, okPipeline(), 1, 1)

	_, err := svc.Create(context.Background(), uuid.New(), models.JobConfig{})
	assert.ErrorIs(t, err, jobs.ErrInvalidConfig)
	assert.Equal(t, 0, st.count())
}

func TestService_JobCompletes(t *testing.T) {
	st := newFakeStore()
	svc, _ := newService(t, st, okPipeline(), 1, 1)
	owner := uuid.New()

	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo", ProjectName: "demo"})
	require.NoError(t, err)

	got := waitForStatus(t, svc, job.ID, owner, models.JobStatusCompleted)
	assert.Equal(t, 100, got.Progress)
	require.NotNil(t, got.Result)
	assert.Equal(t, "demo", got.Result.ProjectName)
	require.NotNil(t, got.CompletedAt)

	// Seed entry plus the one with a message; the empty-message report
	// advances progress without logging.
	require.Len(t, got.Logs, 2)
	assert.Equal(t, "Found 3 files", got.Logs[1].Message)
}

func TestService_PipelineFailureIsCaptured(t *testing.T) {
	st := newFakeStore()
	svc, _ := newService(t, st, pipelineFunc(func(ctx context.Context, _ models.JobConfig, sink jobs.ProgressSink) (*models.JobResult, error) {
		sink.Report(ctx, "Scanning source files", 40, "")
		return nil, errors.New("repository unreachable")
	}), 1, 1)
	owner := uuid.New()

	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)

	got := waitForStatus(t, svc, job.ID, owner, models.JobStatusFailed)
	require.NotNil(t, got.Error)
	assert.Equal(t, "repository unreachable", *got.Error)
	assert.Equal(t, 40, got.Progress, "failure must not reset progress")
	require.NotNil(t, got.CompletedAt)

	last := got.Logs[len(got.Logs)-1]
	assert.Equal(t, models.LogLevelError, last.Level)
}

func TestService_PanicIsContained(t *testing.T) {
	st := newFakeStore()
	svc, _ := newService(t, st, pipelineFunc(func(_ context.Context, _ models.JobConfig, _ jobs.ProgressSink) (*models.JobResult, error) {
		panic("pipeline bug")
	}), 1, 1)
	owner := uuid.New()

	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)

	got := waitForStatus(t, svc, job.ID, owner, models.JobStatusFailed)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "pipeline bug")

	// The worker survives and runs the next job
	job2, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)
	waitForStatus(t, svc, job2.ID, owner, models.JobStatusFailed)
}

func TestService_SaturationRejectsWithoutRecord(t *testing.T) {
	st := newFakeStore()
	block := make(chan struct{})
	defer close(block)
	svc, _ := newService(t, st, pipelineFunc(func(_ context.Context, _ models.JobConfig, _ jobs.ProgressSink) (*models.JobResult, error) {
		<-block
		return &models.JobResult{Chapters: []string{"x"}}, nil
	}), 1, 1)
	owner := uuid.New()

	// One running, one queued; the third has nowhere to go
	first, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "a"})
	require.NoError(t, err)
	waitForStatus(t, svc, first.ID, owner, models.JobStatusProcessing)

	_, err = svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "b"})
	require.NoError(t, err)

	_, err = svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "c"})
	assert.ErrorIs(t, err, jobs.ErrTooBusy)

	assert.Equal(t, 2, st.count(), "a rejected request must not leave a job behind")
}

func TestService_InsertFailureReleasesSlot(t *testing.T) {
	st := newFakeStore()
	st.createErr = errors.New("database down")
	svc, _ := newService(t, st, okPipeline(), 1, 1)

	_, err := svc.Create(context.Background(), uuid.New(), models.JobConfig{LocalDir: "demo"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, jobs.ErrTooBusy))

	// The claimed pool slot was released: once the store recovers,
	// submissions go through again.
	st.createErr = nil
	owner := uuid.New()
	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)
	waitForStatus(t, svc, job.ID, owner, models.JobStatusCompleted)
}

func TestService_GetStatusScopesByOwner(t *testing.T) {
	st := newFakeStore()
	svc, _ := newService(t, st, okPipeline(), 1, 1)
	owner := uuid.New()

	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)

	_, err = svc.GetStatus(context.Background(), job.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_TerminalSnapshotIsCached(t *testing.T) {
	st := newFakeStore()
	svc, ca := newService(t, st, okPipeline(), 1, 1)
	owner := uuid.New()

	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)
	waitForStatus(t, svc, job.ID, owner, models.JobStatusCompleted)

	ca.mu.Lock()
	sets := ca.sets
	ca.mu.Unlock()
	require.GreaterOrEqual(t, sets, 1, "terminal snapshot should be cached")

	// Served from cache even after the backing row disappears
	st.mu.Lock()
	delete(st.jobs, job.ID)
	st.mu.Unlock()

	got, err := svc.GetStatus(context.Background(), job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)

	// The cache key is owner-scoped: another user still gets NotFound
	_, err = svc.GetStatus(context.Background(), job.ID, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_GetArtifact(t *testing.T) {
	st := newFakeStore()
	svc, _ := newService(t, st, okPipeline(), 1, 1)
	owner := uuid.New()

	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo", ProjectName: "demo"})
	require.NoError(t, err)
	waitForStatus(t, svc, job.ID, owner, models.JobStatusCompleted)

	artifact, err := svc.GetArtifact(context.Background(), job.ID, owner, "html")
	require.NoError(t, err)
	assert.Equal(t, "text/html; charset=utf-8", artifact.ContentType)
	assert.Contains(t, artifact.Filename, job.ID.String())
	assert.Contains(t, string(artifact.Data), "Chapter 1")
}

func TestService_GetArtifactErrors(t *testing.T) {
	st := newFakeStore()
	block := make(chan struct{})
	defer close(block)
	svc, _ := newService(t, st, pipelineFunc(func(_ context.Context, _ models.JobConfig, _ jobs.ProgressSink) (*models.JobResult, error) {
		<-block
		return &models.JobResult{Chapters: []string{"x"}}, nil
	}), 1, 1)
	owner := uuid.New()

	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)

	_, err = svc.GetArtifact(context.Background(), job.ID, owner, "pdf")
	assert.ErrorIs(t, err, jobs.ErrUnsupportedFormat)

	_, err = svc.GetArtifact(context.Background(), job.ID, owner, "html")
	assert.ErrorIs(t, err, jobs.ErrNotReady)

	_, err = svc.GetArtifact(context.Background(), uuid.New(), owner, "html")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestService_GetArtifactNoContent(t *testing.T) {
	st := newFakeStore()
	svc, _ := newService(t, st, pipelineFunc(func(_ context.Context, _ models.JobConfig, _ jobs.ProgressSink) (*models.JobResult, error) {
		return &models.JobResult{ProjectName: "empty"}, nil
	}), 1, 1)
	owner := uuid.New()

	job, err := svc.Create(context.Background(), owner, models.JobConfig{LocalDir: "demo"})
	require.NoError(t, err)
	waitForStatus(t, svc, job.ID, owner, models.JobStatusCompleted)

	_, err = svc.GetArtifact(context.Background(), job.ID, owner, "html")
	assert.ErrorIs(t, err, jobs.ErrNoContent)
}

func TestReporter_ClampsProgress(t *testing.T) {
	st := newFakeStore()
	now := time.Now().UTC()
	job := &models.Job{ID: uuid.New(), UserID: uuid.New(), Status: models.JobStatusPending, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, st.CreateJob(context.Background(), job))
	require.NoError(t, st.MarkJobProcessing(context.Background(), job.ID))

	r := jobs.NewReporter(st, job.ID)
	r.Report(context.Background(), "step", 150, "over")
	got, err := st.GetJob(context.Background(), job.ID, job.UserID)
	require.NoError(t, err)
	assert.Equal(t, 100, got.Progress)

	r.Report(context.Background(), "step", -5, "under")
	got, err = st.GetJob(context.Background(), job.ID, job.UserID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}
