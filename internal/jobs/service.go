// Package jobs orchestrates tutorial generation: it owns the job lifecycle,
// dispatches execution units onto the worker pool, and answers status and
// artifact queries scoped to the job's owner.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/rbailey/tutorialforge/internal/cache"
	"github.com/rbailey/tutorialforge/internal/pool"
	"github.com/rbailey/tutorialforge/internal/render"
	"github.com/rbailey/tutorialforge/internal/store"
	"github.com/rbailey/tutorialforge/pkg/models"
)

var ErrInvalidConfig = errors.New("job config must name a repo_url or local_dir source")
var ErrTooBusy = errors.New("all workers are busy, try again later")
var ErrNotReady = errors.New("job is not completed yet")
var ErrNoContent = errors.New("job result has no tutorial content")
var ErrUnsupportedFormat = errors.New("unsupported artifact format")

// snapshotTTL bounds how long a terminal job snapshot is served from cache.
const snapshotTTL = 30 * time.Minute

const (
	defaultMaxFileSize = 100_000
	defaultLanguage    = "english"
	defaultMaxChapters = 10
)

// Service is the job controller. API handlers call it synchronously; the
// execution units it dispatches run on the worker pool and are the sole
// writers of their job's mutable state.
type Service struct {
	store    store.Store
	cache    cache.Cache
	pool     *pool.Pool
	pipeline Pipeline
	timeout  time.Duration
}

// NewService creates the job controller. timeout bounds a single pipeline
// run; zero means no limit.
func NewService(st store.Store, ca cache.Cache, p *pool.Pool, pl Pipeline, timeout time.Duration) *Service {
	return &Service{
		store:    st,
		cache:    ca,
		pool:     p,
		pipeline: pl,
		timeout:  timeout,
	}
}

// Create validates the config, persists a pending job with its seed log
// entry, and hands an execution unit to the worker pool. It returns as soon
// as the job is queued, never waiting for execution.
//
// Pool capacity is claimed before the record is written: a saturated pool
// rejects the request with ErrTooBusy and no job exists afterwards, and a
// failed insert releases the claimed slot through the gate. The unit starts
// only after its record is durably pending.
func (s *Service) Create(ctx context.Context, owner uuid.UUID, cfg models.JobConfig) (*models.Job, error) {
	if cfg.RepoURL == "" && cfg.LocalDir == "" {
		return nil, ErrInvalidConfig
	}
	applyDefaults(&cfg)

	now := time.Now().UTC()
	job := &models.Job{
		ID:       uuid.New(),
		UserID:   owner,
		Status:   models.JobStatusPending,
		Progress: 0,
		Logs: []models.LogEntry{{
			Timestamp: now,
			Level:     models.LogLevelInfo,
			Message:   fmt.Sprintf("Job created for source: %s", cfg.Source()),
			Step:      "Initializing",
			Progress:  0,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}

	gate := make(chan bool, 1)
	handle, err := s.pool.Submit(func(runCtx context.Context) error {
		if !<-gate {
			return nil
		}
		return s.execute(runCtx, job.ID, cfg)
	})
	if errors.Is(err, pool.ErrQueueFull) || errors.Is(err, pool.ErrClosed) {
		return nil, ErrTooBusy
	}
	if err != nil {
		return nil, fmt.Errorf("submit job: %w", err)
	}

	if err := s.store.CreateJob(ctx, job); err != nil {
		gate <- false
		return nil, fmt.Errorf("persist job: %w", err)
	}
	gate <- true

	go s.observe(job.ID, handle)

	slog.Info("job created", "job_id", job.ID, "owner", owner, "source", cfg.Source())
	return job, nil
}

// GetStatus returns a full, consistent snapshot of the job. A job that does
// not exist and a job owned by someone else are both ErrNotFound, so callers
// cannot discover other users' job ids. Terminal jobs are immutable and are
// served from cache once seen.
func (s *Service) GetStatus(ctx context.Context, id uuid.UUID, owner uuid.UUID) (*models.Job, error) {
	key := cache.JobSnapshotKey(owner, id)
	if data, ok, err := s.cache.Get(ctx, key); err == nil && ok {
		var job models.Job
		if err := json.Unmarshal(data, &job); err == nil {
			return &job, nil
		}
	}

	job, err := s.store.GetJob(ctx, id, owner)
	if err != nil {
		return nil, err
	}

	if job.Terminal() {
		if data, err := json.Marshal(job); err == nil {
			_ = s.cache.Set(ctx, key, data, snapshotTTL)
		}
	}
	return job, nil
}

// List returns the owner's jobs, newest first.
func (s *Service) List(ctx context.Context, owner uuid.UUID) ([]*models.Job, error) {
	return s.store.ListJobs(ctx, owner)
}

// GetArtifact renders a completed job's result into the requested format.
// Ownership follows the same NotFound rule as GetStatus; a job that is not
// yet terminal returns ErrNotReady, never a partial document.
func (s *Service) GetArtifact(ctx context.Context, id uuid.UUID, owner uuid.UUID, format string) (*render.Artifact, error) {
	if format != "html" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	job, err := s.GetStatus(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusCompleted {
		return nil, ErrNotReady
	}
	if job.Result == nil || len(job.Result.Chapters) == 0 {
		return nil, ErrNoContent
	}

	artifact, err := render.HTML(job)
	if err != nil {
		return nil, fmt.Errorf("render artifact: %w", err)
	}
	return artifact, nil
}

// execute is the execution unit: it is the sole writer of the job's mutable
// fields from the moment it marks the job processing until it writes the
// terminal state. A pipeline failure is not a unit failure — it is captured
// into the job record and execute returns nil; only faults that leave the
// job in doubt are returned to the pool handle.
func (s *Service) execute(ctx context.Context, jobID uuid.UUID, cfg models.JobConfig) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic in job execution",
				"job_id", jobID,
				"error", r,
				"stack", string(debug.Stack()),
			)
			s.fail(jobID, fmt.Sprintf("internal fault: %v", r))
			err = fmt.Errorf("job %s panicked: %v", jobID, r)
		}
	}()

	if err := s.store.MarkJobProcessing(ctx, jobID); err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	result, perr := s.pipeline.Run(runCtx, cfg, NewReporter(s.store, jobID))
	if perr != nil {
		s.fail(jobID, perr.Error())
		return nil
	}
	if result == nil {
		s.fail(jobID, "pipeline returned no result")
		return nil
	}

	if err := s.store.MarkJobCompleted(ctx, jobID, result); err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	return nil
}

// fail writes the terminal failed state. Progress is deliberately left at
// its last reported value so callers can see how far the job got.
func (s *Service) fail(jobID uuid.UUID, message string) {
	if err := s.store.MarkJobFailed(context.Background(), jobID, message); err != nil {
		slog.Error("failed to mark job failed", "job_id", jobID, "error", err)
	}
}

// observe drains the unit's completion handle so faults are logged rather
// than silently dropped. If the unit returned an error without reaching a
// terminal write, a best-effort failed state is recorded; the store's
// transition guard makes this a no-op when a terminal state already landed.
func (s *Service) observe(jobID uuid.UUID, handle <-chan error) {
	err := <-handle
	if err == nil {
		slog.Info("job unit finished", "job_id", jobID)
		return
	}
	slog.Error("job unit failed", "job_id", jobID, "error", err)
	if ferr := s.store.MarkJobFailed(context.Background(), jobID, err.Error()); ferr != nil &&
		!errors.Is(ferr, store.ErrInvalidTransition) && !errors.Is(ferr, store.ErrNotFound) {
		slog.Error("failed to mark job failed", "job_id", jobID, "error", ferr)
	}
}

func applyDefaults(cfg *models.JobConfig) {
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = defaultMaxFileSize
	}
	if cfg.Language == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.MaxChapters <= 0 {
		cfg.MaxChapters = defaultMaxChapters
	}
}
