package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rbailey/tutorialforge/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateEmail = errors.New("email already registered")

// ErrInvalidTransition is returned when a job status write would move the job
// backwards or mutate a terminal job. Status only moves
// pending -> processing -> completed | failed.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)

	// CreateJob inserts a new pending job, including its seed log entry.
	CreateJob(ctx context.Context, job *models.Job) error
	// GetJob returns the job only when it belongs to ownerID. A missing job
	// and a job owned by someone else both return ErrNotFound.
	GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error)
	// ListJobs returns the owner's jobs, newest first.
	ListJobs(ctx context.Context, ownerID uuid.UUID) ([]*models.Job, error)

	// MarkJobProcessing moves a pending job to processing.
	MarkJobProcessing(ctx context.Context, id uuid.UUID) error
	// UpdateJobProgress sets current_step and progress on a processing job and,
	// when entry is non-nil, appends it to the log sequence in the same
	// statement. The write is atomic with respect to concurrent readers.
	UpdateJobProgress(ctx context.Context, id uuid.UUID, step string, progress int, entry *models.LogEntry) error
	// MarkJobCompleted moves a processing job to completed with its result and
	// progress forced to 100.
	MarkJobCompleted(ctx context.Context, id uuid.UUID, result *models.JobResult) error
	// MarkJobFailed moves a processing job to failed with the captured message.
	// Progress is left at its last reported value.
	MarkJobFailed(ctx context.Context, id uuid.UUID, message string) error
}
