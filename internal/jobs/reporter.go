package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rbailey/tutorialforge/internal/store"
	"github.com/rbailey/tutorialforge/pkg/models"
)

// Reporter implements ProgressSink on top of the job store. The execution
// unit is the only writer for its job, so Reporter needs no locking of its
// own; the store's single-statement updates keep concurrent readers from
// seeing half-applied progress.
type Reporter struct {
	store store.Store
	jobID uuid.UUID
}

// NewReporter binds a progress sink to one job.
func NewReporter(st store.Store, jobID uuid.UUID) *Reporter {
	return &Reporter{store: st, jobID: jobID}
}

// Report persists the step and progress, appending a log entry when message
// is non-empty. Store failures are logged and swallowed: a flaky progress
// write must not abort the pipeline run.
func (r *Reporter) Report(ctx context.Context, step string, progress int, message string) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}

	var entry *models.LogEntry
	if message != "" {
		entry = &models.LogEntry{
			Timestamp: time.Now().UTC(),
			Level:     models.LogLevelInfo,
			Message:   message,
			Step:      step,
			Progress:  progress,
		}
	}

	if err := r.store.UpdateJobProgress(ctx, r.jobID, step, progress, entry); err != nil {
		slog.Warn("failed to record job progress",
			"job_id", r.jobID,
			"step", step,
			"error", err,
		)
	}
}
