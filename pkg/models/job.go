package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Log entry severity levels.
const (
	LogLevelInfo  = "INFO"
	LogLevelError = "ERROR"
)

// Job tracks one tutorial generation run. The API returns a job id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{id} until the status
// is completed or failed. Status only ever moves forward:
// pending -> processing -> completed | failed.
type Job struct {
	ID          uuid.UUID  `db:"id"            json:"id"`
	UserID      uuid.UUID  `db:"user_id"       json:"user_id"`
	Status      string     `db:"status"        json:"status"`
	Progress    int        `db:"progress"      json:"progress"`
	CurrentStep *string    `db:"current_step"  json:"current_step,omitempty"`
	Logs        []LogEntry `db:"logs"          json:"logs"`
	Result      *JobResult `db:"result"        json:"result,omitempty"`
	Error       *string    `db:"error_message" json:"error,omitempty"`
	CreatedAt   time.Time  `db:"created_at"    json:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"    json:"updated_at"`
	CompletedAt *time.Time `db:"completed_at"  json:"completed_at,omitempty"`
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// LogEntry is one line of a job's append-only log. Entries are never edited,
// reordered, or dropped once written.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Step      string    `json:"step"`
	Progress  int       `json:"progress"`
}

// JobConfig describes what to generate a tutorial from. Exactly one of
// RepoURL or LocalDir must be set.
type JobConfig struct {
	RepoURL         string   `json:"repo_url,omitempty"`
	LocalDir        string   `json:"local_dir,omitempty"`
	ProjectName     string   `json:"project_name,omitempty"`
	AccessToken     string   `json:"-"`
	IncludePatterns []string `json:"include_patterns,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	MaxFileSize     int      `json:"max_file_size,omitempty"`
	Language        string   `json:"language,omitempty"`
	UseCache        bool     `json:"use_cache,omitempty"`
	MaxChapters     int      `json:"max_chapters,omitempty"`
}

// Source returns the configured content source for log messages.
func (c JobConfig) Source() string {
	if c.RepoURL != "" {
		return c.RepoURL
	}
	return c.LocalDir
}

// JobResult is the payload produced by a completed pipeline run. Chapters are
// markdown documents in reading order.
type JobResult struct {
	ProjectName string   `json:"project_name"`
	Chapters    []string `json:"chapters"`
	OutputDir   string   `json:"output_dir,omitempty"`
}
