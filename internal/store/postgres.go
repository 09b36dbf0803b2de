package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rbailey/tutorialforge/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
//
// Jobs are stored as a single row each, with the log sequence as a jsonb
// array column. Log appends use `logs = logs || new_entry` inside one UPDATE,
// so readers always see a consistent record. Status writes are guarded by the
// current status in the WHERE clause, which is what enforces the forward-only
// transition rule against any out-of-order writer.
type PostgresStore struct {
	pool Pool
}

// Pool is the subset of pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO users (id, email, full_name, password_hash, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		user.ID, user.Email, user.FullName, user.PasswordHash, user.IsActive,
		user.CreatedAt, user.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, full_name, password_hash, is_active, created_at, updated_at
		 FROM users WHERE email = $1`, email,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, full_name, password_hash, is_active, created_at, updated_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return &u, nil
}

// --- Jobs ---

const jobColumns = `id, user_id, status, progress, current_step, logs, result, error_message,
	 created_at, updated_at, completed_at`

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	logs, err := json.Marshal(job.Logs)
	if err != nil {
		return fmt.Errorf("marshal job logs: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, status, progress, current_step, logs, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		job.ID, job.UserID, job.Status, job.Progress, job.CurrentStep, logs,
		job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, ownerID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, ownerID uuid.UUID) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) MarkJobProcessing(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = $3
		 WHERE id = $1 AND status = $4`,
		id, models.JobStatusProcessing, time.Now().UTC(), models.JobStatusPending)
	if err != nil {
		return fmt.Errorf("mark job processing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *PostgresStore) UpdateJobProgress(ctx context.Context, id uuid.UUID, step string, progress int, entry *models.LogEntry) error {
	var (
		tag pgconn.CommandTag
		err error
	)
	now := time.Now().UTC()
	if entry != nil {
		data, merr := json.Marshal(entry)
		if merr != nil {
			return fmt.Errorf("marshal log entry: %w", merr)
		}
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET current_step = $2, progress = $3, logs = logs || $4::jsonb, updated_at = $5
			 WHERE id = $1 AND status = $6`,
			id, step, progress, data, now, models.JobStatusProcessing)
	} else {
		tag, err = s.pool.Exec(ctx,
			`UPDATE jobs SET current_step = $2, progress = $3, updated_at = $4
			 WHERE id = $1 AND status = $5`,
			id, step, progress, now, models.JobStatusProcessing)
	}
	if err != nil {
		return fmt.Errorf("update job progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *PostgresStore) MarkJobCompleted(ctx context.Context, id uuid.UUID, result *models.JobResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal job result: %w", err)
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, progress = 100, result = $3, completed_at = $4, updated_at = $4
		 WHERE id = $1 AND status = $5`,
		id, models.JobStatusCompleted, data, now, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

func (s *PostgresStore) MarkJobFailed(ctx context.Context, id uuid.UUID, message string) error {
	now := time.Now().UTC()
	entry, err := json.Marshal(models.LogEntry{
		Timestamp: now,
		Level:     models.LogLevelError,
		Message:   message,
		Step:      "Failed",
	})
	if err != nil {
		return fmt.Errorf("marshal log entry: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, logs = logs || $4::jsonb, completed_at = $5, updated_at = $5
		 WHERE id = $1 AND status = $6`,
		id, models.JobStatusFailed, message, entry, now, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("mark job failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id)
	}
	return nil
}

// transitionError distinguishes a missing job from a status guard miss after
// a zero-row UPDATE.
func (s *PostgresStore) transitionError(ctx context.Context, id uuid.UUID) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: job is %s", ErrInvalidTransition, status)
}

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j       models.Job
		logsRaw []byte
		resRaw  []byte
	)
	err := row.Scan(&j.ID, &j.UserID, &j.Status, &j.Progress, &j.CurrentStep,
		&logsRaw, &resRaw, &j.Error, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(logsRaw, &j.Logs); err != nil {
		return nil, fmt.Errorf("unmarshal job logs: %w", err)
	}
	if resRaw != nil {
		j.Result = &models.JobResult{}
		if err := json.Unmarshal(resRaw, j.Result); err != nil {
			return nil, fmt.Errorf("unmarshal job result: %w", err)
		}
	}
	return &j, nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
