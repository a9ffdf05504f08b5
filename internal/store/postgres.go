package store

import (
	"context"
	"errors"
	"fmt"

	"avanevis/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists job records in PostgreSQL. Admission relies on
// row locks (SELECT ... FOR UPDATE) so that two concurrent admitters for
// the same user serialize on the database, not on process memory.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given connection pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the jobs table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transcription_jobs (
			id               UUID PRIMARY KEY,
			user_id          UUID NOT NULL,
			title            TEXT,
			engine           TEXT NOT NULL,
			audio_path       TEXT NOT NULL,
			status           TEXT NOT NULL,
			transcript       TEXT,
			error_message    TEXT,
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			created_at       TIMESTAMPTZ NOT NULL,
			started_at       TIMESTAMPTZ,
			finished_at      TIMESTAMPTZ
		);
		CREATE INDEX IF NOT EXISTS idx_transcription_jobs_user_status
			ON transcription_jobs (user_id, status, created_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

const jobColumns = `id, user_id, title, engine, audio_path, status,
	transcript, error_message, cancel_requested, created_at, started_at, finished_at`

// Create persists a new pending job.
func (s *PostgresStore) Create(ctx context.Context, job *model.Job) error {
	query := `
		INSERT INTO transcription_jobs (
			id, user_id, title, engine, audio_path, status,
			cancel_requested, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := s.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Title,
		string(job.Engine),
		job.AudioPath,
		string(job.Status),
		job.CancelRequested,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by id.
func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM transcription_jobs WHERE id = $1`

	job, err := scanJob(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// ListByUser retrieves a user's jobs, newest first, with pagination.
func (s *PostgresStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM transcription_jobs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := s.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return jobs, nil
}

// AdmitNext locks the user's non-terminal rows inside a transaction,
// verifies no job is processing, and promotes the oldest pending one.
func (s *PostgresStore) AdmitNext(ctx context.Context, userID uuid.UUID) (*model.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, status
		FROM transcription_jobs
		WHERE user_id = $1 AND status IN ('pending', 'processing')
		ORDER BY created_at, id
		FOR UPDATE
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to lock user jobs: %w", err)
	}

	var oldestPending uuid.UUID
	havePending := false
	haveProcessing := false
	for rows.Next() {
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan locked job: %w", err)
		}
		switch model.Status(status) {
		case model.StatusProcessing:
			haveProcessing = true
		case model.StatusPending:
			if !havePending {
				oldestPending = id
				havePending = true
			}
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locked jobs: %w", err)
	}

	if haveProcessing || !havePending {
		return nil, nil
	}

	row := tx.QueryRow(ctx, `
		UPDATE transcription_jobs
		SET status = 'processing', started_at = now()
		WHERE id = $1 AND status = 'pending'
		RETURNING `+jobColumns, oldestPending)

	job, err := scanJob(row)
	if err != nil {
		return nil, fmt.Errorf("failed to admit job %s: %w", oldestPending, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit admission: %w", err)
	}
	return job, nil
}

// MarkCompleted moves a processing job to completed with its transcript.
func (s *PostgresStore) MarkCompleted(ctx context.Context, id uuid.UUID, transcript string) (bool, error) {
	return s.conditional(ctx, id, `
		UPDATE transcription_jobs
		SET status = 'completed', transcript = $2, finished_at = now()
		WHERE id = $1 AND status = 'processing'
	`, transcript)
}

// MarkFailed moves a processing job to failed with an error message.
func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	return s.conditional(ctx, id, `
		UPDATE transcription_jobs
		SET status = 'failed', error_message = $2, finished_at = now()
		WHERE id = $1 AND status = 'processing'
	`, message)
}

// MarkCancelled moves a processing job to cancelled.
func (s *PostgresStore) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.conditional(ctx, id, `
		UPDATE transcription_jobs
		SET status = 'cancelled', finished_at = now()
		WHERE id = $1 AND status = 'processing'
	`)
}

// CancelPending moves a still-pending job straight to cancelled.
func (s *PostgresStore) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.conditional(ctx, id, `
		UPDATE transcription_jobs
		SET status = 'cancelled', finished_at = now()
		WHERE id = $1 AND status = 'pending'
	`)
}

// RequestCancel sets the cooperative cancel flag on a processing job.
func (s *PostgresStore) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.conditional(ctx, id, `
		UPDATE transcription_jobs
		SET cancel_requested = TRUE
		WHERE id = $1 AND status = 'processing'
	`)
}

// CancelRequested reads the cooperative cancel flag.
func (s *PostgresStore) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM transcription_jobs WHERE id = $1`, id,
	).Scan(&requested)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag: %w", err)
	}
	return requested, nil
}

// ResetOrphaned returns processing jobs to pending.
func (s *PostgresStore) ResetOrphaned(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transcription_jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing'
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset orphaned jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// UsersWithPending lists users that have at least one pending job.
func (s *PostgresStore) UsersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT user_id FROM transcription_jobs WHERE status = 'pending'
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending users: %w", err)
	}
	defer rows.Close()

	var users []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		users = append(users, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating users: %w", err)
	}
	return users, nil
}

// conditional runs a guarded single-row update and reports whether it
// applied. A miss on an existing row means the guard failed (the row
// already moved on), which is not an error.
func (s *PostgresStore) conditional(ctx context.Context, id uuid.UUID, query string, args ...any) (bool, error) {
	allArgs := append([]any{id}, args...)
	tag, err := s.pool.Exec(ctx, query, allArgs...)
	if err != nil {
		return false, fmt.Errorf("failed to update job %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM transcription_jobs WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check job %s: %w", id, err)
	}
	if !exists {
		return false, ErrNotFound
	}
	return false, nil
}

// scanJob reads one job row in jobColumns order.
func scanJob(row pgx.Row) (*model.Job, error) {
	var job model.Job
	var engine, status string

	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Title,
		&engine,
		&job.AudioPath,
		&status,
		&job.Transcript,
		&job.ErrorMessage,
		&job.CancelRequested,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		return nil, err
	}

	job.Engine = model.EngineName(engine)
	job.Status = model.Status(status)
	return &job, nil
}
