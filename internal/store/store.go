package store

import (
	"context"
	"errors"

	"avanevis/internal/model"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a job id does not exist in the store.
var ErrNotFound = errors.New("job not found")

// JobStore defines durable access to job records. Every status change
// goes through one of the conditional operations below so that a writer
// can never overwrite a terminal state: each operation applies only when
// the job is still in the expected source state and reports whether it
// took effect.
type JobStore interface {
	// Create persists a new pending job.
	Create(ctx context.Context, job *model.Job) error

	// GetByID retrieves a job by id.
	GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error)

	// ListByUser retrieves a user's jobs, newest first, with pagination.
	ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Job, error)

	// AdmitNext is the single serialization point for admission: in one
	// atomic step it checks that the user has no processing job and, if
	// so, transitions the oldest pending job (created_at order, ties by
	// id) to processing. Returns nil, nil when nothing was admitted.
	AdmitNext(ctx context.Context, userID uuid.UUID) (*model.Job, error)

	// MarkCompleted moves a processing job to completed with its transcript.
	MarkCompleted(ctx context.Context, id uuid.UUID, transcript string) (bool, error)

	// MarkFailed moves a processing job to failed with an error message.
	MarkFailed(ctx context.Context, id uuid.UUID, message string) (bool, error)

	// MarkCancelled moves a processing job to cancelled.
	MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error)

	// CancelPending moves a still-pending job straight to cancelled.
	CancelPending(ctx context.Context, id uuid.UUID) (bool, error)

	// RequestCancel sets the cooperative cancel flag on a processing job.
	RequestCancel(ctx context.Context, id uuid.UUID) (bool, error)

	// CancelRequested reads the cooperative cancel flag.
	CancelRequested(ctx context.Context, id uuid.UUID) (bool, error)

	// ResetOrphaned returns processing jobs to pending. Called once at
	// startup: a processing row with no running executor is a leftover
	// from a crash.
	ResetOrphaned(ctx context.Context) (int, error)

	// UsersWithPending lists the users that have at least one pending job.
	UsersWithPending(ctx context.Context) ([]uuid.UUID, error)
}
