package queue

import (
	"context"
	"fmt"
	"log"

	"avanevis/internal/model"
	"avanevis/internal/store"

	"github.com/google/uuid"
)

// Coordinator implements safe delete: cancelling a job without killing
// the process running it. Pending jobs are cancelled on the spot;
// processing jobs only get the cooperative flag set and finish whenever
// the executor next observes it. Between the request and that check the
// provider call may still complete normally — that race is accepted, the
// first committed terminal state wins.
type Coordinator struct {
	store store.JobStore
	ctrl  *Controller
}

// NewCoordinator creates a cancellation coordinator.
func NewCoordinator(st store.JobStore, ctrl *Controller) *Coordinator {
	return &Coordinator{store: st, ctrl: ctrl}
}

// Cancel requests cancellation of a job and returns its state afterwards.
// Cancelling an already-terminal job is a no-op, not an error; only an
// unknown id is reported as store.ErrNotFound.
func (c *Coordinator) Cancel(ctx context.Context, jobID uuid.UUID) (*model.Job, error) {
	job, err := c.store.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}

	switch job.Status {
	case model.StatusPending:
		applied, err := c.store.CancelPending(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("failed to cancel pending job %s: %w", jobID, err)
		}
		if applied {
			log.Printf("[Cancel] Pending job %s cancelled before it ever ran", jobID)
			c.ctrl.signalFinished(jobID)
			break
		}
		// The job was admitted between the read and the update; fall
		// back to the cooperative path.
		fallthrough

	case model.StatusProcessing:
		if _, err := c.store.RequestCancel(ctx, jobID); err != nil {
			return nil, fmt.Errorf("failed to request cancel for job %s: %w", jobID, err)
		}
		log.Printf("[Cancel] Cancel requested for running job %s", jobID)

	default:
		// Already terminal: nothing to do.
	}

	return c.store.GetByID(ctx, jobID)
}
