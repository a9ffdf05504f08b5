// Package queue implements the per-user serial job queue: admission of
// pending jobs, execution against a transcription engine, and
// cooperative cancellation. The rule it exists to enforce: at most one
// job per user is processing at any time, and a user's jobs start in
// creation order.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"avanevis/internal/model"
	"avanevis/internal/store"

	"github.com/google/uuid"
)

// Controller decides, per user, whether a job starts now or waits, and
// advances the queue when a job finishes. Admission itself is a single
// atomic store operation (store.JobStore.AdmitNext), so concurrent
// enqueues and finish notifications can never start two jobs for the
// same user.
type Controller struct {
	store    store.JobStore
	executor *Executor
	workers  int

	jobs     chan *model.Job
	finished chan uuid.UUID
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// notify, when set, is called after every observable status change
	// (admission and terminal transitions) with a fresh job snapshot.
	notify func(*model.Job)
}

// NewController wires a controller to its store and executor. The
// executor reports completions back through the controller's finished
// channel.
func NewController(st store.JobStore, executor *Executor, workers int) *Controller {
	if workers < 1 {
		workers = 1
	}
	c := &Controller{
		store:    st,
		executor: executor,
		workers:  workers,
		jobs:     make(chan *model.Job, 128),
		finished: make(chan uuid.UUID, 128),
		stop:     make(chan struct{}),
	}
	executor.done = c.signalFinished
	return c
}

// SetNotifier registers a callback for job update broadcasts. Must be
// called before Start.
func (c *Controller) SetNotifier(fn func(*model.Job)) {
	c.notify = fn
	c.executor.notify = fn
}

// Start launches the worker pool and the completion loop, then recovers
// state left over from a previous run: processing rows with no running
// executor go back to pending, and every user with pending work and a
// free slot gets their oldest job admitted.
func (c *Controller) Start(ctx context.Context) error {
	for i := 0; i < c.workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i+1)
		c.wg.Add(1)
		go c.workerLoop(workerID)
	}

	c.wg.Add(1)
	go c.completionLoop()

	if err := c.recover(ctx); err != nil {
		return err
	}

	log.Printf("[Queue] Controller started with %d workers", c.workers)
	return nil
}

// Stop shuts down the worker pool. Jobs already running finish their
// current store transition; nothing new is dispatched.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.wg.Wait()
}

// Enqueue registers interest in starting a freshly created pending job.
// If the user has no processing job, the oldest pending one (normally
// the job just created) is admitted and dispatched; otherwise the job
// simply stays pending until an earlier job finishes.
func (c *Controller) Enqueue(ctx context.Context, job *model.Job) error {
	log.Printf("[Queue] Job %s enqueued for user %s (engine=%s)", job.ID, job.UserID, job.Engine)
	return c.admit(ctx, job.UserID)
}

// OnJobFinished advances the user's queue after a job reached a terminal
// state. Unknown job ids and duplicate notifications are no-ops:
// admission only ever starts a job when the user's slot is actually
// free.
func (c *Controller) OnJobFinished(ctx context.Context, jobID uuid.UUID) error {
	job, err := c.store.GetByID(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up finished job %s: %w", jobID, err)
	}
	return c.admit(ctx, job.UserID)
}

// admit performs the atomic check-and-set for one user and dispatches
// the admitted job, if any.
func (c *Controller) admit(ctx context.Context, userID uuid.UUID) error {
	job, err := c.store.AdmitNext(ctx, userID)
	if err != nil {
		return fmt.Errorf("admission failed for user %s: %w", userID, err)
	}
	if job == nil {
		return nil
	}

	log.Printf("[Queue] Job %s admitted for user %s", job.ID, userID)
	if c.notify != nil {
		c.notify(job)
	}

	select {
	case c.jobs <- job:
	case <-c.stop:
	}
	return nil
}

// signalFinished hands a completion event from the executor to the
// completion loop. Called exactly once per terminal transition, after
// the state change is committed.
func (c *Controller) signalFinished(jobID uuid.UUID) {
	select {
	case c.finished <- jobID:
	case <-c.stop:
	}
}

// completionLoop turns completion events into queue advancement.
func (c *Controller) completionLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case jobID := <-c.finished:
			if err := c.OnJobFinished(context.Background(), jobID); err != nil {
				log.Printf("[Queue] Failed to advance queue after job %s: %v", jobID, err)
			}
		}
	}
}

// workerLoop consumes dispatched jobs. Each job was already transitioned
// to processing by admission; the worker only executes it.
func (c *Controller) workerLoop(workerID string) {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case job := <-c.jobs:
			log.Printf("[Queue] %s picked up job %s", workerID, job.ID)
			c.executor.Run(context.Background(), job)
		}
	}
}

// recover resets orphaned processing rows and re-admits pending work.
func (c *Controller) recover(ctx context.Context) error {
	n, err := c.store.ResetOrphaned(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover orphaned jobs: %w", err)
	}
	if n > 0 {
		log.Printf("[Queue] Recovered %d orphaned processing jobs back to pending", n)
	}

	users, err := c.store.UsersWithPending(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users with pending jobs: %w", err)
	}
	for _, userID := range users {
		if err := c.admit(ctx, userID); err != nil {
			log.Printf("[Queue] Startup admission failed for user %s: %v", userID, err)
		}
	}
	return nil
}
