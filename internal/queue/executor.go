package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"avanevis/internal/engine"
	"avanevis/internal/model"
	"avanevis/internal/store"

	"github.com/google/uuid"
)

// TranscriptCleaner post-processes a successful transcript. Optional;
// failures are logged and the raw transcript is kept.
type TranscriptCleaner interface {
	Clean(ctx context.Context, transcript string) (string, error)
}

// Executor runs one admitted job against its engine and commits exactly
// one terminal transition. Cancellation is cooperative: a watcher polls
// the job's cancel flag and aborts the engine call through its context;
// the engine is never killed mid-write by anything stronger.
type Executor struct {
	store      store.JobStore
	engines    *engine.Registry
	cleaner    TranscriptCleaner
	timeout    time.Duration
	cancelPoll time.Duration

	// notify broadcasts job updates; done reports the finished job id to
	// the controller. Both are set during wiring.
	notify func(*model.Job)
	done   func(uuid.UUID)
}

// NewExecutor creates an executor. cleaner may be nil.
func NewExecutor(st store.JobStore, engines *engine.Registry, cleaner TranscriptCleaner, timeout, cancelPoll time.Duration) *Executor {
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	if cancelPoll <= 0 {
		cancelPoll = 2 * time.Second
	}
	return &Executor{
		store:      st,
		engines:    engines,
		cleaner:    cleaner,
		timeout:    timeout,
		cancelPoll: cancelPoll,
	}
}

// Run executes a job that admission already transitioned to processing.
// Whatever happens, the job ends in exactly one terminal state and the
// controller is notified exactly once, after that state is committed.
func (e *Executor) Run(ctx context.Context, job *model.Job) {
	defer e.done(job.ID)

	// A cancel request may have arrived while the job sat in the
	// dispatch channel. Check before touching the provider at all.
	if requested, err := e.store.CancelRequested(ctx, job.ID); err == nil && requested {
		e.finishCancelled(ctx, job)
		return
	}

	eng, err := e.engines.Get(job.Engine)
	if err != nil {
		e.finishFailed(ctx, job, fmt.Sprintf("unsupported engine %q", job.Engine))
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var cancelSeen atomic.Bool
	watcherDone := make(chan struct{})
	go e.watchCancel(runCtx, job.ID, &cancelSeen, cancel, watcherDone)

	result, err := eng.Transcribe(runCtx, job.AudioPath)
	cancel()
	<-watcherDone

	if err != nil {
		// If the provider already returned a result the job completes
		// normally even when a cancel request raced in; only an aborted
		// call becomes cancelled.
		if cancelSeen.Load() {
			e.finishCancelled(ctx, job)
			return
		}
		message := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			message = fmt.Sprintf("transcription timed out after %s", e.timeout)
		}
		e.finishFailed(ctx, job, message)
		return
	}

	text := result.Text
	if e.cleaner != nil && text != "" {
		cleanCtx, cleanCancel := context.WithTimeout(ctx, time.Minute)
		cleaned, cerr := e.cleaner.Clean(cleanCtx, text)
		cleanCancel()
		if cerr != nil {
			log.Printf("[Executor] Transcript cleanup failed for job %s, keeping raw text: %v", job.ID, cerr)
		} else if cleaned != "" {
			text = cleaned
		}
	}

	e.finishCompleted(ctx, job, text)
}

// watchCancel polls the cooperative cancel flag while the engine call is
// in flight and aborts it through the context when the flag is set.
func (e *Executor) watchCancel(ctx context.Context, jobID uuid.UUID, seen *atomic.Bool, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(e.cancelPoll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			requested, err := e.store.CancelRequested(ctx, jobID)
			if err != nil {
				continue
			}
			if requested {
				log.Printf("[Executor] Cancel requested for job %s, aborting engine call", jobID)
				seen.Store(true)
				cancel()
				return
			}
		}
	}
}

func (e *Executor) finishCompleted(ctx context.Context, job *model.Job, transcript string) {
	applied, err := e.store.MarkCompleted(ctx, job.ID, transcript)
	e.logFinish(job, model.StatusCompleted, applied, err)
}

func (e *Executor) finishFailed(ctx context.Context, job *model.Job, message string) {
	applied, err := e.store.MarkFailed(ctx, job.ID, message)
	e.logFinish(job, model.StatusFailed, applied, err)
	if applied {
		log.Printf("[Executor] Job %s failed: %s", job.ID, message)
	}
}

func (e *Executor) finishCancelled(ctx context.Context, job *model.Job) {
	applied, err := e.store.MarkCancelled(ctx, job.ID)
	e.logFinish(job, model.StatusCancelled, applied, err)
}

// logFinish reports the terminal transition and broadcasts the update.
// A storage error here is the one failure the executor cannot convert
// into job state; it is logged loudly for operator attention.
func (e *Executor) logFinish(job *model.Job, to model.Status, applied bool, err error) {
	if err != nil {
		log.Printf("[Executor] CRITICAL: failed to commit %s for job %s: %v", to, job.ID, err)
		return
	}
	if !applied {
		log.Printf("[Executor] Job %s already terminal, %s transition skipped", job.ID, to)
		return
	}

	log.Printf("[Executor] Job %s -> %s", job.ID, to)
	if e.notify != nil {
		if fresh, gerr := e.store.GetByID(context.Background(), job.ID); gerr == nil {
			e.notify(fresh)
		}
	}
}
