package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"avanevis/internal/model"

	"github.com/google/uuid"
)

func newJob(userID uuid.UUID, createdAt time.Time) *model.Job {
	return &model.Job{
		ID:        uuid.New(),
		UserID:    userID,
		Engine:    model.EngineEboo,
		AudioPath: "uploads/test.mp3",
		Status:    model.StatusPending,
		CreatedAt: createdAt,
	}
}

// TestAdmitNextFIFO verifies that admission picks the oldest pending job
// and refuses while another job is processing.
func TestAdmitNextFIFO(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := uuid.New()

	base := time.Now()
	first := newJob(user, base)
	second := newJob(user, base.Add(time.Second))
	// Insert out of order: creation time decides, not insertion order.
	if err := s.Create(ctx, second); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}

	admitted, err := s.AdmitNext(ctx, user)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if admitted == nil || admitted.ID != first.ID {
		t.Fatalf("expected oldest job %s admitted, got %+v", first.ID, admitted)
	}
	if admitted.Status != model.StatusProcessing {
		t.Fatalf("admitted job status = %s, want processing", admitted.Status)
	}
	if admitted.StartedAt == nil {
		t.Fatal("admitted job should have started_at set")
	}

	// Slot is taken: no second admission.
	again, err := s.AdmitNext(ctx, user)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if again != nil {
		t.Fatalf("expected no admission while a job is processing, got %s", again.ID)
	}

	if _, err := s.MarkCompleted(ctx, first.ID, "text"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	next, err := s.AdmitNext(ctx, user)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if next == nil || next.ID != second.ID {
		t.Fatalf("expected %s admitted after completion, got %+v", second.ID, next)
	}
}

// TestAdmitNextTieBreak verifies that equal creation times fall back to
// id ordering.
func TestAdmitNextTieBreak(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := uuid.New()

	at := time.Now()
	a := newJob(user, at)
	b := newJob(user, at)
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.Create(ctx, b); err != nil {
		t.Fatalf("create: %v", err)
	}

	want := a.ID
	if b.ID.String() < a.ID.String() {
		want = b.ID
	}

	admitted, err := s.AdmitNext(ctx, user)
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	if admitted == nil || admitted.ID != want {
		t.Fatalf("expected lowest id %s admitted, got %+v", want, admitted)
	}
}

// TestAdmitNextConcurrent hammers admission from many goroutines and
// checks that only one job is ever admitted for the free slot.
func TestAdmitNextConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := uuid.New()

	for i := 0; i < 5; i++ {
		if err := s.Create(ctx, newJob(user, time.Now().Add(time.Duration(i)*time.Millisecond))); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	var mu sync.Mutex
	var admitted []uuid.UUID
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.AdmitNext(ctx, user)
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if job != nil {
				mu.Lock()
				admitted = append(admitted, job.ID)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(admitted) != 1 {
		t.Fatalf("expected exactly one admission, got %d", len(admitted))
	}
}

// TestTerminalTransitionsAreGuarded verifies that a terminal state is
// never overwritten: the first committed transition wins.
func TestTerminalTransitionsAreGuarded(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := uuid.New()

	job := newJob(user, time.Now())
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AdmitNext(ctx, user); err != nil {
		t.Fatalf("admit: %v", err)
	}

	applied, err := s.MarkCompleted(ctx, job.ID, "the transcript")
	if err != nil || !applied {
		t.Fatalf("complete: applied=%v err=%v", applied, err)
	}

	// A late cancel must not take effect.
	applied, err = s.MarkCancelled(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if applied {
		t.Fatal("cancel applied after completion")
	}

	got, err := s.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if got.Transcript == nil || *got.Transcript != "the transcript" {
		t.Fatal("transcript missing after completion")
	}
	if got.ErrorMessage != nil {
		t.Fatal("error message set on a completed job")
	}
}

// TestCancelPendingOnlyHitsPendingJobs checks the direct
// pending -> cancelled edge and its guard.
func TestCancelPendingOnlyHitsPendingJobs(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := uuid.New()

	job := newJob(user, time.Now())
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := s.CancelPending(ctx, job.ID)
	if err != nil || !applied {
		t.Fatalf("cancel pending: applied=%v err=%v", applied, err)
	}

	got, _ := s.GetByID(ctx, job.ID)
	if got.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}
	if got.FinishedAt == nil {
		t.Fatal("cancelled job should have finished_at set")
	}

	// Guard: a processing job is not touched by CancelPending.
	running := newJob(user, time.Now())
	if err := s.Create(ctx, running); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AdmitNext(ctx, user); err != nil {
		t.Fatalf("admit: %v", err)
	}
	applied, err = s.CancelPending(ctx, running.ID)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if applied {
		t.Fatal("CancelPending applied to a processing job")
	}
}

// TestRequestCancelFlag verifies the cooperative flag lifecycle.
func TestRequestCancelFlag(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := uuid.New()

	job := newJob(user, time.Now())
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Not processing yet: flag request refused.
	applied, err := s.RequestCancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("request cancel: %v", err)
	}
	if applied {
		t.Fatal("RequestCancel applied to a pending job")
	}

	if _, err := s.AdmitNext(ctx, user); err != nil {
		t.Fatalf("admit: %v", err)
	}
	applied, err = s.RequestCancel(ctx, job.ID)
	if err != nil || !applied {
		t.Fatalf("request cancel: applied=%v err=%v", applied, err)
	}

	requested, err := s.CancelRequested(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel requested: %v", err)
	}
	if !requested {
		t.Fatal("cancel flag not visible after RequestCancel")
	}
}

// TestResetOrphaned verifies crash recovery back to pending.
func TestResetOrphaned(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	user := uuid.New()

	job := newJob(user, time.Now())
	if err := s.Create(ctx, job); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.AdmitNext(ctx, user); err != nil {
		t.Fatalf("admit: %v", err)
	}

	n, err := s.ResetOrphaned(ctx)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n != 1 {
		t.Fatalf("reset count = %d, want 1", n)
	}

	got, _ := s.GetByID(ctx, job.ID)
	if got.Status != model.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}

	users, err := s.UsersWithPending(ctx)
	if err != nil {
		t.Fatalf("users with pending: %v", err)
	}
	if len(users) != 1 || users[0] != user {
		t.Fatalf("users with pending = %v, want [%s]", users, user)
	}
}

// TestNotFound verifies the sentinel for unknown ids.
func TestNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetByID(ctx, uuid.New()); err != ErrNotFound {
		t.Fatalf("GetByID err = %v, want ErrNotFound", err)
	}
	if _, err := s.MarkCompleted(ctx, uuid.New(), "x"); err != ErrNotFound {
		t.Fatalf("MarkCompleted err = %v, want ErrNotFound", err)
	}
	if _, err := s.CancelRequested(ctx, uuid.New()); err != ErrNotFound {
		t.Fatalf("CancelRequested err = %v, want ErrNotFound", err)
	}
}
