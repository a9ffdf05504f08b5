package store

import (
	"bytes"
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"avanevis/internal/model"

	"github.com/google/uuid"
)

// MemoryStore keeps job records in memory. Used when DATABASE_URL is
// not configured and by tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*model.Job
}

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*model.Job),
	}
}

// Create persists a new pending job.
func (s *MemoryStore) Create(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

// GetByID retrieves a copy of a job by id.
func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *job
	return &cp, nil
}

// ListByUser retrieves a user's jobs, newest first.
func (s *MemoryStore) ListByUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var jobs []model.Job
	for _, job := range s.jobs {
		if job.UserID == userID {
			jobs = append(jobs, *job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if offset >= len(jobs) {
		return nil, nil
	}
	jobs = jobs[offset:]
	if limit > 0 && limit < len(jobs) {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// AdmitNext transitions the oldest pending job of the user to processing,
// unless the user already has a processing job. The whole check-and-set
// runs under one lock, so two concurrent callers can never both admit.
func (s *MemoryStore) AdmitNext(ctx context.Context, userID uuid.UUID) (*model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *model.Job
	active := 0
	for _, job := range s.jobs {
		if job.UserID != userID {
			continue
		}
		switch job.Status {
		case model.StatusProcessing:
			active++
		case model.StatusPending:
			if oldest == nil || pendingBefore(job, oldest) {
				oldest = job
			}
		}
	}

	if active > 1 {
		log.Printf("[Store] INVARIANT VIOLATION: user %s has %d processing jobs", userID, active)
	}
	if active > 0 || oldest == nil {
		return nil, nil
	}

	now := time.Now()
	oldest.Status = model.StatusProcessing
	oldest.StartedAt = &now

	cp := *oldest
	return &cp, nil
}

// pendingBefore orders pending jobs by creation time, ties broken by id.
func pendingBefore(a, b *model.Job) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// MarkCompleted moves a processing job to completed with its transcript.
func (s *MemoryStore) MarkCompleted(ctx context.Context, id uuid.UUID, transcript string) (bool, error) {
	return s.finish(id, model.StatusCompleted, func(job *model.Job) {
		job.Transcript = &transcript
	})
}

// MarkFailed moves a processing job to failed with an error message.
func (s *MemoryStore) MarkFailed(ctx context.Context, id uuid.UUID, message string) (bool, error) {
	return s.finish(id, model.StatusFailed, func(job *model.Job) {
		job.ErrorMessage = &message
	})
}

// MarkCancelled moves a processing job to cancelled.
func (s *MemoryStore) MarkCancelled(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.finish(id, model.StatusCancelled, nil)
}

// finish applies a processing -> terminal transition if the job is still
// processing. A job that already reached a terminal state wins the race
// and the late writer gets applied=false.
func (s *MemoryStore) finish(id uuid.UUID, to model.Status, set func(*model.Job)) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != model.StatusProcessing || !model.CanTransition(job.Status, to) {
		return false, nil
	}

	now := time.Now()
	job.Status = to
	job.FinishedAt = &now
	if set != nil {
		set(job)
	}
	return true, nil
}

// CancelPending moves a still-pending job straight to cancelled.
func (s *MemoryStore) CancelPending(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != model.StatusPending {
		return false, nil
	}

	now := time.Now()
	job.Status = model.StatusCancelled
	job.FinishedAt = &now
	return true, nil
}

// RequestCancel sets the cooperative cancel flag on a processing job.
func (s *MemoryStore) RequestCancel(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != model.StatusProcessing {
		return false, nil
	}

	job.CancelRequested = true
	return true, nil
}

// CancelRequested reads the cooperative cancel flag.
func (s *MemoryStore) CancelRequested(ctx context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	return job.CancelRequested, nil
}

// ResetOrphaned returns processing jobs to pending.
func (s *MemoryStore) ResetOrphaned(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, job := range s.jobs {
		if job.Status == model.StatusProcessing {
			job.Status = model.StatusPending
			job.StartedAt = nil
			n++
		}
	}
	return n, nil
}

// UsersWithPending lists users that have at least one pending job.
func (s *MemoryStore) UsersWithPending(ctx context.Context) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[uuid.UUID]bool)
	var users []uuid.UUID
	for _, job := range s.jobs {
		if job.Status == model.StatusPending && !seen[job.UserID] {
			seen[job.UserID] = true
			users = append(users, job.UserID)
		}
	}
	return users, nil
}
