package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// MemoryStore is an in-process Store used by tests and the dev stub wiring.
// It mirrors the Postgres store's claim semantics without SKIP LOCKED: the
// mutex serializes claims instead.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: map[string]*Job{}}
}

// Insert stores a new job, enforcing idempotency-key uniqueness among
// non-terminal jobs on the same queue.
func (s *MemoryStore) Insert(_ context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.IdempotencyKey != "" {
		for _, e := range s.jobs {
			if e.Queue == j.Queue && e.IdempotencyKey == j.IdempotencyKey && !terminal(e.State) {
				return fmt.Errorf("op=memstore.insert: %w", domain.ErrDuplicate)
			}
		}
	}
	cp := j
	s.jobs[j.ID] = &cp
	return nil
}

// Get loads a job by id.
func (s *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, fmt.Errorf("op=memstore.get: %w", domain.ErrNotFound)
	}
	return *j, nil
}

// FindActiveByIdemKey returns the non-terminal job holding the key.
func (s *MemoryStore) FindActiveByIdemKey(_ context.Context, queue, key string) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.jobs {
		if j.Queue == queue && j.IdempotencyKey == key && !terminal(j.State) {
			return *j, true, nil
		}
	}
	return Job{}, false, nil
}

// ClaimNext picks the lowest (next_run_at, -priority, id) WAITING job that
// is due and flips it to RUNNING.
func (s *MemoryStore) ClaimNext(_ context.Context, queue, workerID string, now, lockUntil time.Time) (Job, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Job
	for _, j := range s.jobs {
		if j.Queue == queue && j.State == StateWaiting && !j.NextRunAt.After(now) {
			due = append(due, j)
		}
	}
	if len(due) == 0 {
		return Job{}, false, nil
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].NextRunAt.Equal(due[b].NextRunAt) {
			return due[a].NextRunAt.Before(due[b].NextRunAt)
		}
		if due[a].Priority != due[b].Priority {
			return due[a].Priority > due[b].Priority
		}
		return due[a].ID < due[b].ID
	})
	j := due[0]
	j.State = StateRunning
	j.LockedBy = workerID
	j.LockExpiresAt = lockUntil
	j.UpdatedAt = now
	return *j, true, nil
}

// Ack marks a job COMPLETED.
func (s *MemoryStore) Ack(_ context.Context, id string) error {
	return s.update(id, func(j *Job) {
		j.State = StateCompleted
		j.LockedBy = ""
	})
}

// Retry returns the job to WAITING for another attempt.
func (s *MemoryStore) Retry(_ context.Context, id string, attempt int, nextRun time.Time, lastError string) error {
	return s.update(id, func(j *Job) {
		j.State = StateWaiting
		j.Attempt = attempt
		j.NextRunAt = nextRun
		j.LastError = lastError
		j.LockedBy = ""
		j.LockExpiresAt = time.Time{}
	})
}

// Delay returns the job to WAITING at nextRun with the attempt unchanged.
func (s *MemoryStore) Delay(_ context.Context, id string, nextRun time.Time, lastError string) error {
	return s.update(id, func(j *Job) {
		j.State = StateWaiting
		j.NextRunAt = nextRun
		j.LastError = lastError
		j.LockedBy = ""
		j.LockExpiresAt = time.Time{}
	})
}

// DeadLetter parks the job in the DLQ.
func (s *MemoryStore) DeadLetter(_ context.Context, id string, lastError string) error {
	return s.update(id, func(j *Job) {
		j.State = StateDLQ
		j.LastError = lastError
		j.LockedBy = ""
		j.NextRunAt = time.Time{}
	})
}

// ExpiredRunning lists RUNNING jobs with expired locks.
func (s *MemoryStore) ExpiredRunning(_ context.Context, now time.Time, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.State == StateRunning && j.LockExpiresAt.Before(now) {
			out = append(out, *j)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// RetryFromDLQ restores a DLQ job to WAITING with attempt reset.
func (s *MemoryStore) RetryFromDLQ(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("op=memstore.retry_dlq: %w", domain.ErrNotFound)
	}
	if j.State != StateDLQ {
		return fmt.Errorf("op=memstore.retry_dlq: job %s is %s: %w", id, j.State, domain.ErrConflict)
	}
	j.State = StateWaiting
	j.Attempt = 1
	j.NextRunAt = time.Now().UTC()
	j.LastError = ""
	return nil
}

// MoveQueue reassigns all WAITING jobs from one queue to another.
func (s *MemoryStore) MoveQueue(_ context.Context, from, to string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Queue == from && j.State == StateWaiting {
			j.Queue = to
			j.NextRunAt = now
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("op=memstore.update: %w", domain.ErrNotFound)
	}
	fn(j)
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func terminal(st State) bool {
	return st == StateCompleted || st == StateFailed || st == StateDLQ
}
