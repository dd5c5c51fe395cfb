// Package queue implements the durable background-job substrate: FIFO-ish
// delivery with at-least-once semantics, exponential-backoff retry, a
// dead-letter queue and idempotent enqueue keys. Storage is behind the Store
// port; the Postgres implementation claims jobs with SKIP LOCKED so that
// multiple processes can compete for the same queue.
package queue

import (
	"context"
	"time"
)

// State enumerates job lifecycle states.
type State string

const (
	StateWaiting   State = "WAITING"
	StateRunning   State = "RUNNING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateDLQ       State = "DLQ"
)

// Job is one queue element.
type Job struct {
	ID             string
	Queue          string
	Payload        []byte
	IdempotencyKey string
	State          State
	Attempt        int // 1-based
	MaxAttempts    int
	Priority       int
	NextRunAt      time.Time
	LockedBy       string
	LockExpiresAt  time.Time
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// EnqueueOpts tunes a single enqueue call.
type EnqueueOpts struct {
	IdempotencyKey string
	Delay          time.Duration
	MaxAttempts    int
	Priority       int
}

// Store is the durable backing of the substrate.
type Store interface {
	Insert(ctx context.Context, j Job) error
	Get(ctx context.Context, id string) (Job, error)
	// FindActiveByIdemKey returns the non-terminal job holding the key on
	// the queue, if any.
	FindActiveByIdemKey(ctx context.Context, queue, key string) (Job, bool, error)
	// ClaimNext atomically flips the lowest (next_run_at, -priority)
	// WAITING job whose next_run_at <= now to RUNNING.
	ClaimNext(ctx context.Context, queue, workerID string, now, lockUntil time.Time) (Job, bool, error)
	Ack(ctx context.Context, id string) error
	// Retry returns the job to WAITING with a bumped attempt counter.
	Retry(ctx context.Context, id string, attempt int, nextRun time.Time, lastError string) error
	// Delay returns the job to WAITING at nextRun without charging an
	// attempt. Used when a provider rate limit deferred the work before
	// any call was made.
	Delay(ctx context.Context, id string, nextRun time.Time, lastError string) error
	DeadLetter(ctx context.Context, id string, lastError string) error
	// ExpiredRunning lists RUNNING jobs whose lock expired before now.
	ExpiredRunning(ctx context.Context, now time.Time, limit int) ([]Job, error)
	// RetryFromDLQ returns a DLQ job to WAITING with attempt reset to 1.
	RetryFromDLQ(ctx context.Context, id string) error
	// MoveQueue reassigns all WAITING jobs from one queue to another and
	// returns the count moved. Used to drain the deferred queue.
	MoveQueue(ctx context.Context, from, to string, now time.Time) (int64, error)
}

// Handler processes one job. A returned error is treated as transient and
// re-scheduled with backoff until attempts run out; handlers deal with
// permanent failures themselves and return nil.
type Handler func(ctx context.Context, j Job) error

// ExhaustedFunc runs when a job exhausts its attempts and moves to the DLQ.
type ExhaustedFunc func(ctx context.Context, j Job, lastErr error)
