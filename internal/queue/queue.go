package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/observability"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// Queue is the enqueue-side facade over a Store.
type Queue struct {
	store Store
	now   func() time.Time
}

// New constructs a Queue over the given store.
func New(store Store) *Queue {
	return &Queue{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock; tests only.
func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

// Enqueue inserts a job. When opts.IdempotencyKey collides with an existing
// non-terminal job on the same queue the call is a no-op returning the
// existing id. Storage failure is returned loudly; work is never dropped
// silently.
func (q *Queue) Enqueue(ctx context.Context, queueName string, payload []byte, opts EnqueueOpts) (string, error) {
	if opts.IdempotencyKey != "" {
		if j, ok, err := q.store.FindActiveByIdemKey(ctx, queueName, opts.IdempotencyKey); err != nil {
			return "", fmt.Errorf("op=queue.enqueue: %w", err)
		} else if ok {
			return j.ID, nil
		}
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	now := q.now()
	j := Job{
		ID:             uuid.New().String(),
		Queue:          queueName,
		Payload:        payload,
		IdempotencyKey: opts.IdempotencyKey,
		State:          StateWaiting,
		Attempt:        1,
		MaxAttempts:    maxAttempts,
		Priority:       opts.Priority,
		NextRunAt:      now.Add(opts.Delay),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := q.store.Insert(ctx, j); err != nil {
		if errors.Is(err, domain.ErrDuplicate) && opts.IdempotencyKey != "" {
			// Lost the insert race; the winner's job is the canonical one.
			if existing, ok, ferr := q.store.FindActiveByIdemKey(ctx, queueName, opts.IdempotencyKey); ferr == nil && ok {
				return existing.ID, nil
			}
		}
		return "", fmt.Errorf("op=queue.enqueue: %w", err)
	}
	observability.JobsEnqueuedTotal.WithLabelValues(queueName).Inc()
	slog.Debug("job enqueued",
		slog.String("queue", queueName),
		slog.String("job_id", j.ID),
		slog.Int("max_attempts", maxAttempts))
	return j.ID, nil
}

// RetryFromDLQ is the explicit admin operation returning a DLQ job to
// WAITING with attempt = 1.
func (q *Queue) RetryFromDLQ(ctx context.Context, jobID string) error {
	if err := q.store.RetryFromDLQ(ctx, jobID); err != nil {
		return fmt.Errorf("op=queue.retry_from_dlq: %w", err)
	}
	slog.Info("job restored from DLQ", slog.String("job_id", jobID))
	return nil
}

// Get loads a job by id.
func (q *Queue) Get(ctx context.Context, jobID string) (Job, error) {
	j, err := q.store.Get(ctx, jobID)
	if err != nil {
		return Job{}, fmt.Errorf("op=queue.get: %w", err)
	}
	return j, nil
}

// DrainInto moves every WAITING job from one queue to another; used when
// the safe-mode gate clears to resume deferred ingestion.
func (q *Queue) DrainInto(ctx context.Context, from, to string) (int64, error) {
	n, err := q.store.MoveQueue(ctx, from, to, q.now())
	if err != nil {
		return 0, fmt.Errorf("op=queue.drain: %w", err)
	}
	if n > 0 {
		slog.Info("drained deferred jobs", slog.String("from", from), slog.String("to", to), slog.Int64("moved", n))
	}
	return n, nil
}
