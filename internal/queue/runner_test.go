package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/queue"
)

func runUntil(t *testing.T, r *queue.Runner, cond func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	deadline := time.After(5 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			cancel()
			<-done
			t.Fatal("condition not reached before deadline")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestRunner_ProcessesAndAcks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := queue.New(store)
	r := queue.NewRunner(store, "w1").WithPollInterval(5 * time.Millisecond)

	var got atomic.Int32
	require.NoError(t, r.RegisterProcessor("ingestion", func(_ context.Context, j queue.Job) error {
		got.Add(1)
		return nil
	}, queue.ProcessorOpts{Concurrency: 2, JobTimeout: time.Second}))

	id, err := q.Enqueue(ctx, "ingestion", []byte("x"), queue.EnqueueOpts{})
	require.NoError(t, err)

	runUntil(t, r, func() bool {
		j, err := store.Get(ctx, id)
		return err == nil && j.State == queue.StateCompleted
	})
	assert.Equal(t, int32(1), got.Load())
}

func TestRunner_RetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := queue.New(store)
	r := queue.NewRunner(store, "w1").WithPollInterval(5 * time.Millisecond)

	var calls atomic.Int32
	require.NoError(t, r.RegisterProcessor("ingestion", func(_ context.Context, j queue.Job) error {
		if calls.Add(1) < 3 {
			return errors.New("provider unavailable")
		}
		return nil
	}, queue.ProcessorOpts{
		Concurrency: 1,
		JobTimeout:  time.Second,
		Backoff:     queue.NewBackoff(time.Millisecond, 2*time.Millisecond),
	}))

	id, err := q.Enqueue(ctx, "ingestion", nil, queue.EnqueueOpts{MaxAttempts: 5})
	require.NoError(t, err)

	runUntil(t, r, func() bool {
		j, err := store.Get(ctx, id)
		return err == nil && j.State == queue.StateCompleted
	})
	assert.Equal(t, int32(3), calls.Load())

	j, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, j.Attempt)
	assert.LessOrEqual(t, j.Attempt, j.MaxAttempts)
}

func TestRunner_ExhaustedGoesToDLQ(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := queue.New(store)
	r := queue.NewRunner(store, "w1").WithPollInterval(5 * time.Millisecond)

	var exhausted atomic.Int32
	var lastErr error
	var mu sync.Mutex
	require.NoError(t, r.RegisterProcessor("ingestion", func(_ context.Context, j queue.Job) error {
		return errors.New("malformed output")
	}, queue.ProcessorOpts{
		Concurrency: 1,
		JobTimeout:  time.Second,
		Backoff:     queue.NewBackoff(time.Millisecond, 2*time.Millisecond),
		OnExhausted: func(_ context.Context, j queue.Job, err error) {
			mu.Lock()
			lastErr = err
			mu.Unlock()
			exhausted.Add(1)
		},
	}))

	id, err := q.Enqueue(ctx, "ingestion", nil, queue.EnqueueOpts{MaxAttempts: 2})
	require.NoError(t, err)

	runUntil(t, r, func() bool {
		j, err := store.Get(ctx, id)
		return err == nil && j.State == queue.StateDLQ
	})
	assert.Equal(t, int32(1), exhausted.Load())
	mu.Lock()
	assert.ErrorContains(t, lastErr, "malformed output")
	mu.Unlock()

	j, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Contains(t, j.LastError, "malformed output")
	assert.True(t, j.NextRunAt.IsZero(), "DLQ jobs are never scheduled")
}

func TestRunner_RateLimitedDelaysWithoutChargingAttempt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := queue.New(store)
	r := queue.NewRunner(store, "w1").WithPollInterval(time.Millisecond)

	var calls atomic.Int32
	require.NoError(t, r.RegisterProcessor("ingestion", func(context.Context, queue.Job) error {
		if calls.Add(1) == 1 {
			return fmt.Errorf("op=ocr.extract: %w",
				&domain.RateLimitedError{Key: "ocr", RetryAfter: 5 * time.Millisecond})
		}
		return nil
	}, queue.ProcessorOpts{
		Concurrency: 1,
		JobTimeout:  time.Second,
		Backoff:     queue.NewBackoff(time.Millisecond, 2*time.Millisecond),
	}))

	// With MaxAttempts 1 any charged attempt would dead-letter the job on
	// its first failure; completing on the second claim proves the delay
	// path left the counter alone.
	id, err := q.Enqueue(ctx, "ingestion", nil, queue.EnqueueOpts{MaxAttempts: 1})
	require.NoError(t, err)

	runUntil(t, r, func() bool {
		j, err := store.Get(ctx, id)
		return err == nil && j.State == queue.StateCompleted
	})
	assert.Equal(t, int32(2), calls.Load())

	j, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, j.Attempt)
}

func TestRunner_RejectsDuplicateProcessor(t *testing.T) {
	t.Parallel()
	r := queue.NewRunner(queue.NewMemoryStore(), "w1")
	noop := func(context.Context, queue.Job) error { return nil }
	require.NoError(t, r.RegisterProcessor("q", noop, queue.ProcessorOpts{}))
	require.Error(t, r.RegisterProcessor("q", noop, queue.ProcessorOpts{}))
}

func TestRunner_ReapReclaimsExpiredLocks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := queue.New(store)

	id, err := q.Enqueue(ctx, "ingestion", nil, queue.EnqueueOpts{MaxAttempts: 3})
	require.NoError(t, err)

	// Simulate a crashed worker: claim with an already-expired lock.
	now := time.Now().UTC()
	_, ok, err := store.ClaimNext(ctx, "ingestion", "dead-worker", now, now.Add(-time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	r := queue.NewRunner(store, "w2")
	require.NoError(t, r.RegisterProcessor("ingestion", func(context.Context, queue.Job) error { return nil },
		queue.ProcessorOpts{Backoff: queue.NewBackoff(time.Millisecond, time.Millisecond)}))

	n, err := r.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	j, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, j.State)
	assert.Equal(t, 2, j.Attempt)
	assert.Contains(t, j.LastError, "lock expired")
}

func TestRunner_ConcurrencyBound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := queue.NewMemoryStore()
	q := queue.New(store)
	r := queue.NewRunner(store, "w1").WithPollInterval(time.Millisecond)

	var inFlight, peak atomic.Int32
	var done atomic.Int32
	require.NoError(t, r.RegisterProcessor("ingestion", func(_ context.Context, j queue.Job) error {
		cur := inFlight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil
	}, queue.ProcessorOpts{Concurrency: 2, JobTimeout: time.Second}))

	for i := 0; i < 6; i++ {
		_, err := q.Enqueue(ctx, "ingestion", nil, queue.EnqueueOpts{})
		require.NoError(t, err)
	}
	runUntil(t, r, func() bool { return done.Load() == 6 })
	assert.LessOrEqual(t, peak.Load(), int32(2))
}
