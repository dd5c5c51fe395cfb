package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/observability"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// ProcessorOpts bounds one queue's processing within this process.
type ProcessorOpts struct {
	Concurrency int
	JobTimeout  time.Duration
	Backoff     Backoff
	// OnExhausted runs after the final attempt fails and the job is parked
	// in the DLQ.
	OnExhausted ExhaustedFunc
}

type processor struct {
	queue string
	fn    Handler
	opts  ProcessorOpts
	slots *semaphore.Weighted
}

// Runner claims jobs and drives registered handlers. One Runner per process;
// several processes may compete for the same queues through the shared Store.
type Runner struct {
	store        Store
	workerID     string
	pollInterval time.Duration
	now          func() time.Time

	mu         sync.Mutex
	processors map[string]*processor
	wg         sync.WaitGroup
}

// NewRunner constructs a Runner identified by workerID.
func NewRunner(store Store, workerID string) *Runner {
	return &Runner{
		store:        store,
		workerID:     workerID,
		pollInterval: 250 * time.Millisecond,
		now:          func() time.Time { return time.Now().UTC() },
		processors:   map[string]*processor{},
	}
}

// WithPollInterval overrides the idle poll cadence.
func (r *Runner) WithPollInterval(d time.Duration) *Runner {
	r.pollInterval = d
	return r
}

// WithClock overrides the clock; tests only.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// RegisterProcessor binds a handler to a queue. Exactly one handler per
// queue per process.
func (r *Runner) RegisterProcessor(queueName string, fn Handler, opts ProcessorOpts) error {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Minute
	}
	if opts.Backoff.Base == 0 {
		opts.Backoff = NewBackoff(0, 0)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.processors[queueName]; exists {
		return fmt.Errorf("op=queue.register: processor already bound for queue %q", queueName)
	}
	r.processors[queueName] = &processor{
		queue: queueName,
		fn:    fn,
		opts:  opts,
		slots: semaphore.NewWeighted(int64(opts.Concurrency)),
	}
	return nil
}

// Run polls all registered queues until ctx is cancelled, then waits for
// in-flight jobs to finish.
func (r *Runner) Run(ctx context.Context) {
	r.mu.Lock()
	procs := make([]*processor, 0, len(r.processors))
	for _, p := range r.processors {
		procs = append(procs, p)
	}
	r.mu.Unlock()

	for _, p := range procs {
		r.wg.Add(1)
		go func(p *processor) {
			defer r.wg.Done()
			r.pollLoop(ctx, p)
		}(p)
	}
	<-ctx.Done()
	r.wg.Wait()
}

func (r *Runner) pollLoop(ctx context.Context, p *processor) {
	slog.Info("queue processor started",
		slog.String("queue", p.queue),
		slog.Int("concurrency", p.opts.Concurrency),
		slog.Duration("job_timeout", p.opts.JobTimeout))
	for {
		if err := p.slots.Acquire(ctx, 1); err != nil {
			return
		}
		j, ok, err := r.claim(ctx, p)
		if err != nil || !ok {
			p.slots.Release(1)
			if err != nil {
				slog.Error("claim failed", slog.String("queue", p.queue), slog.Any("error", err))
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.pollInterval):
			}
			continue
		}
		r.wg.Add(1)
		go func(j Job) {
			defer r.wg.Done()
			defer p.slots.Release(1)
			r.execute(ctx, p, j)
		}(j)
	}
}

func (r *Runner) claim(ctx context.Context, p *processor) (Job, bool, error) {
	now := r.now()
	return r.store.ClaimNext(ctx, p.queue, r.workerID, now, now.Add(p.opts.JobTimeout))
}

// execute runs one claimed job to ack, retry or DLQ. The handler gets a
// deadline equal to the job timeout; cancellation is advisory, correctness
// comes from lock expiry plus handler idempotency.
func (r *Runner) execute(ctx context.Context, p *processor, j Job) {
	observability.JobsRunning.WithLabelValues(p.queue).Inc()
	defer observability.JobsRunning.WithLabelValues(p.queue).Dec()

	jobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.opts.JobTimeout)
	defer cancel()

	err := p.fn(jobCtx, j)
	if err == nil {
		if ackErr := r.store.Ack(context.WithoutCancel(ctx), j.ID); ackErr != nil {
			slog.Error("ack failed; job will be reaped and re-run",
				slog.String("queue", p.queue), slog.String("job_id", j.ID), slog.Any("error", ackErr))
			return
		}
		observability.JobsCompletedTotal.WithLabelValues(p.queue).Inc()
		return
	}
	r.nack(context.WithoutCancel(ctx), p, j, err)
}

func (r *Runner) nack(ctx context.Context, p *processor, j Job, cause error) {
	// A rate-limited job never reached its provider; reschedule it after the
	// bucket refills with the attempt counter untouched.
	var rl *domain.RateLimitedError
	if errors.As(cause, &rl) {
		next := r.now().Add(rl.RetryAfter)
		if err := r.store.Delay(ctx, j.ID, next, cause.Error()); err != nil {
			slog.Error("rate-limit delay failed",
				slog.String("queue", p.queue), slog.String("job_id", j.ID), slog.Any("error", err))
			return
		}
		observability.JobsDelayedTotal.WithLabelValues(p.queue).Inc()
		slog.Info("job delayed for rate limit",
			slog.String("queue", p.queue),
			slog.String("job_id", j.ID),
			slog.String("limiter_key", rl.Key),
			slog.Duration("retry_after", rl.RetryAfter))
		return
	}
	if j.Attempt < j.MaxAttempts {
		delay := p.opts.Backoff.Delay(j.Attempt)
		next := r.now().Add(delay)
		if err := r.store.Retry(ctx, j.ID, j.Attempt+1, next, cause.Error()); err != nil {
			slog.Error("retry scheduling failed",
				slog.String("queue", p.queue), slog.String("job_id", j.ID), slog.Any("error", err))
			return
		}
		observability.JobsRetriedTotal.WithLabelValues(p.queue).Inc()
		slog.Warn("job retry scheduled",
			slog.String("queue", p.queue),
			slog.String("job_id", j.ID),
			slog.Int("attempt", j.Attempt),
			slog.Duration("delay", delay),
			slog.Any("error", cause))
		return
	}
	if err := r.store.DeadLetter(ctx, j.ID, cause.Error()); err != nil {
		slog.Error("dead-letter failed",
			slog.String("queue", p.queue), slog.String("job_id", j.ID), slog.Any("error", err))
		return
	}
	observability.JobsDeadLetteredTotal.WithLabelValues(p.queue).Inc()
	slog.Error("job exhausted attempts, parked in DLQ",
		slog.String("queue", p.queue),
		slog.String("job_id", j.ID),
		slog.Int("attempts", j.Attempt),
		slog.Any("error", cause))
	if p.opts.OnExhausted != nil {
		p.opts.OnExhausted(ctx, j, cause)
	}
}

// Reap sweeps RUNNING jobs whose lock expired and nacks them as crashed
// workers. Returns the number of jobs reclaimed.
func (r *Runner) Reap(ctx context.Context) (int, error) {
	expired, err := r.store.ExpiredRunning(ctx, r.now(), 100)
	if err != nil {
		return 0, fmt.Errorf("op=queue.reap: %w", err)
	}
	for _, j := range expired {
		p := r.processorFor(j.Queue)
		if p == nil {
			// Not ours to handle; another process owns this queue.
			continue
		}
		observability.JobsReapedTotal.WithLabelValues(j.Queue).Inc()
		r.nack(ctx, p, j, fmt.Errorf("lock expired"))
	}
	return len(expired), nil
}

// RunReaper ticks Reap until ctx is cancelled.
func (r *Runner) RunReaper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := r.Reap(ctx); err != nil {
				slog.Error("reaper sweep failed", slog.Any("error", err))
			}
		}
	}
}

func (r *Runner) processorFor(queueName string) *processor {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.processors[queueName]
}
