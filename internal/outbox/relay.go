// Package outbox drains the transactional outbox. Side effects recorded by
// the broadcast stage are committed with business state in one transaction;
// the relay is the only component that performs the actual delivery, so a
// crash between commit and send never loses a notification, it only delays
// it. Delivery is therefore at-least-once and consumers dedupe on payload id.
package outbox

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/observability"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 2 * time.Second

	// Reschedule bounds for a row whose delivery keeps failing. Rows are
	// retried indefinitely; the outbox has no dead letter.
	retryBase = 5 * time.Second
	retryCap  = 10 * time.Minute
)

// Relay polls the outbox and delivers claimed rows through the Notifier.
type Relay struct {
	store    domain.OutboxStore
	notifier domain.Notifier

	batchSize    int
	pollInterval time.Duration
	sendTimeout  time.Duration
	clock        func() time.Time
}

// Option customizes a Relay.
type Option func(*Relay)

// WithBatchSize overrides the claim batch size.
func WithBatchSize(n int) Option { return func(r *Relay) { r.batchSize = n } }

// WithPollInterval overrides the poll cadence.
func WithPollInterval(d time.Duration) Option { return func(r *Relay) { r.pollInterval = d } }

// WithSendTimeout bounds the in-process retry window per row.
func WithSendTimeout(d time.Duration) Option { return func(r *Relay) { r.sendTimeout = d } }

// WithClock injects a time source; tests only.
func WithClock(fn func() time.Time) Option { return func(r *Relay) { r.clock = fn } }

// NewRelay constructs a Relay.
func NewRelay(store domain.OutboxStore, notifier domain.Notifier, opts ...Option) *Relay {
	r := &Relay{
		store:        store,
		notifier:     notifier,
		batchSize:    defaultBatchSize,
		pollInterval: defaultPollInterval,
		sendTimeout:  15 * time.Second,
		clock:        func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx domain.Context) {
	slog.Info("outbox relay started",
		slog.Int("batch_size", r.batchSize),
		slog.Duration("poll_interval", r.pollInterval))
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Tick(ctx); err != nil {
				slog.Error("outbox tick failed", slog.Any("error", err))
			}
		}
	}
}

// Tick claims one batch and dispatches it. Rows are delivered in claim order;
// when a row fails, later rows of the same artifact are skipped this tick so
// per-artifact ordering holds. Returns the number of rows dispatched.
func (r *Relay) Tick(ctx domain.Context) (int, error) {
	tracer := otel.Tracer("outbox")
	ctx, span := tracer.Start(ctx, "outbox.Tick")
	defer span.End()

	rows, err := r.store.ClaimBatch(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("op=outbox.tick: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("outbox.claimed", len(rows)))

	dispatched := 0
	blocked := map[string]bool{}
	for _, row := range rows {
		if blocked[row.ArtifactID] {
			r.reschedule(ctx, row)
			continue
		}
		if err := r.send(ctx, row); err != nil {
			observability.OutboxDispatchFailures.Inc()
			slog.Warn("outbox dispatch failed",
				slog.Int64("outbox_id", row.ID),
				slog.String("artifact_id", row.ArtifactID),
				slog.String("target", row.Target),
				slog.Int("attempts", row.Attempts+1),
				slog.Any("error", err))
			blocked[row.ArtifactID] = true
			r.reschedule(ctx, row)
			continue
		}
		if err := r.store.MarkDispatched(ctx, row.ID); err != nil {
			// The send succeeded but the mark did not; the row will be
			// redelivered after the lease expires. Acceptable under
			// at-least-once.
			slog.Error("outbox mark-dispatched failed",
				slog.Int64("outbox_id", row.ID), slog.Any("error", err))
			continue
		}
		observability.OutboxDispatchedTotal.Inc()
		dispatched++
	}
	return dispatched, nil
}

// send delivers one row, absorbing short transient blips in-process before
// giving up and handing the row back to the scheduler.
func (r *Relay) send(ctx domain.Context, row domain.OutboxRow) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = r.sendTimeout
	return backoff.Retry(func() error {
		return r.notifier.Send(ctx, row.Target, row.Payload)
	}, backoff.WithContext(bo, ctx))
}

func (r *Relay) reschedule(ctx domain.Context, row domain.OutboxRow) {
	next := r.clock().Add(retryDelay(row.Attempts + 1))
	if err := r.store.MarkFailed(ctx, row.ID, next); err != nil {
		slog.Error("outbox mark-failed failed",
			slog.Int64("outbox_id", row.ID), slog.Any("error", err))
	}
}

// retryDelay grows exponentially with the attempt count, capped.
func retryDelay(attempt int) time.Duration {
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= retryCap {
			return retryCap
		}
	}
	if d > retryCap {
		return retryCap
	}
	return d
}
