package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// OutboxPGStore is the relay's claim surface over the outbox table.
type OutboxPGStore struct {
	Pool PgxPool
	// Lease is how long a claimed row stays invisible to other relays.
	Lease time.Duration
}

// NewOutboxStore constructs an OutboxPGStore with a 1 minute lease.
func NewOutboxStore(p PgxPool) *OutboxPGStore {
	return &OutboxPGStore{Pool: p, Lease: time.Minute}
}

// ClaimBatch leases up to limit undispatched due rows in (artifact_id, id)
// order. A row is claimable only while no earlier undispatched row exists
// for its artifact, so per-artifact dispatch order holds across ticks and
// across relay processes: a failed or leased head keeps its successors out
// of every batch until it is dispatched. SKIP LOCKED keeps concurrent
// relays from colliding on the same head.
func (s *OutboxPGStore) ClaimBatch(ctx domain.Context, limit int) ([]domain.OutboxRow, error) {
	tracer := otel.Tracer("repo.outbox")
	ctx, span := tracer.Start(ctx, "outbox.ClaimBatch")
	defer span.End()

	q := `UPDATE outbox SET locked_until = now() + $2::interval
		WHERE id IN (
			SELECT o.id FROM outbox o
			WHERE o.dispatched = false
			  AND o.next_attempt_at <= now()
			  AND (o.locked_until IS NULL OR o.locked_until < now())
			  AND NOT EXISTS (
				SELECT 1 FROM outbox prior
				WHERE prior.artifact_id = o.artifact_id
				  AND prior.id < o.id
				  AND prior.dispatched = false
			  )
			ORDER BY o.artifact_id, o.id
			LIMIT $1
			FOR UPDATE OF o SKIP LOCKED
		)
		RETURNING id, artifact_id, target, payload, dispatched, attempts, created_at`
	rows, err := s.Pool.Query(ctx, q, limit, s.Lease.String())
	if err != nil {
		return nil, fmt.Errorf("op=outbox.claim: %w", err)
	}
	defer rows.Close()
	var out []domain.OutboxRow
	for rows.Next() {
		var o domain.OutboxRow
		if err := rows.Scan(&o.ID, &o.ArtifactID, &o.Target, &o.Payload, &o.Dispatched, &o.Attempts, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=outbox.claim: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=outbox.claim: %w", err)
	}
	span.SetAttributes(attribute.Int("outbox.claimed", len(out)))
	return out, nil
}

// MarkDispatched finalizes a delivered row.
func (s *OutboxPGStore) MarkDispatched(ctx domain.Context, id int64) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE outbox SET dispatched=true, locked_until=NULL WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("op=outbox.mark_dispatched: %w", err)
	}
	return nil
}

// MarkFailed bumps the attempt counter and reschedules the row.
func (s *OutboxPGStore) MarkFailed(ctx domain.Context, id int64, nextAttempt time.Time) error {
	_, err := s.Pool.Exec(ctx,
		`UPDATE outbox SET attempts = attempts + 1, next_attempt_at=$2, locked_until=NULL WHERE id=$1`, id, nextAttempt)
	if err != nil {
		return fmt.Errorf("op=outbox.mark_failed: %w", err)
	}
	return nil
}
