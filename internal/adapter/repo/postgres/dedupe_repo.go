package postgres

import (
	"fmt"
	"time"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// DedupeRepo tracks webhook deliveries on (source, external_id). Retrying
// webhooks hit the primary key and map to ErrDuplicate.
type DedupeRepo struct{ Pool PgxPool }

// NewDedupeRepo constructs a DedupeRepo with the given pool.
func NewDedupeRepo(p PgxPool) *DedupeRepo { return &DedupeRepo{Pool: p} }

// Register claims (source, externalID) for this delivery.
func (r *DedupeRepo) Register(ctx domain.Context, source, externalID string) error {
	_, err := r.Pool.Exec(ctx,
		`INSERT INTO webhook_dedupe (source, external_id, seen_at) VALUES ($1,$2,now())`, source, externalID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("op=dedupe.register: %w", domain.ErrDuplicate)
		}
		return fmt.Errorf("op=dedupe.register: %w", err)
	}
	return nil
}

// Unregister releases a claim whose ingest did not complete.
func (r *DedupeRepo) Unregister(ctx domain.Context, source, externalID string) error {
	_, err := r.Pool.Exec(ctx,
		`DELETE FROM webhook_dedupe WHERE source=$1 AND external_id=$2`, source, externalID)
	if err != nil {
		return fmt.Errorf("op=dedupe.unregister: %w", err)
	}
	return nil
}

// DeleteOlderThan drops dedupe rows past the retention window. A webhook
// replayed after the window re-ingests; the artifact source_message_id
// lookup upstream still keeps the data consistent.
func (r *DedupeRepo) DeleteOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM webhook_dedupe WHERE seen_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=dedupe.delete: %w", err)
	}
	return tag.RowsAffected(), nil
}
