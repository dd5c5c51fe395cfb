package postgres

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// CreditRepo enforces per-retailer credit limits. Retailers without a
// credit row are unlimited; a row caps the sum of outstanding reservations.
type CreditRepo struct{ Pool PgxPool }

// NewCreditRepo constructs a CreditRepo with the given pool.
func NewCreditRepo(p PgxPool) *CreditRepo { return &CreditRepo{Pool: p} }

// CheckAndReserve atomically reserves amount against the retailer's limit.
// The single UPDATE both checks and claims, so concurrent reservations
// cannot oversubscribe the limit.
func (r *CreditRepo) CheckAndReserve(ctx domain.Context, retailerID string, amount float64) error {
	tracer := otel.Tracer("repo.credit")
	ctx, span := tracer.Start(ctx, "credit.CheckAndReserve")
	defer span.End()
	span.SetAttributes(
		attribute.String("retailer.id", retailerID),
		attribute.Float64("credit.amount", amount),
	)

	if amount < 0 {
		return fmt.Errorf("op=credit.reserve: %w: negative amount", domain.ErrInvalidArgument)
	}
	tag, err := r.Pool.Exec(ctx, `
		UPDATE retailer_credit
		SET reserved = reserved + $2, updated_at = now()
		WHERE retailer_id = $1 AND reserved + $2 <= credit_limit`,
		retailerID, amount)
	if err != nil {
		return fmt.Errorf("op=credit.reserve: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	err = r.Pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM retailer_credit WHERE retailer_id = $1)`, retailerID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("op=credit.reserve: %w", err)
	}
	if !exists {
		// No credit row means the retailer is not credit-managed.
		return nil
	}
	return fmt.Errorf("op=credit.reserve: %w: retailer %s over limit by request of %.2f",
		domain.ErrCreditRejected, retailerID, amount)
}

// Release returns a reservation, floored at zero, for cancelled or failed
// orders.
func (r *CreditRepo) Release(ctx domain.Context, retailerID string, amount float64) error {
	if amount < 0 {
		return fmt.Errorf("op=credit.release: %w: negative amount", domain.ErrInvalidArgument)
	}
	_, err := r.Pool.Exec(ctx, `
		UPDATE retailer_credit
		SET reserved = GREATEST(reserved - $2, 0), updated_at = now()
		WHERE retailer_id = $1`,
		retailerID, amount)
	if err != nil {
		return fmt.Errorf("op=credit.release: %w", err)
	}
	return nil
}
