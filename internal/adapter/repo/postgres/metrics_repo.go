package postgres

import (
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// MetricsRepo persists per-vendor performance rows. Apply serializes on the
// vendor row via SELECT FOR UPDATE and is idempotent on event id through the
// vendor_metric_events ledger.
type MetricsRepo struct{ Pool PgxPool }

// NewMetricsRepo constructs a MetricsRepo with the given pool.
func NewMetricsRepo(p PgxPool) *MetricsRepo { return &MetricsRepo{Pool: p} }

const metricsColumns = `vendor_id, reliability_score, acceptance_rate, delivery_success_rate,
	avg_response_seconds, cancellation_rate, price_vs_market_percent,
	assigned_n, responded_n, accepted_n, delivered_n, delivered_ok_n, cancelled_by_vend_n,
	response_time_sum_s, samples_n, last_updated`

func scanMetrics(row interface{ Scan(...any) error }) (domain.VendorMetrics, error) {
	var m domain.VendorMetrics
	err := row.Scan(&m.VendorID, &m.ReliabilityScore, &m.AcceptanceRate, &m.DeliverySuccessRate,
		&m.AvgResponseSeconds, &m.CancellationRate, &m.PriceVsMarketPercent,
		&m.AssignedN, &m.RespondedN, &m.AcceptedN, &m.DeliveredN, &m.DeliveredOKN, &m.CancelledByVendN,
		&m.ResponseTimeSumS, &m.SamplesN, &m.LastUpdated)
	return m, err
}

// Get loads the stored metrics row for a vendor.
func (r *MetricsRepo) Get(ctx domain.Context, vendorID string) (domain.VendorMetrics, error) {
	tracer := otel.Tracer("repo.metrics")
	ctx, span := tracer.Start(ctx, "metrics.Get")
	defer span.End()

	q := `SELECT ` + metricsColumns + ` FROM vendor_metrics WHERE vendor_id=$1`
	m, err := scanMetrics(r.Pool.QueryRow(ctx, q, vendorID))
	if err != nil {
		if notFound(err) {
			return domain.VendorMetrics{}, fmt.Errorf("op=metrics.get: %w", domain.ErrNotFound)
		}
		return domain.VendorMetrics{}, fmt.Errorf("op=metrics.get: %w", err)
	}
	return m, nil
}

// Apply folds one event into the vendor row inside a single transaction:
// record the event id, lock the row, run fn, persist the result plus a
// history sample. A previously seen event id commits nothing and reports
// applied=false.
func (r *MetricsRepo) Apply(ctx domain.Context, vendorID, eventID string, fn func(m *domain.VendorMetrics) error) (bool, error) {
	tracer := otel.Tracer("repo.metrics")
	ctx, span := tracer.Start(ctx, "metrics.Apply")
	defer span.End()
	span.SetAttributes(attribute.String("vendor.id", vendorID))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("op=metrics.apply: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`INSERT INTO vendor_metric_events (event_id, vendor_id, applied_at) VALUES ($1,$2,now())
		 ON CONFLICT (event_id) DO NOTHING`, eventID, vendorID)
	if err != nil {
		return false, fmt.Errorf("op=metrics.apply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	m, err := scanMetrics(tx.QueryRow(ctx,
		`SELECT `+metricsColumns+` FROM vendor_metrics WHERE vendor_id=$1 FOR UPDATE`, vendorID))
	if err != nil {
		if !notFound(err) {
			return false, fmt.Errorf("op=metrics.apply: %w", err)
		}
		m = domain.VendorMetrics{VendorID: vendorID, PriceVsMarketPercent: -1}
	}

	if err := fn(&m); err != nil {
		return false, fmt.Errorf("op=metrics.apply: %w", err)
	}
	now := time.Now().UTC()
	if !now.After(m.LastUpdated) {
		now = m.LastUpdated.Add(time.Millisecond)
	}
	m.LastUpdated = now

	_, err = tx.Exec(ctx, `INSERT INTO vendor_metrics (`+metricsColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		ON CONFLICT (vendor_id) DO UPDATE SET
			reliability_score=EXCLUDED.reliability_score,
			acceptance_rate=EXCLUDED.acceptance_rate,
			delivery_success_rate=EXCLUDED.delivery_success_rate,
			avg_response_seconds=EXCLUDED.avg_response_seconds,
			cancellation_rate=EXCLUDED.cancellation_rate,
			price_vs_market_percent=EXCLUDED.price_vs_market_percent,
			assigned_n=EXCLUDED.assigned_n,
			responded_n=EXCLUDED.responded_n,
			accepted_n=EXCLUDED.accepted_n,
			delivered_n=EXCLUDED.delivered_n,
			delivered_ok_n=EXCLUDED.delivered_ok_n,
			cancelled_by_vend_n=EXCLUDED.cancelled_by_vend_n,
			response_time_sum_s=EXCLUDED.response_time_sum_s,
			samples_n=EXCLUDED.samples_n,
			last_updated=EXCLUDED.last_updated`,
		m.VendorID, m.ReliabilityScore, m.AcceptanceRate, m.DeliverySuccessRate,
		m.AvgResponseSeconds, m.CancellationRate, m.PriceVsMarketPercent,
		m.AssignedN, m.RespondedN, m.AcceptedN, m.DeliveredN, m.DeliveredOKN, m.CancelledByVendN,
		m.ResponseTimeSumS, m.SamplesN, m.LastUpdated)
	if err != nil {
		return false, fmt.Errorf("op=metrics.apply: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO vendor_metric_history (vendor_id, reliability_score, recorded_at) VALUES ($1,$2,$3)`,
		m.VendorID, m.ReliabilityScore, m.LastUpdated)
	if err != nil {
		return false, fmt.Errorf("op=metrics.apply: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("op=metrics.apply: %w", err)
	}
	return true, nil
}

// RefreshPriceVsMarket recomputes each vendor's price position against the
// per-product market average over available offers: the mean percent above
// market, floored at 0 and capped at 100. Vendors with no available offers
// keep the unknown sentinel (-1), which the composite skips. Returns the
// number of vendor rows updated.
func (r *MetricsRepo) RefreshPriceVsMarket(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.metrics")
	ctx, span := tracer.Start(ctx, "metrics.RefreshPriceVsMarket")
	defer span.End()

	q := `UPDATE vendor_metrics vm
		SET price_vs_market_percent = s.pct
		FROM (
			SELECT vp.vendor_id,
			       LEAST(100.0, AVG(GREATEST(0.0, (vp.price - m.avg_price) / m.avg_price * 100.0))) AS pct
			FROM vendor_products vp
			JOIN (
				SELECT product_id, AVG(price) AS avg_price
				FROM vendor_products
				WHERE available
				GROUP BY product_id
			) m ON m.product_id = vp.product_id
			WHERE vp.available AND m.avg_price > 0
			GROUP BY vp.vendor_id
		) s
		WHERE s.vendor_id = vm.vendor_id`
	tag, err := r.Pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("op=metrics.refresh_price: %w", err)
	}
	span.SetAttributes(attribute.Int64("metrics.vendors_updated", tag.RowsAffected()))
	return tag.RowsAffected(), nil
}

// TruncateHistoryOlderThan drops history samples older than the cutoff.
func (r *MetricsRepo) TruncateHistoryOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM vendor_metric_history WHERE recorded_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=metrics.truncate_history: %w", err)
	}
	return tag.RowsAffected(), nil
}
