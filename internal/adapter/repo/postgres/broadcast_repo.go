package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// BroadcastRepo writes RFQ broadcast rows. InsertWithOutbox couples the rows
// with their outbox entries in one transaction so a vendor notification can
// never exist without its broadcast record, or the other way around.
type BroadcastRepo struct{ Pool PgxPool }

// NewBroadcastRepo constructs a BroadcastRepo with the given pool.
func NewBroadcastRepo(p PgxPool) *BroadcastRepo { return &BroadcastRepo{Pool: p} }

// ExistingVendors returns vendor ids already holding a broadcast row for
// (artifact, product). The broadcast stage skips these on resume.
func (r *BroadcastRepo) ExistingVendors(ctx domain.Context, artifactID, productID string) (map[string]bool, error) {
	tracer := otel.Tracer("repo.broadcasts")
	ctx, span := tracer.Start(ctx, "broadcasts.ExistingVendors")
	defer span.End()

	rows, err := r.Pool.Query(ctx,
		`SELECT vendor_id FROM rfq_broadcasts WHERE artifact_id=$1 AND product_id=$2`, artifactID, productID)
	if err != nil {
		return nil, fmt.Errorf("op=broadcasts.existing: %w", err)
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=broadcasts.existing: %w", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=broadcasts.existing: %w", err)
	}
	return out, nil
}

// InsertWithOutbox writes all broadcast rows for one item plus their outbox
// rows atomically. The unique (artifact_id, product_id, vendor_id) index
// absorbs redelivered inserts.
func (r *BroadcastRepo) InsertWithOutbox(ctx domain.Context, rows []domain.RFQBroadcast, outbox []domain.OutboxRow) error {
	tracer := otel.Tracer("repo.broadcasts")
	ctx, span := tracer.Start(ctx, "broadcasts.InsertWithOutbox")
	defer span.End()
	span.SetAttributes(attribute.Int("broadcast.count", len(rows)))

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("op=broadcasts.insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, b := range rows {
		_, err := tx.Exec(ctx, `INSERT INTO rfq_broadcasts
			(id, artifact_id, retailer_id, product_id, vendor_id, requested_qty, unit, status, vendor_rank, score_snapshot, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
			ON CONFLICT (artifact_id, product_id, vendor_id) DO NOTHING`,
			b.ID, b.ArtifactID, b.RetailerID, b.ProductID, b.VendorID, b.RequestedQty, b.Unit,
			b.Status, b.VendorRank, b.ScoreSnapshot, b.CreatedAt)
		if err != nil {
			return fmt.Errorf("op=broadcasts.insert: %w", err)
		}
	}
	for _, o := range outbox {
		_, err := tx.Exec(ctx,
			`INSERT INTO outbox (artifact_id, target, payload, dispatched, attempts, created_at)
			 VALUES ($1,$2,$3,false,0,$4)`,
			o.ArtifactID, o.Target, o.Payload, o.CreatedAt)
		if err != nil {
			return fmt.Errorf("op=broadcasts.insert: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=broadcasts.insert: %w", err)
	}
	return nil
}

const broadcastColumns = `id, artifact_id, retailer_id, product_id, vendor_id, requested_qty, unit,
	status, vendor_rank, score_snapshot, created_at, responded_at`

// ListByArtifact lists all broadcast rows of an artifact in creation order.
func (r *BroadcastRepo) ListByArtifact(ctx domain.Context, artifactID string) ([]domain.RFQBroadcast, error) {
	tracer := otel.Tracer("repo.broadcasts")
	ctx, span := tracer.Start(ctx, "broadcasts.ListByArtifact")
	defer span.End()

	rows, err := r.Pool.Query(ctx,
		`SELECT `+broadcastColumns+` FROM rfq_broadcasts WHERE artifact_id=$1 ORDER BY created_at, id`, artifactID)
	if err != nil {
		return nil, fmt.Errorf("op=broadcasts.list: %w", err)
	}
	defer rows.Close()
	var out []domain.RFQBroadcast
	for rows.Next() {
		var b domain.RFQBroadcast
		err := rows.Scan(&b.ID, &b.ArtifactID, &b.RetailerID, &b.ProductID, &b.VendorID, &b.RequestedQty, &b.Unit,
			&b.Status, &b.VendorRank, &b.ScoreSnapshot, &b.CreatedAt, &b.RespondedAt)
		if err != nil {
			return nil, fmt.Errorf("op=broadcasts.list: %w", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=broadcasts.list: %w", err)
	}
	return out, nil
}

// UpdateStatus applies a lifecycle transition on one broadcast row.
func (r *BroadcastRepo) UpdateStatus(ctx domain.Context, id string, status domain.BroadcastStatus, at time.Time) error {
	tracer := otel.Tracer("repo.broadcasts")
	ctx, span := tracer.Start(ctx, "broadcasts.UpdateStatus")
	defer span.End()

	tag, err := r.Pool.Exec(ctx,
		`UPDATE rfq_broadcasts SET status=$2, responded_at=$3 WHERE id=$1`, id, status, at)
	if err != nil {
		return fmt.Errorf("op=broadcasts.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=broadcasts.update_status: %w", domain.ErrNotFound)
	}
	return nil
}

// DecisionLogRepo persists selector decisions as versioned JSON documents.
type DecisionLogRepo struct{ Pool PgxPool }

// NewDecisionLogRepo constructs a DecisionLogRepo with the given pool.
func NewDecisionLogRepo(p PgxPool) *DecisionLogRepo { return &DecisionLogRepo{Pool: p} }

type decisionDoc struct {
	V          int                    `json:"v"`
	Weights    domain.SelectorWeights `json:"weights"`
	Candidates []domain.ScoredVendor  `json:"candidates"`
	ChosenIDs  []string               `json:"chosen_ids"`
}

// Record appends one selection decision.
func (r *DecisionLogRepo) Record(ctx domain.Context, d domain.SelectionDecision) error {
	tracer := otel.Tracer("repo.decisions")
	ctx, span := tracer.Start(ctx, "decisions.Record")
	defer span.End()

	doc, err := json.Marshal(decisionDoc{
		V:          envelopeVersion,
		Weights:    d.Weights,
		Candidates: d.Candidates,
		ChosenIDs:  d.ChosenIDs,
	})
	if err != nil {
		return fmt.Errorf("op=decisions.record: %w", err)
	}
	_, err = r.Pool.Exec(ctx,
		`INSERT INTO selector_decisions (artifact_id, product_id, decision, decided_at) VALUES ($1,$2,$3,$4)`,
		d.ArtifactID, d.ProductID, doc, d.At)
	if err != nil {
		return fmt.Errorf("op=decisions.record: %w", err)
	}
	return nil
}
