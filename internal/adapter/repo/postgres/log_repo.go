package postgres

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// LogRepo is the append-only per-artifact audit trail. seq is a BIGSERIAL,
// so ordering within an artifact follows insertion order even when wall
// clocks on different workers disagree.
type LogRepo struct{ Pool PgxPool }

// NewLogRepo constructs a LogRepo with the given pool.
func NewLogRepo(p PgxPool) *LogRepo { return &LogRepo{Pool: p} }

// Append writes one log entry and fills in its sequence number.
func (r *LogRepo) Append(ctx domain.Context, e domain.ProcessingLogEntry) error {
	tracer := otel.Tracer("repo.log")
	ctx, span := tracer.Start(ctx, "log.Append")
	defer span.End()

	q := `INSERT INTO processing_log (artifact_id, stage, level, message, details, at)
		VALUES ($1,$2,$3,$4,$5,$6) RETURNING seq`
	var seq int64
	if err := r.Pool.QueryRow(ctx, q, e.ArtifactID, e.Stage, e.Level, e.Message, e.Details, e.At).Scan(&seq); err != nil {
		return fmt.Errorf("op=log.append: %w", err)
	}
	return nil
}

// List returns all entries of an artifact in sequence order.
func (r *LogRepo) List(ctx domain.Context, artifactID string) ([]domain.ProcessingLogEntry, error) {
	tracer := otel.Tracer("repo.log")
	ctx, span := tracer.Start(ctx, "log.List")
	defer span.End()

	q := `SELECT artifact_id, seq, stage, level, message, COALESCE(details,''), at
		FROM processing_log WHERE artifact_id=$1 ORDER BY seq`
	rows, err := r.Pool.Query(ctx, q, artifactID)
	if err != nil {
		return nil, fmt.Errorf("op=log.list: %w", err)
	}
	defer rows.Close()
	var out []domain.ProcessingLogEntry
	for rows.Next() {
		var e domain.ProcessingLogEntry
		if err := rows.Scan(&e.ArtifactID, &e.Seq, &e.Stage, &e.Level, &e.Message, &e.Details, &e.At); err != nil {
			return nil, fmt.Errorf("op=log.list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=log.list: %w", err)
	}
	return out, nil
}

// TruncateOlderThan drops entries older than the retention cutoff.
func (r *LogRepo) TruncateOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tag, err := r.Pool.Exec(ctx, `DELETE FROM processing_log WHERE at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=log.truncate: %w", err)
	}
	return tag.RowsAffected(), nil
}
