package postgres

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
)

// ArtifactRepo persists uploaded artifacts. Embedded item lists are JSON
// columns carrying a versioned schema header; readers reject unknown
// versions so a malformed row surfaces as ErrSchemaInvalid instead of
// silently decoding garbage.
type ArtifactRepo struct{ Pool PgxPool }

// NewArtifactRepo constructs an ArtifactRepo with the given pool.
func NewArtifactRepo(p PgxPool) *ArtifactRepo { return &ArtifactRepo{Pool: p} }

type itemsEnvelope[T any] struct {
	V     int `json:"v"`
	Items []T `json:"items"`
}

func encodeItems[T any](items []T) ([]byte, error) {
	return json.Marshal(itemsEnvelope[T]{V: envelopeVersion, Items: items})
}

func decodeItems[T any](raw []byte) ([]T, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var env itemsEnvelope[T]
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSchemaInvalid, err)
	}
	if env.V != envelopeVersion {
		return nil, fmt.Errorf("%w: unknown envelope version %d", domain.ErrSchemaInvalid, env.V)
	}
	return env.Items, nil
}

// Create stores a new artifact and returns its id (generates one if empty).
func (r *ArtifactRepo) Create(ctx domain.Context, a domain.UploadedArtifact) (string, error) {
	tracer := otel.Tracer("repo.artifacts")
	ctx, span := tracer.Start(ctx, "artifacts.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", "uploaded_artifacts"),
	)
	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	now := time.Now().UTC()
	q := `INSERT INTO uploaded_artifacts
		(id, retailer_id, blob_ref, source_message_id, status, raw_text, extracted_items, normalized_items, last_error, created_at, updated_at)
		VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,NULL,NULL,$7,$8,$8)`
	_, err := r.Pool.Exec(ctx, q, id, a.RetailerID, a.BlobRef, a.SourceMessageID, a.Status, a.RawText, a.LastError, now)
	if err != nil {
		return "", fmt.Errorf("op=artifacts.create: %w", err)
	}
	return id, nil
}

const artifactColumns = `id, retailer_id, blob_ref, COALESCE(source_message_id,''), status, raw_text,
	extracted_items, normalized_items, last_error, created_at, updated_at, processed_at`

func scanArtifact(row interface{ Scan(...any) error }) (domain.UploadedArtifact, error) {
	var a domain.UploadedArtifact
	var extracted, normalized []byte
	err := row.Scan(&a.ID, &a.RetailerID, &a.BlobRef, &a.SourceMessageID, &a.Status, &a.RawText,
		&extracted, &normalized, &a.LastError, &a.CreatedAt, &a.UpdatedAt, &a.ProcessedAt)
	if err != nil {
		return domain.UploadedArtifact{}, err
	}
	if a.ExtractedItems, err = decodeItems[domain.ExtractedItem](extracted); err != nil {
		return domain.UploadedArtifact{}, err
	}
	if a.NormalizedItems, err = decodeItems[domain.NormalizedItem](normalized); err != nil {
		return domain.UploadedArtifact{}, err
	}
	return a, nil
}

// Get loads an artifact with its per-stage attempt counters.
func (r *ArtifactRepo) Get(ctx domain.Context, id string) (domain.UploadedArtifact, error) {
	tracer := otel.Tracer("repo.artifacts")
	ctx, span := tracer.Start(ctx, "artifacts.Get")
	defer span.End()

	q := `SELECT ` + artifactColumns + ` FROM uploaded_artifacts WHERE id=$1`
	a, err := scanArtifact(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if notFound(err) {
			return domain.UploadedArtifact{}, fmt.Errorf("op=artifacts.get: %w", domain.ErrNotFound)
		}
		return domain.UploadedArtifact{}, fmt.Errorf("op=artifacts.get: %w", err)
	}

	rows, err := r.Pool.Query(ctx, `SELECT stage, attempts FROM artifact_attempts WHERE artifact_id=$1`, id)
	if err != nil {
		return domain.UploadedArtifact{}, fmt.Errorf("op=artifacts.get: %w", err)
	}
	defer rows.Close()
	a.AttemptCounts = map[domain.Stage]int{}
	for rows.Next() {
		var stage domain.Stage
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return domain.UploadedArtifact{}, fmt.Errorf("op=artifacts.get: %w", err)
		}
		a.AttemptCounts[stage] = n
	}
	if err := rows.Err(); err != nil {
		return domain.UploadedArtifact{}, fmt.Errorf("op=artifacts.get: %w", err)
	}
	return a, nil
}

// Advance commits a stage transition with the stage's work product. The
// optimistic token rejects writes from workers that lost their lease.
func (r *ArtifactRepo) Advance(ctx domain.Context, a domain.UploadedArtifact, expectUpdatedAt time.Time) error {
	tracer := otel.Tracer("repo.artifacts")
	ctx, span := tracer.Start(ctx, "artifacts.Advance")
	defer span.End()
	span.SetAttributes(attribute.String("artifact.status", string(a.Status)))

	extracted, err := encodeItems(a.ExtractedItems)
	if err != nil {
		return fmt.Errorf("op=artifacts.advance: %w", err)
	}
	normalized, err := encodeItems(a.NormalizedItems)
	if err != nil {
		return fmt.Errorf("op=artifacts.advance: %w", err)
	}
	q := `UPDATE uploaded_artifacts
		SET status=$2, raw_text=$3, extracted_items=$4, normalized_items=$5,
		    last_error=$6, processed_at=$7, updated_at=now()
		WHERE id=$1 AND updated_at=$8`
	tag, err := r.Pool.Exec(ctx, q, a.ID, a.Status, a.RawText, extracted, normalized, a.LastError, a.ProcessedAt, expectUpdatedAt)
	if err != nil {
		return fmt.Errorf("op=artifacts.advance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.Pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM uploaded_artifacts WHERE id=$1)`, a.ID).Scan(&exists); err != nil {
			return fmt.Errorf("op=artifacts.advance: %w", err)
		}
		if !exists {
			return fmt.Errorf("op=artifacts.advance: %w", domain.ErrNotFound)
		}
		return fmt.Errorf("op=artifacts.advance: %w", domain.ErrStaleWrite)
	}
	return nil
}

// BumpAttempt increments the per-stage attempt counter and returns it.
func (r *ArtifactRepo) BumpAttempt(ctx domain.Context, id string, stage domain.Stage) (int, error) {
	tracer := otel.Tracer("repo.artifacts")
	ctx, span := tracer.Start(ctx, "artifacts.BumpAttempt")
	defer span.End()

	q := `INSERT INTO artifact_attempts (artifact_id, stage, attempts) VALUES ($1,$2,1)
		ON CONFLICT (artifact_id, stage) DO UPDATE SET attempts = artifact_attempts.attempts + 1
		RETURNING attempts`
	var n int
	if err := r.Pool.QueryRow(ctx, q, id, stage).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=artifacts.bump_attempt: %w", err)
	}
	return n, nil
}

// FindBySourceMessage resolves the artifact created by a webhook delivery.
func (r *ArtifactRepo) FindBySourceMessage(ctx domain.Context, source, externalID string) (domain.UploadedArtifact, error) {
	tracer := otel.Tracer("repo.artifacts")
	ctx, span := tracer.Start(ctx, "artifacts.FindBySourceMessage")
	defer span.End()

	q := `SELECT ` + artifactColumns + ` FROM uploaded_artifacts WHERE source_message_id=$1`
	a, err := scanArtifact(r.Pool.QueryRow(ctx, q, source+":"+externalID))
	if err != nil {
		if notFound(err) {
			return domain.UploadedArtifact{}, fmt.Errorf("op=artifacts.find_source: %w", domain.ErrNotFound)
		}
		return domain.UploadedArtifact{}, fmt.Errorf("op=artifacts.find_source: %w", err)
	}
	return a, nil
}
