// Package usecase contains the application services behind the HTTP surface:
// artifact ingestion, vendor-event reporting, status reads and admin
// operations. Services hold ports, not adapters.
package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/pipeline"
	"github.com/fairyhunter13/wholesale-order-core/internal/queue"
)

// Enqueuer schedules stage jobs; satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx domain.Context, queueName string, payload []byte, opts queue.EnqueueOpts) (string, error)
}

// IngestService accepts upload webhooks and starts the pipeline.
type IngestService struct {
	Artifacts domain.ArtifactRepo
	Dedupe    domain.WebhookDedupe
	Gate      domain.Gate
	Jobs      Enqueuer

	// IngestQueue receives stage jobs normally; DeferredQueue receives them
	// while the safe-mode gate is engaged.
	IngestQueue   string
	DeferredQueue string
	MaxAttempts   int

	now func() time.Time
}

// NewIngestService constructs an IngestService.
func NewIngestService(artifacts domain.ArtifactRepo, dedupe domain.WebhookDedupe, gate domain.Gate, jobs Enqueuer, ingestQueue, deferredQueue string, maxAttempts int) *IngestService {
	return &IngestService{
		Artifacts:     artifacts,
		Dedupe:        dedupe,
		Gate:          gate,
		Jobs:          jobs,
		IngestQueue:   ingestQueue,
		DeferredQueue: deferredQueue,
		MaxAttempts:   maxAttempts,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Ingest creates an UploadedArtifact in RECEIVED and schedules the OCR stage.
// Idempotent on (source, externalID): a duplicate webhook returns the
// artifact created by the first delivery.
func (s *IngestService) Ingest(ctx domain.Context, retailerID, blobRef, source, externalID string) (string, error) {
	if retailerID == "" || blobRef == "" {
		return "", fmt.Errorf("op=usecase.ingest: %w: retailer_id and blob_ref required", domain.ErrInvalidArgument)
	}

	sourceMessageID := ""
	if externalID != "" {
		sourceMessageID = source + ":" + externalID
		if err := s.Dedupe.Register(ctx, source, externalID); err != nil {
			if errors.Is(err, domain.ErrDuplicate) {
				existing, ferr := s.Artifacts.FindBySourceMessage(ctx, source, externalID)
				if ferr != nil {
					return "", fmt.Errorf("op=usecase.ingest: duplicate without artifact: %w", ferr)
				}
				slog.Info("duplicate webhook ignored",
					slog.String("source", source),
					slog.String("external_id", externalID),
					slog.String("artifact_id", existing.ID))
				return existing.ID, nil
			}
			return "", fmt.Errorf("op=usecase.ingest: %w", err)
		}
	}

	now := s.now()
	id, err := s.Artifacts.Create(ctx, domain.UploadedArtifact{
		RetailerID:      retailerID,
		BlobRef:         blobRef,
		SourceMessageID: sourceMessageID,
		Status:          domain.ArtifactReceived,
		CreatedAt:       now,
		UpdatedAt:       now,
	})
	if err != nil {
		// Release the dedupe claim so a redelivery of this message is not
		// stuck behind a registration with no artifact.
		if sourceMessageID != "" {
			if derr := s.Dedupe.Unregister(ctx, source, externalID); derr != nil {
				slog.Error("dedupe unregister failed",
					slog.String("source", source),
					slog.String("external_id", externalID),
					slog.Any("error", derr))
			}
		}
		return "", fmt.Errorf("op=usecase.ingest: %w", err)
	}

	queueName := s.IngestQueue
	safeMode, err := s.Gate.SafeMode(ctx)
	if err != nil {
		return "", fmt.Errorf("op=usecase.ingest: %w", err)
	}
	if safeMode {
		queueName = s.DeferredQueue
		slog.Warn("safe mode engaged, deferring ingestion",
			slog.String("artifact_id", id))
	}

	_, err = s.Jobs.Enqueue(ctx, queueName, pipeline.EncodePayload(id, domain.StageOCR), queue.EnqueueOpts{
		IdempotencyKey: fmt.Sprintf("%s:%s", id, domain.StageOCR),
		MaxAttempts:    s.MaxAttempts,
	})
	if err != nil {
		// The artifact row exists; the caller can retry the webhook and the
		// dedupe path will reuse it once a job lands.
		return "", fmt.Errorf("op=usecase.ingest: enqueue: %w", err)
	}
	slog.Info("artifact ingested",
		slog.String("artifact_id", id),
		slog.String("retailer_id", retailerID),
		slog.String("queue", queueName))
	return id, nil
}

// ArtifactStatus is the read model returned to the upload collaborator.
type ArtifactStatus struct {
	Artifact domain.UploadedArtifact
	Log      []domain.ProcessingLogEntry
}

// StatusService reads artifact state and its audit trail.
type StatusService struct {
	Artifacts  domain.ArtifactRepo
	Log        domain.ProcessingLog
	Broadcasts domain.BroadcastRepo
}

// NewStatusService constructs a StatusService.
func NewStatusService(artifacts domain.ArtifactRepo, log domain.ProcessingLog, broadcasts domain.BroadcastRepo) *StatusService {
	return &StatusService{Artifacts: artifacts, Log: log, Broadcasts: broadcasts}
}

// Get returns the artifact with its processing log.
func (s *StatusService) Get(ctx domain.Context, artifactID string) (ArtifactStatus, error) {
	a, err := s.Artifacts.Get(ctx, artifactID)
	if err != nil {
		return ArtifactStatus{}, fmt.Errorf("op=usecase.status: %w", err)
	}
	entries, err := s.Log.List(ctx, artifactID)
	if err != nil {
		return ArtifactStatus{}, fmt.Errorf("op=usecase.status: %w", err)
	}
	return ArtifactStatus{Artifact: a, Log: entries}, nil
}

// Broadcasts returns the RFQ rows emitted for an artifact.
func (s *StatusService) BroadcastsFor(ctx domain.Context, artifactID string) ([]domain.RFQBroadcast, error) {
	rows, err := s.Broadcasts.ListByArtifact(ctx, artifactID)
	if err != nil {
		return nil, fmt.Errorf("op=usecase.status: %w", err)
	}
	return rows, nil
}
