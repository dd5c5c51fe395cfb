// Package pipeline drives an uploaded artifact through the five ingestion
// stages. Each stage runs as a job on the ingestion queue and re-enqueues
// the next stage after its output is durably committed, so a crash at any
// point resumes from the last committed status.
package pipeline

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/observability"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/extract"
	"github.com/fairyhunter13/wholesale-order-core/internal/queue"
	"github.com/fairyhunter13/wholesale-order-core/internal/selector"
)

const payloadVersion = 1

// jobPayload is the versioned envelope carried by ingestion jobs.
type jobPayload struct {
	V          int          `json:"v"`
	ArtifactID string       `json:"artifact_id"`
	Stage      domain.Stage `json:"stage"`
}

// EncodePayload builds the job payload for (artifactID, stage).
func EncodePayload(artifactID string, stage domain.Stage) []byte {
	b, _ := json.Marshal(jobPayload{V: payloadVersion, ArtifactID: artifactID, Stage: stage})
	return b
}

func decodePayload(raw []byte) (jobPayload, error) {
	var p jobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return jobPayload{}, fmt.Errorf("op=pipeline.payload: %w: %v", domain.ErrSchemaInvalid, err)
	}
	if p.V != payloadVersion {
		return jobPayload{}, fmt.Errorf("op=pipeline.payload: %w: unknown version %d", domain.ErrSchemaInvalid, p.V)
	}
	if p.ArtifactID == "" || p.Stage == "" {
		return jobPayload{}, fmt.Errorf("op=pipeline.payload: %w: missing fields", domain.ErrSchemaInvalid)
	}
	return p, nil
}

// DecodePayload exposes the envelope to the admin surface, which needs the
// stage of a dead-lettered job to reset its artifact.
func DecodePayload(raw []byte) (artifactID string, stage domain.Stage, err error) {
	p, err := decodePayload(raw)
	if err != nil {
		return "", "", err
	}
	return p.ArtifactID, p.Stage, nil
}

// StageInput maps a stage to the status it consumes; the inverse of the
// status-to-stage progression.
func StageInput(stage domain.Stage) (domain.ArtifactStatus, bool) {
	switch stage {
	case domain.StageOCR:
		return domain.ArtifactReceived, true
	case domain.StageExtract:
		return domain.ArtifactOCRDone, true
	case domain.StageNormalize:
		return domain.ArtifactExtracted, true
	case domain.StageBroadcast:
		return domain.ArtifactNormalized, true
	case domain.StageFinalize:
		return domain.ArtifactBroadcast, true
	default:
		return "", false
	}
}

// ItemMatcher is the slice of the normalizer the pipeline needs.
type ItemMatcher interface {
	MatchAll(ctx domain.Context, items []domain.ExtractedItem) ([]domain.NormalizedItem, float64, error)
}

// VendorSelector is the slice of the selector the pipeline needs.
type VendorSelector interface {
	Select(ctx domain.Context, productID string, quantity float64) (selector.Selection, error)
}

// Enqueuer schedules follow-up stage jobs; satisfied by *queue.Queue.
type Enqueuer interface {
	Enqueue(ctx domain.Context, queueName string, payload []byte, opts queue.EnqueueOpts) (string, error)
}

// Deps are the collaborators of the pipeline.
type Deps struct {
	Artifacts  domain.ArtifactRepo
	Log        domain.ProcessingLog
	Blobs      domain.BlobStore
	OCR        domain.OCRClient
	Extractor  domain.ItemExtractor
	Cleaner    extract.Cleaner
	Matcher    ItemMatcher
	Selector   VendorSelector
	Broadcasts domain.BroadcastRepo
	Decisions  domain.DecisionLog
	// Credit is consulted before BROADCAST when non-nil.
	Credit domain.CreditGate
	Jobs   Enqueuer
}

// Config tunes the pipeline.
type Config struct {
	QueueName string
	// MaxAttempts is applied to every stage job.
	MaxAttempts int
	// ReviewFraction parks the artifact when strictly exceeded at NORMALIZE.
	ReviewFraction float64
	// Weights are recorded with every selector decision for audit.
	Weights domain.SelectorWeights
}

// Pipeline is the ingestion-queue processor.
type Pipeline struct {
	deps Deps
	cfg  Config
	now  func() time.Time
}

// New constructs a Pipeline.
func New(deps Deps, cfg Config) *Pipeline {
	if cfg.QueueName == "" {
		cfg.QueueName = "ingestion"
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Pipeline{deps: deps, cfg: cfg, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock overrides the clock; tests only.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// stageFor maps the current status to the stage that consumes it.
func stageFor(status domain.ArtifactStatus) (domain.Stage, bool) {
	switch status {
	case domain.ArtifactReceived:
		return domain.StageOCR, true
	case domain.ArtifactOCRDone:
		return domain.StageExtract, true
	case domain.ArtifactExtracted:
		return domain.StageNormalize, true
	case domain.ArtifactNormalized:
		return domain.StageBroadcast, true
	case domain.ArtifactBroadcast:
		return domain.StageFinalize, true
	default:
		return "", false
	}
}

// EnqueueStage schedules the stage job consuming the artifact's current
// status. The idempotency key collapses duplicate schedules of the same
// stage while one is still active.
func (p *Pipeline) EnqueueStage(ctx domain.Context, artifactID string, stage domain.Stage) error {
	_, err := p.deps.Jobs.Enqueue(ctx, p.cfg.QueueName, EncodePayload(artifactID, stage), queue.EnqueueOpts{
		IdempotencyKey: fmt.Sprintf("%s:%s", artifactID, stage),
		MaxAttempts:    p.cfg.MaxAttempts,
	})
	if err != nil {
		return fmt.Errorf("op=pipeline.enqueue_stage: %w", err)
	}
	return nil
}

// Handle is the queue handler for ingestion jobs. A returned error means
// "transient, retry"; every terminal outcome is absorbed here by committing
// the artifact's side state.
func (p *Pipeline) Handle(ctx domain.Context, j queue.Job) error {
	tracer := otel.Tracer("pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Handle")
	defer span.End()

	pl, err := decodePayload(j.Payload)
	if err != nil {
		// A payload this process cannot read will never become readable.
		slog.Error("unreadable job payload, dropping", slog.String("job_id", j.ID), slog.Any("error", err))
		return nil
	}
	span.SetAttributes(
		attribute.String("artifact.id", pl.ArtifactID),
		attribute.String("stage", string(pl.Stage)),
	)

	a, err := p.deps.Artifacts.Get(ctx, pl.ArtifactID)
	if err != nil {
		if isNotFound(err) {
			slog.Error("job references missing artifact", slog.String("artifact_id", pl.ArtifactID))
			return nil
		}
		return fmt.Errorf("op=pipeline.load: %w", err)
	}
	if a.Status.Terminal() {
		return nil
	}

	// Resumption: if the persisted status has moved past this job's stage,
	// the work already committed; just make sure the successor is scheduled.
	due, ok := stageFor(a.Status)
	if !ok {
		return nil
	}
	if due != pl.Stage {
		slog.Info("stage already committed, scheduling successor",
			slog.String("artifact_id", a.ID),
			slog.String("requested", string(pl.Stage)),
			slog.String("due", string(due)))
		return p.EnqueueStage(ctx, a.ID, due)
	}

	attempt, err := p.deps.Artifacts.BumpAttempt(ctx, a.ID, pl.Stage)
	if err != nil {
		return fmt.Errorf("op=pipeline.bump_attempt: %w", err)
	}

	start := p.now()
	res := p.runStage(ctx, &a, pl.Stage)
	observability.StageDuration.WithLabelValues(string(pl.Stage)).Observe(p.now().Sub(start).Seconds())

	return p.commit(ctx, &a, pl.Stage, attempt, res)
}

// commit interprets a StageResult: advance on OK, park on SoftFail, fail on
// HardFail, bubble up Transient for the substrate to retry.
func (p *Pipeline) commit(ctx domain.Context, a *domain.UploadedArtifact, stage domain.Stage, attempt int, res domain.StageResult) error {
	expect := a.UpdatedAt
	switch res.Outcome {
	case domain.OutcomeOK:
		observability.StageOutcomesTotal.WithLabelValues(string(stage), "ok").Inc()
		a.Status = res.Next
		a.LastError = ""
		if err := p.advance(ctx, a, expect); err != nil {
			return err
		}
		p.logEntry(ctx, a.ID, stage, domain.LogInfo, fmt.Sprintf("stage committed, status=%s", res.Next), "")
		if next, ok := stageFor(a.Status); ok {
			return p.EnqueueStage(ctx, a.ID, next)
		}
		return nil

	case domain.OutcomeSoftFail:
		observability.StageOutcomesTotal.WithLabelValues(string(stage), "soft_fail").Inc()
		a.Status = domain.ArtifactPendingReview
		a.LastError = res.Error()
		if err := p.advance(ctx, a, expect); err != nil {
			return err
		}
		p.logEntry(ctx, a.ID, stage, domain.LogWarn, "parked for review", res.Reason)
		return nil

	case domain.OutcomeHardFail:
		observability.StageOutcomesTotal.WithLabelValues(string(stage), "hard_fail").Inc()
		a.Status = domain.ArtifactFailed
		a.LastError = res.Error()
		if err := p.advance(ctx, a, expect); err != nil {
			return err
		}
		p.logEntry(ctx, a.ID, stage, domain.LogError, "stage failed permanently", res.Error())
		return nil

	default: // OutcomeTransient
		observability.StageOutcomesTotal.WithLabelValues(string(stage), "transient").Inc()
		p.logEntry(ctx, a.ID, stage, domain.LogWarn,
			fmt.Sprintf("attempt %d failed, will retry", attempt), res.Error())
		if res.Err != nil {
			return fmt.Errorf("op=pipeline.%s: %s: %w", stage, res.Kind, res.Err)
		}
		return fmt.Errorf("op=pipeline.%s: %s", stage, res.Kind)
	}
}

// advance persists the artifact. A stale optimistic token means another
// worker already committed this stage; that is a success, not a conflict.
func (p *Pipeline) advance(ctx domain.Context, a *domain.UploadedArtifact, expect time.Time) error {
	err := p.deps.Artifacts.Advance(ctx, *a, expect)
	if err == nil {
		return nil
	}
	if isStale(err) {
		slog.Info("stale stage commit discarded", slog.String("artifact_id", a.ID))
		return nil
	}
	return fmt.Errorf("op=pipeline.advance: %w", err)
}

// OnExhausted marks the artifact FAILED when its stage job lands in the DLQ.
func (p *Pipeline) OnExhausted(ctx domain.Context, j queue.Job, lastErr error) {
	pl, err := decodePayload(j.Payload)
	if err != nil {
		return
	}
	a, err := p.deps.Artifacts.Get(ctx, pl.ArtifactID)
	if err != nil || a.Status.Terminal() {
		return
	}
	a.Status = domain.ArtifactFailed
	a.LastError = fmt.Sprintf("%s: attempts exhausted: %v", pl.Stage, lastErr)
	if err := p.deps.Artifacts.Advance(ctx, a, a.UpdatedAt); err != nil {
		slog.Error("failed to mark artifact FAILED after DLQ",
			slog.String("artifact_id", a.ID), slog.Any("error", err))
		return
	}
	p.logEntry(ctx, a.ID, pl.Stage, domain.LogError, "attempts exhausted, job dead-lettered", a.LastError)
}

func (p *Pipeline) logEntry(ctx domain.Context, artifactID string, stage domain.Stage, level domain.LogLevel, msg, details string) {
	err := p.deps.Log.Append(ctx, domain.ProcessingLogEntry{
		ArtifactID: artifactID,
		Stage:      stage,
		Level:      level,
		Message:    msg,
		Details:    details,
		At:         p.now(),
	})
	if err != nil {
		slog.Error("processing log append failed",
			slog.String("artifact_id", artifactID), slog.Any("error", err))
	}
}
