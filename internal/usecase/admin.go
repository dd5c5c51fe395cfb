package usecase

import (
	"fmt"
	"log/slog"

	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/pipeline"
	"github.com/fairyhunter13/wholesale-order-core/internal/queue"
)

// JobAdmin is the slice of the queue facade the admin surface needs;
// satisfied by *queue.Queue.
type JobAdmin interface {
	Get(ctx domain.Context, jobID string) (queue.Job, error)
	RetryFromDLQ(ctx domain.Context, jobID string) error
	DrainInto(ctx domain.Context, from, to string) (int64, error)
}

// AdminService exposes operator interventions: DLQ restore and the global
// safe-mode gate.
type AdminService struct {
	Artifacts domain.ArtifactRepo
	Gate      domain.Gate
	Jobs      JobAdmin

	IngestQueue   string
	DeferredQueue string
}

// NewAdminService constructs an AdminService.
func NewAdminService(artifacts domain.ArtifactRepo, gate domain.Gate, jobs JobAdmin, ingestQueue, deferredQueue string) *AdminService {
	return &AdminService{
		Artifacts:     artifacts,
		Gate:          gate,
		Jobs:          jobs,
		IngestQueue:   ingestQueue,
		DeferredQueue: deferredQueue,
	}
}

// RetryFromDLQ restores a dead-lettered stage job. The artifact it points at
// is rewound to the status that stage consumes, so the restored job passes
// the pipeline's status check instead of short-circuiting on FAILED.
func (s *AdminService) RetryFromDLQ(ctx domain.Context, jobID string) error {
	j, err := s.Jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("op=usecase.retry_dlq: %w", err)
	}
	if j.State != queue.StateDLQ {
		return fmt.Errorf("op=usecase.retry_dlq: %w: job %s is %s, not DLQ", domain.ErrConflict, jobID, j.State)
	}
	artifactID, stage, err := pipeline.DecodePayload(j.Payload)
	if err != nil {
		return fmt.Errorf("op=usecase.retry_dlq: %w", err)
	}
	a, err := s.Artifacts.Get(ctx, artifactID)
	if err != nil {
		return fmt.Errorf("op=usecase.retry_dlq: %w", err)
	}
	if a.Status == domain.ArtifactFailed {
		input, ok := pipeline.StageInput(stage)
		if !ok {
			return fmt.Errorf("op=usecase.retry_dlq: %w: job carries unknown stage %q", domain.ErrSchemaInvalid, stage)
		}
		a.Status = input
		a.LastError = ""
		if err := s.Artifacts.Advance(ctx, a, a.UpdatedAt); err != nil {
			return fmt.Errorf("op=usecase.retry_dlq: %w", err)
		}
	}
	if err := s.Jobs.RetryFromDLQ(ctx, jobID); err != nil {
		return fmt.Errorf("op=usecase.retry_dlq: %w", err)
	}
	slog.Info("dead-lettered job restored",
		slog.String("job_id", jobID),
		slog.String("artifact_id", artifactID),
		slog.String("stage", string(stage)))
	return nil
}

// SafeMode reads the gate.
func (s *AdminService) SafeMode(ctx domain.Context) (bool, error) {
	on, err := s.Gate.SafeMode(ctx)
	if err != nil {
		return false, fmt.Errorf("op=usecase.safe_mode: %w", err)
	}
	return on, nil
}

// SetSafeMode flips the gate. Clearing it drains the deferred queue back
// into the ingestion queue.
func (s *AdminService) SetSafeMode(ctx domain.Context, on bool) error {
	if err := s.Gate.SetSafeMode(ctx, on); err != nil {
		return fmt.Errorf("op=usecase.safe_mode: %w", err)
	}
	slog.Info("safe mode changed", slog.Bool("on", on))
	if on {
		return nil
	}
	moved, err := s.Jobs.DrainInto(ctx, s.DeferredQueue, s.IngestQueue)
	if err != nil {
		return fmt.Errorf("op=usecase.safe_mode: drain: %w", err)
	}
	if moved > 0 {
		slog.Info("deferred ingestion resumed", slog.Int64("jobs", moved))
	}
	return nil
}
