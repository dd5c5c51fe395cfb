package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// RetentionConfig holds the sweep windows. Zero values fall back to the
// defaults in NewMaintenanceService.
type RetentionConfig struct {
	ProcessingLogDays int
	DedupeDays        int
	MetricHistoryDays int
	CompletedJobDays  int
}

// MaintenanceService runs the periodic retention sweeps and the price
// position refresh. Artifacts and broadcast rows are never deleted; only
// derived and operational data ages out.
type MaintenanceService struct {
	Log     *LogRepo
	Dedupe  *DedupeRepo
	Metrics *MetricsRepo
	Jobs    *QueueStore
	Cfg     RetentionConfig
}

// NewMaintenanceService creates a MaintenanceService with defaulted windows.
func NewMaintenanceService(log *LogRepo, dedupe *DedupeRepo, metrics *MetricsRepo, jobs *QueueStore, cfg RetentionConfig) *MaintenanceService {
	if cfg.ProcessingLogDays <= 0 {
		cfg.ProcessingLogDays = 90
	}
	if cfg.DedupeDays <= 0 {
		cfg.DedupeDays = 30
	}
	if cfg.MetricHistoryDays <= 0 {
		cfg.MetricHistoryDays = 365
	}
	if cfg.CompletedJobDays <= 0 {
		cfg.CompletedJobDays = 7
	}
	return &MaintenanceService{Log: log, Dedupe: dedupe, Metrics: metrics, Jobs: jobs, Cfg: cfg}
}

// Sweep runs all retention deletes once. Each sweep is independent; a
// failing one does not stop the rest.
func (s *MaintenanceService) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	var firstErr error
	record := func(name string, n int64, err error) {
		if err != nil {
			slog.Error("retention sweep failed", slog.String("sweep", name), slog.Any("error", err))
			if firstErr == nil {
				firstErr = fmt.Errorf("op=maintenance.sweep: %s: %w", name, err)
			}
			return
		}
		if n > 0 {
			slog.Info("retention sweep", slog.String("sweep", name), slog.Int64("deleted", n))
		}
	}

	n, err := s.Log.TruncateOlderThan(ctx, now.AddDate(0, 0, -s.Cfg.ProcessingLogDays))
	record("processing_log", n, err)

	n, err = s.Dedupe.DeleteOlderThan(ctx, now.AddDate(0, 0, -s.Cfg.DedupeDays))
	record("webhook_dedupe", n, err)

	n, err = s.Metrics.TruncateHistoryOlderThan(ctx, now.AddDate(0, 0, -s.Cfg.MetricHistoryDays))
	record("vendor_metric_history", n, err)

	n, err = s.Jobs.PurgeTerminalOlderThan(ctx, now.AddDate(0, 0, -s.Cfg.CompletedJobDays))
	record("completed_jobs", n, err)

	n, err = s.Metrics.RefreshPriceVsMarket(ctx)
	if err != nil {
		slog.Error("price position refresh failed", slog.Any("error", err))
		if firstErr == nil {
			firstErr = fmt.Errorf("op=maintenance.sweep: price_vs_market: %w", err)
		}
	} else if n > 0 {
		slog.Info("price position refreshed", slog.Int64("vendors", n))
	}

	return firstErr
}
