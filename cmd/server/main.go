// Command server starts the order-processing HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/blob"
	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/httpserver"
	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/observability"
	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/wholesale-order-core/internal/app"
	"github.com/fairyhunter13/wholesale-order-core/internal/config"
	"github.com/fairyhunter13/wholesale-order-core/internal/queue"
	"github.com/fairyhunter13/wholesale-order-core/internal/selector"
	"github.com/fairyhunter13/wholesale-order-core/internal/usecase"
	"github.com/fairyhunter13/wholesale-order-core/internal/vendormetrics"
)

const (
	queueIngestion = "ingestion"
	queueDeferred  = "ingestion-deferred"
)

// redisPinger narrows *redis.Client to the readiness interface.
type redisPinger struct{ *redis.Client }

func (r redisPinger) Ping(ctx context.Context) app.RedisPingResult { return r.Client.Ping(ctx) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() { _ = rdb.Close() }()

	// Repositories.
	artifacts := postgres.NewArtifactRepo(pool)
	queueStore := postgres.NewQueueStore(pool)
	logRepo := postgres.NewLogRepo(pool)
	dedupe := postgres.NewDedupeRepo(pool)
	gate := postgres.NewGateRepo(pool, cfg.SafeModeCacheTTL)
	metricsRepo := postgres.NewMetricsRepo(pool)
	vendorCatalog := postgres.NewVendorCatalogRepo(pool)
	broadcasts := postgres.NewBroadcastRepo(pool)

	if cfg.IsDev() {
		if path := os.Getenv("SEED_FILE"); path != "" {
			if err := seedCatalog(ctx, pool, path); err != nil {
				slog.Error("catalog seed failed", slog.String("path", path), slog.Any("error", err))
				os.Exit(1)
			}
		}
	}

	// Services.
	jobs := queue.New(queueStore)
	metricsStore := vendormetrics.NewStore(metricsRepo, cfg.MetricsWeights(), cfg.SeedSamples)
	sel := selector.New(vendorCatalog, metricsStore, selector.Config{
		Weights:        cfg.SelectorWeights(),
		TopK:           cfg.TopKVendors,
		MinReliability: cfg.MinReliability,
		SeedSamples:    cfg.SeedSamples,
	})

	ingestSvc := usecase.NewIngestService(artifacts, dedupe, gate, jobs, queueIngestion, queueDeferred, cfg.IngestionMaxAttempts)
	statusSvc := usecase.NewStatusService(artifacts, logRepo, broadcasts)
	eventSvc := usecase.NewEventService(metricsStore, broadcasts)
	adminSvc := usecase.NewAdminService(artifacts, gate, jobs, queueIngestion, queueDeferred)

	blobs, err := blob.NewFSStore(cfg.BlobBaseDir)
	if err != nil {
		slog.Error("blob store init failed", slog.Any("error", err))
		os.Exit(1)
	}

	dbCheck, redisCheck := app.BuildReadinessChecks(pool, redisPinger{rdb})
	srv := httpserver.NewServer(cfg, ingestSvc, statusSvc, eventSvc, adminSvc, sel, blobs, dbCheck, redisCheck)

	if err := app.RunServer(ctx, cfg, srv.Router()); err != nil {
		slog.Error("server exited", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("server stopped")
}
