// Command worker runs the ingestion pipeline, the outbox relay, the stuck-job
// reaper and the retention sweeps. Several worker processes may run against
// the same database; job claims and outbox leases keep them from colliding.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/blob"
	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/extractor/llm"
	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/notifier/kafka"
	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/observability"
	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/ocr"
	"github.com/fairyhunter13/wholesale-order-core/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/wholesale-order-core/internal/config"
	"github.com/fairyhunter13/wholesale-order-core/internal/domain"
	"github.com/fairyhunter13/wholesale-order-core/internal/extract"
	"github.com/fairyhunter13/wholesale-order-core/internal/normalize"
	"github.com/fairyhunter13/wholesale-order-core/internal/outbox"
	"github.com/fairyhunter13/wholesale-order-core/internal/pipeline"
	"github.com/fairyhunter13/wholesale-order-core/internal/queue"
	"github.com/fairyhunter13/wholesale-order-core/internal/selector"
	"github.com/fairyhunter13/wholesale-order-core/internal/service/ratelimiter"
	"github.com/fairyhunter13/wholesale-order-core/internal/vendormetrics"
)

const (
	queueIngestion = "ingestion"
	queueDeferred  = "ingestion-deferred"

	metricsAddr = ":9090"
)

func workerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, ulid.Make().String())
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)
	observability.InitMetrics()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

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

	// Provider rate limits are shared across every worker process through
	// Redis; a nil limiter (no Redis) fails open.
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, map[string]ratelimiter.BucketConfig{
		ocr.LimiterKey: ratelimiter.PerMinute(cfg.OCRRatePerMinute),
		llm.LimiterKey: ratelimiter.PerMinute(cfg.ExtractorRatePerMinute),
	})

	var ocrClient domain.OCRClient
	var extractor domain.ItemExtractor
	if cfg.UseStubProviders {
		slog.Warn("using stub OCR and extraction providers")
		ocrClient = ocr.NewStub()
		extractor = llm.NewStub()
	} else {
		ocrClient = ocr.New(cfg.OCRBaseURL, cfg.OCRTimeout, limiter)
		extractor = llm.New(llm.Config{
			BaseURL:     cfg.ExtractorBaseURL,
			APIKey:      cfg.ExtractorAPIKey,
			Model:       cfg.ExtractorModel,
			Timeout:     cfg.ExtractorTimeout,
			MaxTokens:   cfg.ExtractorMaxTokens,
			InputBudget: cfg.ExtractorInputBudget,
		}, limiter)
	}

	// Repositories.
	artifacts := postgres.NewArtifactRepo(pool)
	queueStore := postgres.NewQueueStore(pool)
	logRepo := postgres.NewLogRepo(pool)
	dedupe := postgres.NewDedupeRepo(pool)
	metricsRepo := postgres.NewMetricsRepo(pool)
	catalog := postgres.NewCachedCatalog(postgres.NewCatalogRepo(pool), cfg.CatalogCacheTTL)
	vendorCatalog := postgres.NewVendorCatalogRepo(pool)
	broadcasts := postgres.NewBroadcastRepo(pool)
	decisions := postgres.NewDecisionLogRepo(pool)

	blobs, err := blob.NewFSStore(cfg.BlobBaseDir)
	if err != nil {
		slog.Error("blob store init failed", slog.Any("error", err))
		os.Exit(1)
	}

	metricsStore := vendormetrics.NewStore(metricsRepo, cfg.MetricsWeights(), cfg.SeedSamples)
	sel := selector.New(vendorCatalog, metricsStore, selector.Config{
		Weights:        cfg.SelectorWeights(),
		TopK:           cfg.TopKVendors,
		MinReliability: cfg.MinReliability,
		SeedSamples:    cfg.SeedSamples,
	})

	var credit domain.CreditGate
	if cfg.CreditGateEnabled {
		credit = postgres.NewCreditRepo(pool)
	}

	jobs := queue.New(queueStore)
	pipe := pipeline.New(pipeline.Deps{
		Artifacts:  artifacts,
		Log:        logRepo,
		Blobs:      blobs,
		OCR:        ocrClient,
		Extractor:  extractor,
		Cleaner:    extract.NewCleaner(cfg.QuantityCap),
		Matcher:    normalize.NewMatcher(catalog, cfg.MatchThreshold),
		Selector:   sel,
		Broadcasts: broadcasts,
		Decisions:  decisions,
		Credit:     credit,
		Jobs:       jobs,
	}, pipeline.Config{
		QueueName:      queueIngestion,
		MaxAttempts:    cfg.IngestionMaxAttempts,
		ReviewFraction: cfg.ReviewFractionThreshold,
		Weights:        cfg.SelectorWeights(),
	})

	runner := queue.NewRunner(queueStore, workerID())
	err = runner.RegisterProcessor(queueIngestion, pipe.Handle, queue.ProcessorOpts{
		Concurrency: cfg.IngestionConcurrency,
		JobTimeout:  cfg.IngestionJobTimeout,
		Backoff:     queue.NewBackoff(cfg.IngestionBaseBackoff, cfg.IngestionCapBackoff),
		OnExhausted: pipe.OnExhausted,
	})
	if err != nil {
		slog.Error("processor registration failed", slog.Any("error", err))
		os.Exit(1)
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, cfg.RFQTopic)
	if err != nil {
		slog.Error("kafka producer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer producer.Close()

	relay := outbox.NewRelay(postgres.NewOutboxStore(pool), producer,
		outbox.WithBatchSize(cfg.OutboxBatchSize),
		outbox.WithPollInterval(cfg.OutboxPollInterval),
		outbox.WithSendTimeout(cfg.OutboxJobTimeout),
	)

	maint := postgres.NewMaintenanceService(logRepo, dedupe, metricsRepo, queueStore, postgres.RetentionConfig{
		ProcessingLogDays: cfg.LogRetentionDays,
		DedupeDays:        cfg.DedupeRetentionDays,
	})
	sched := cron.New()
	if _, err := sched.AddFunc("@daily", func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if err := maint.Sweep(sweepCtx); err != nil {
			slog.Error("retention sweep failed", slog.Any("error", err))
		}
	}); err != nil {
		slog.Error("cron schedule failed", slog.Any("error", err))
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	slog.Info("worker starting",
		slog.String("env", cfg.AppEnv),
		slog.Int("concurrency", cfg.IngestionConcurrency),
		slog.Bool("stub_providers", cfg.UseStubProviders))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runner.Run(ctx)
		return nil
	})
	g.Go(func() error {
		runner.RunReaper(ctx, cfg.ReaperInterval)
		return nil
	})
	g.Go(func() error {
		relay.Run(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		slog.Error("worker exited", slog.Any("error", err))
		os.Exit(1)
	}
	slog.Info("worker stopped")
}
