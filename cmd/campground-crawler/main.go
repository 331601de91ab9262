package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcpubsub "cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/outdoorsight/campground-crawler/internal/api"
	"github.com/outdoorsight/campground-crawler/internal/app"
	"github.com/outdoorsight/campground-crawler/internal/config"
	"github.com/outdoorsight/campground-crawler/internal/geo"
	"github.com/outdoorsight/campground-crawler/internal/logging"
	"github.com/outdoorsight/campground-crawler/internal/metrics"
	pubsubpublisher "github.com/outdoorsight/campground-crawler/internal/publisher/pubsub"
	"github.com/outdoorsight/campground-crawler/internal/scraper"
	"github.com/outdoorsight/campground-crawler/internal/storage"
	"github.com/outdoorsight/campground-crawler/internal/storage/gcs"
	"github.com/outdoorsight/campground-crawler/internal/storage/local"
	"github.com/outdoorsight/campground-crawler/internal/storage/postgres"
	"github.com/outdoorsight/campground-crawler/internal/thedyrt"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	runOnStart := flag.Bool("run-now", false, "Start a scraper run immediately on boot")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.DB.DSN == "" {
		logger.Fatal("db.dsn is required")
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		logger.Fatal("postgres connect failed", zap.Error(err))
	}
	defer store.Close()
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}

	blobs, err := buildBlobProvider(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	publisher, cleanup, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("publisher init failed", zap.Error(err))
	}
	defer cleanup()

	client, err := thedyrt.New(thedyrt.Config{
		BaseURL:           cfg.API.BaseURL,
		UserAgent:         cfg.API.UserAgent,
		Timeout:           cfg.APITimeout(),
		MaxAttempts:       cfg.API.MaxAttempts,
		DetailMaxAttempts: cfg.API.DetailMaxAttempts,
		BackoffMin:        time.Duration(cfg.API.BackoffMinSeconds) * time.Second,
		BackoffMax:        time.Duration(cfg.API.BackoffMaxSeconds) * time.Second,
		RateLimitCooldown: time.Duration(cfg.API.CooldownSeconds) * time.Second,
		Concurrency:       cfg.API.Concurrency,
		RequestsPerSecond: float64(cfg.API.RequestsPerSecond),
	}, logger.Named("thedyrt"))
	if err != nil {
		logger.Fatal("api client init failed", zap.Error(err))
	}

	scr, err := scraper.New(client, store, scraper.Config{
		GridSize:     cfg.Scraper.GridSize,
		PagesPerCell: cfg.Scraper.PagesPerCell,
		PageSize:     cfg.Scraper.PageSize,
		BatchSize:    cfg.Scraper.BatchSize,
		SaveInterval: cfg.Scraper.SaveInterval,
		PagePause:    time.Duration(cfg.Scraper.PagePauseMs) * time.Millisecond,
		BatchPause:   time.Duration(cfg.Scraper.BatchPauseMs) * time.Millisecond,
	}, logger.Named("scraper"))
	if err != nil {
		logger.Fatal("scraper init failed", zap.Error(err))
	}

	runner, err := app.NewRunner(scr, store, blobs, publisher, app.Config{
		Bounds: geo.BoundingBox{
			North: cfg.Scraper.BoundsNorth,
			South: cfg.Scraper.BoundsSouth,
			East:  cfg.Scraper.BoundsEast,
			West:  cfg.Scraper.BoundsWest,
		},
		Topic:        cfg.PubSub.TopicName,
		ReportPrefix: cfg.Storage.Prefix,
	}, logger.Named("runner"))
	if err != nil {
		logger.Fatal("runner init failed", zap.Error(err))
	}

	apiServer := api.NewServer(runner, store, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if interval := cfg.RunInterval(); interval > 0 {
		go func() {
			logger.Info("scheduler started", zap.Duration("interval", interval))
			runner.RunScheduled(ctx, interval)
		}()
	}

	if *runOnStart {
		if runID, err := runner.Start(ctx); err != nil {
			logger.Error("initial run failed to start", zap.Error(err))
		} else {
			logger.Info("initial run started", zap.String("run_id", runID))
		}
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	runner.Shutdown()
	logger.Info("shutdown complete")
}

func buildBlobProvider(ctx context.Context, cfg config.Config, logger *zap.Logger) (storage.Provider, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		logger.Info("using GCS blob store", zap.String("bucket", cfg.Storage.GCSBucket))
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket, Prefix: cfg.Storage.Prefix})
	case "local":
		logger.Info("using local blob store", zap.String("base_dir", cfg.Storage.BaseDir))
		return local.New(local.Config{BaseDir: cfg.Storage.BaseDir})
	default:
		logger.Info("run report archival disabled")
		return nil, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (app.Publisher, func(), error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("run event publishing disabled")
		return nil, func() {}, nil
	}
	client, err := gcpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, nil, fmt.Errorf("pubsub client: %w", err)
	}
	pub := pubsubpublisher.New(client.Topic(cfg.PubSub.TopicName))
	logger.Info("publishing run events", zap.String("topic", cfg.PubSub.TopicName))
	cleanup := func() {
		pub.Stop()
		if err := client.Close(); err != nil {
			logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	return pub, cleanup, nil
}
