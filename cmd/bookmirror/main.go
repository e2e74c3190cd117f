// Package main wires together the book mirroring service.
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

	"cloud.google.com/go/pubsub"
	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/hxlab/bookmirror/internal/api"
	"github.com/hxlab/bookmirror/internal/clock/system"
	"github.com/hxlab/bookmirror/internal/config"
	"github.com/hxlab/bookmirror/internal/fetch"
	"github.com/hxlab/bookmirror/internal/id/uuid"
	"github.com/hxlab/bookmirror/internal/ingest"
	"github.com/hxlab/bookmirror/internal/logging"
	"github.com/hxlab/bookmirror/internal/metrics"
	"github.com/hxlab/bookmirror/internal/mirror"
	"github.com/hxlab/bookmirror/internal/orchestrator"
	memorypublisher "github.com/hxlab/bookmirror/internal/publisher/memory"
	pubsubpublisher "github.com/hxlab/bookmirror/internal/publisher/pubsub"
	"github.com/hxlab/bookmirror/internal/quota"
	"github.com/hxlab/bookmirror/internal/source"
	"github.com/hxlab/bookmirror/internal/storage/gcs"
	"github.com/hxlab/bookmirror/internal/storage/imagecdn"
	memorystorage "github.com/hxlab/bookmirror/internal/storage/memory"
	"github.com/hxlab/bookmirror/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
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
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	pg, err := store.New(ctx, store.Config{
		DSN:             cfg.DB.DSN,
		MaxConns:        cfg.DB.MaxConns,
		MinConns:        cfg.DB.MinConns,
		MaxConnLifetime: time.Duration(cfg.DB.MaxConnLifetime) * time.Minute,
	})
	if err != nil {
		logger.Fatal("postgres init failed", zap.Error(err))
	}
	defer pg.Close()

	objStore, err := buildObjectStore(ctx, cfg)
	if err != nil {
		logger.Fatal("storage backend init failed", zap.Error(err))
	}

	var events ingest.Publisher = memorypublisher.New()
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		pub := pubsubpublisher.New(client)
		defer pub.Close()
		events = pub
	}

	fetcher := fetch.NewPageFetcher(fetch.Config{
		Timeout:   cfg.FetchTimeout(),
		MaxBodyMB: cfg.Fetch.MaxBodyMB,
	}, logger.Named("fetch"))

	downloadTimeout := time.Duration(cfg.Mirror.DownloadTimeoutSeconds) * time.Second
	thumbs := mirror.New(objStore, mirror.Config{
		ChunkSize:       cfg.Mirror.ThumbChunkSize,
		ChunkPause:      cfg.ChunkPause(),
		DownloadTimeout: downloadTimeout,
		DownloadRetries: cfg.Mirror.DownloadRetries,
	}, logger.Named("mirror.thumbs"))
	images := mirror.New(objStore, mirror.Config{
		ChunkSize:       cfg.Mirror.ChapterChunkSize,
		ChunkPause:      cfg.ChunkPause(),
		DownloadTimeout: downloadTimeout,
		DownloadRetries: cfg.Mirror.DownloadRetries,
	}, logger.Named("mirror.chapters"))

	ledger := quota.NewLedger(pg, cfg.Quota.DefaultCapBytes, logger.Named("quota"))

	orch := orchestrator.New(
		fetcher,
		source.NewRegistry(),
		thumbs,
		images,
		pg,
		pg,
		ledger,
		events,
		system.New(),
		uuid.New(),
		orchestrator.Config{
			KeyPrefix: cfg.Storage.KeyPrefix,
			Topic:     cfg.PubSub.TopicName,
		},
		logger.Named("orchestrator"),
	)

	apiServer := api.NewServer(orch, pg.Ping, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
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
	logger.Info("shutdown complete")
}

func buildObjectStore(ctx context.Context, cfg config.Config) (ingest.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(ctx, client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "imagecdn":
		return imagecdn.New(imagecdn.Config{
			BaseURL: cfg.Storage.CDNBaseURL,
			Timeout: time.Duration(cfg.Mirror.DownloadTimeoutSeconds) * time.Second,
			Retries: cfg.Mirror.DownloadRetries,
		})
	case "memory":
		return memorystorage.NewStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}
