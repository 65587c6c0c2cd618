// Package main wires together the reader service binary.
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
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/avlecchia/lectern/internal/api"
	"github.com/avlecchia/lectern/internal/browser"
	"github.com/avlecchia/lectern/internal/clock/system"
	"github.com/avlecchia/lectern/internal/config"
	"github.com/avlecchia/lectern/internal/cruncher"
	"github.com/avlecchia/lectern/internal/format"
	"github.com/avlecchia/lectern/internal/hash/sha256"
	"github.com/avlecchia/lectern/internal/id/uuid"
	"github.com/avlecchia/lectern/internal/interrogate"
	"github.com/avlecchia/lectern/internal/llm"
	"github.com/avlecchia/lectern/internal/logging"
	"github.com/avlecchia/lectern/internal/progress"
	progresssinks "github.com/avlecchia/lectern/internal/progress/sinks"
	pubmemory "github.com/avlecchia/lectern/internal/publisher/memory"
	gcppublisher "github.com/avlecchia/lectern/internal/publisher/pubsub"
	"github.com/avlecchia/lectern/internal/reader"
	recmemory "github.com/avlecchia/lectern/internal/records/memory"
	recpostgres "github.com/avlecchia/lectern/internal/records/postgres"
	"github.com/avlecchia/lectern/internal/scheduler"
	"github.com/avlecchia/lectern/internal/search"
	"github.com/avlecchia/lectern/internal/storage/gcs"
	"github.com/avlecchia/lectern/internal/storage/local"
	"github.com/avlecchia/lectern/internal/storage/memory"
	"github.com/avlecchia/lectern/internal/tools"
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
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	var records reader.RecordStore
	if cfg.DB.DSN != "" {
		store, err := recpostgres.NewRecordStore(ctx, recpostgres.RecordStoreConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: int32(cfg.DB.MaxOpenConns),
		})
		if err != nil {
			return fmt.Errorf("init record store: %w", err)
		}
		defer store.Close()
		records = store
	} else {
		logger.Warn("no db.dsn configured, using in-memory record store")
		records = recmemory.NewRecordStore()
	}

	var publisher reader.Publisher
	if cfg.PubSub.ProjectID != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("init pubsub: %w", err)
		}
		defer client.Close()
		pub, err := gcppublisher.New(client, cfg.PubSub.TopicName)
		if err != nil {
			return fmt.Errorf("init publisher: %w", err)
		}
		defer pub.Stop()
		publisher = pub
	} else {
		publisher = pubmemory.New()
	}

	promSink, err := progresssinks.NewPrometheusSink(nil)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logging.Component(logger, "progress")},
		progresssinks.NewLogSink(logging.Component(logger, "progress")), promSink)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := hub.Close(closeCtx); err != nil {
			logger.Warn("progress hub close failed", zap.Error(err))
		}
	}()

	clock := system.New()
	ids := uuid.New()
	hasher := sha256.New()

	pool, err := browser.NewPool(browser.PoolConfig{
		UserAgent:      cfg.Browser.UserAgent,
		NavTimeout:     cfg.NavTimeout(),
		MaxContexts:    cfg.Browser.MaxContexts,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
	}, logging.Component(logger, "browser"))
	if err != nil {
		return fmt.Errorf("init browser pool: %w", err)
	}
	defer pool.Close()

	pipeline := browser.NewPipeline(pool, hasher, hub, clock, cfg.Browser.DomainQPS, logging.Component(logger, "pipeline"))
	formatter := format.New(blobs, ids, logging.Component(logger, "format"))

	var searcher reader.Searcher = search.Disabled{}
	if cfg.Search.Endpoint != "" {
		client, err := search.New(search.Config{
			Endpoint: cfg.Search.Endpoint,
			APIKey:   cfg.Search.APIKey,
			Count:    cfg.Search.Count,
		}, logging.Component(logger, "search"))
		if err != nil {
			return fmt.Errorf("init search: %w", err)
		}
		searcher = client
	}

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, pipeline, formatter, searcher); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	llmClient := llm.NewClient(llm.Config{
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
	}, logging.Component(logger, "llm"))
	loop := interrogate.NewLoop(llmClient, registry, ids, hub, clock,
		cfg.LLM.WindowSize, logging.Component(logger, "interrogate"))

	crunch := cruncher.New(cruncher.Config{
		Prefix:      cfg.Crunch.Prefix,
		Rev:         cfg.Crunch.Rev,
		TMinusDays:  cfg.Crunch.TMinusDays,
		BatchSize:   cfg.Crunch.BatchSize,
		MaxInFlight: cfg.Crunch.MaxInFlight,
	}, records, blobs, formatter, clock, hub, logging.Component(logger, "cruncher"))

	nightly := scheduler.New(scheduler.Config{Hour: 2}, func(runCtx context.Context) error {
		return crunch.Run(runCtx, nil)
	}, logging.Component(logger, "scheduler"))
	go nightly.Run(ctx)

	server := api.NewServer(pipeline, formatter, loop, crunch, records, blobs,
		publisher, ids, clock, cfg, logging.Component(logger, "api"))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildBlobStore(ctx context.Context, cfg config.Config) (reader.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}
