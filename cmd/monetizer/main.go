// Package main wires together the monetization service binary.
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

	gcsclient "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	gpubsub "cloud.google.com/go/pubsub"

	"github.com/pagelift/monetizer/internal/api"
	archivegcs "github.com/pagelift/monetizer/internal/archive/gcs"
	archivelocal "github.com/pagelift/monetizer/internal/archive/local"
	archivememory "github.com/pagelift/monetizer/internal/archive/memory"
	"github.com/pagelift/monetizer/internal/cache"
	cachefile "github.com/pagelift/monetizer/internal/cache/file"
	cachememory "github.com/pagelift/monetizer/internal/cache/memory"
	"github.com/pagelift/monetizer/internal/clock/system"
	"github.com/pagelift/monetizer/internal/config"
	eventspubsub "github.com/pagelift/monetizer/internal/events/pubsub"
	"github.com/pagelift/monetizer/internal/fetch"
	"github.com/pagelift/monetizer/internal/hash/sha256"
	"github.com/pagelift/monetizer/internal/id/uuid"
	"github.com/pagelift/monetizer/internal/intel"
	"github.com/pagelift/monetizer/internal/intel/provider"
	"github.com/pagelift/monetizer/internal/logging"
	"github.com/pagelift/monetizer/internal/monetize"
	"github.com/pagelift/monetizer/internal/mutate"
	"github.com/pagelift/monetizer/internal/pipeline"
	"github.com/pagelift/monetizer/internal/progress"
	"github.com/pagelift/monetizer/internal/progress/sinks"
	"github.com/pagelift/monetizer/internal/publish"
	"github.com/pagelift/monetizer/internal/relay"
	"github.com/pagelift/monetizer/internal/sitemap"
	"github.com/pagelift/monetizer/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	hasher := sha256.New()
	clock := system.New()
	ids := uuid.NewGenerator()

	cacheStore, err := newCacheStore(cfg)
	if err != nil {
		return err
	}
	pageCache := cache.New(cacheStore, clock, logger.Named("cache"))

	chain := relay.NewChain(cfg.Relay.Endpoints)
	probe := fetch.NewCollyProbe(cfg.Relay.UserAgent, cfg.RelayTimeout())

	var renderer fetch.Renderer
	var detector *fetch.Detector
	if cfg.Headless.Enabled {
		renderer = fetch.NewChromeRenderer(fetch.HeadlessConfig{
			UserAgent:   cfg.Relay.UserAgent,
			NavTimeout:  cfg.NavTimeout(),
			MaxParallel: cfg.Headless.MaxParallel,
		})
		detector = fetch.NewDetector(cfg.Headless.PromotionBodySize)
	}

	fetcher := fetch.New(
		fetch.Config{MinCacheBody: cfg.Relay.MinCacheBody},
		chain, probe, renderer, detector,
		pageCache, hasher, logger.Named("fetch"),
	)

	kind, err := provider.ParseKind(cfg.AI.Provider)
	if err != nil {
		return err
	}
	completer, err := provider.New(kind, provider.Options{
		APIKey:          cfg.AI.APIKey,
		Model:           cfg.AI.Model,
		BaseURL:         cfg.AI.BaseURL,
		GroundingSearch: cfg.AI.GroundingSearch,
	})
	if err != nil {
		return err
	}
	analyzer := intel.New(
		intel.Config{Provider: kind, ContextLen: cfg.AI.ContextLen},
		completer, pageCache, hasher, logger.Named("intel"),
	)

	gateway := publish.New(cfg.CMS.BaseURL, cfg.ServerTimeout(), logger.Named("publish"))

	archive, err := newArchive(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var eventPub monetize.EventPublisher
	if cfg.PubSub.Enabled {
		client, err := gpubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("pubsub client: %w", err)
		}
		defer client.Close()
		eventPub = eventspubsub.New(client.Topic(cfg.PubSub.TopicName))
	}

	var runStore *postgres.RunStore
	var runSink pipeline.RunSink
	var runReader api.RunReader
	if cfg.DB.DSN != "" {
		runStore, err = postgres.NewRunStore(ctx, cfg.DB)
		if err != nil {
			return err
		}
		defer runStore.Close()
		runSink = &storeSink{store: runStore}
		runReader = runStore
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return err
	}
	reporter := progress.NewReporter(
		progress.Config{BaseContext: ctx, Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		promSink,
	)

	strategy, err := mutate.ParseStrategy(cfg.Pipeline.Strategy)
	if err != nil {
		return err
	}

	orch := pipeline.New(pipeline.Config{
		CMS:                  cfg.CMS,
		Concurrency:          cfg.Pipeline.Concurrency,
		WindowPause:          cfg.WindowPause(),
		AutoPublishThreshold: cfg.Pipeline.AutoPublishThreshold,
		Autonomous:           cfg.Pipeline.Autonomous,
		Strategy:             strategy,
		AffiliateTag:         cfg.Pipeline.AffiliateTag,
		FallbackImage:        cfg.Pipeline.FallbackImage,
		EventTopic:           cfg.PubSub.TopicName,
	}, pipeline.Deps{
		Fetcher:        fetcher,
		Intelligence:   analyzer,
		Gateway:        gateway,
		Archive:        archive,
		EventPublisher: eventPub,
		Runs:           runSink,
		Reporter:       reporter,
		Hasher:         hasher,
		Clock:          clock,
		IDs:            ids,
		Logger:         logger.Named("pipeline"),
	})

	loader := sitemap.NewLoader(probe, pageCache, hasher, logger.Named("sitemap"))

	apiServer := api.NewServer(ctx, api.Config{
		CMS:            cfg.CMS,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.ServerTimeout(),
	}, orch, loader, gateway, runReader, registry, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutdown initiated")
	orch.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := reporter.Close(shutdownCtx); err != nil {
		logger.Error("progress reporter close error", zap.Error(err))
	}
	return nil
}

func newCacheStore(cfg config.Config) (cache.Store, error) {
	switch cfg.Cache.Backend {
	case "file":
		store, err := cachefile.NewStore(cfg.Cache.Dir)
		if err != nil {
			return nil, fmt.Errorf("file cache: %w", err)
		}
		return store, nil
	default:
		return cachememory.NewStore(cfg.Cache.MaxEntries), nil
	}
}

func newArchive(ctx context.Context, cfg config.Config, logger *zap.Logger) (monetize.BlobStore, error) {
	switch cfg.Archive.Backend {
	case "none":
		return nil, nil
	case "memory":
		return archivememory.NewBlobStore(), nil
	case "local":
		store, err := archivelocal.New(archivelocal.Config{BaseDir: cfg.Archive.Dir})
		if err != nil {
			return nil, fmt.Errorf("local archive: %w", err)
		}
		return store, nil
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		store, err := archivegcs.New(client, archivegcs.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, err
		}
		logger.Info("archive backend ready", zap.String("bucket", cfg.Archive.GCSBucket))
		return store, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.Archive.Backend)
	}
}

// storeSink adapts the Postgres run store to the pipeline's run sink.
type storeSink struct {
	store *postgres.RunStore
}

func (s *storeSink) RunStarted(ctx context.Context, runID, sitemapURL string, autonomous bool, total int, at time.Time) error {
	return s.store.CreateRun(ctx, postgres.RunRow{
		ID:         runID,
		SitemapURL: sitemapURL,
		Autonomous: autonomous,
		StartedAt:  at,
		Total:      total,
	})
}

func (s *storeSink) PageFinished(ctx context.Context, runID string, page monetize.PageRecord, outcome string, at time.Time) error {
	row := postgres.PageRow{
		RunID:       runID,
		URL:         page.URL,
		PostID:      page.PostID,
		Outcome:     outcome,
		Confidence:  page.Confidence,
		ErrorText:   page.ErrorText,
		CompletedAt: at,
	}
	if page.Proposed != nil {
		row.ASIN = page.Proposed.ASIN
	}
	return s.store.RecordPage(ctx, row)
}

func (s *storeSink) RunFinished(ctx context.Context, runID string, completed, published, failed int, at time.Time) error {
	return s.store.FinishRun(ctx, postgres.RunRow{
		ID:         runID,
		FinishedAt: &at,
		Completed:  completed,
		Published:  published,
		Failed:     failed,
	})
}
