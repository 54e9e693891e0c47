// Package app builds a crawl run's dependencies from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/ingest-crawler/internal/clock/system"
	"github.com/JakeFAU/ingest-crawler/internal/config"
	"github.com/JakeFAU/ingest-crawler/internal/crawler"
	"github.com/JakeFAU/ingest-crawler/internal/id/uuid"
	"github.com/JakeFAU/ingest-crawler/internal/ingest"
	"github.com/JakeFAU/ingest-crawler/internal/metrics"
	gcppublisher "github.com/JakeFAU/ingest-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/ingest-crawler/internal/sitemap"
	crawlstorage "github.com/JakeFAU/ingest-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/ingest-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/ingest-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/ingest-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/ingest-crawler/internal/storage/postgres"
	"github.com/JakeFAU/ingest-crawler/internal/telemetry"
)

const serviceName = "ingest-crawler"

// App contains one crawl run's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	crawler    *crawler.Crawler
	handler    *ingest.Handler
	discoverer *sitemap.Discoverer

	registry      *prometheus.Registry
	recorder      *metrics.Recorder
	metricsServer *http.Server

	storage         *storage.Client
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	documentStore   *pgstore.DocumentStore
	tracerShutdown  func(context.Context) error
}

// Build creates the application's dependencies. On error everything opened
// so far is closed again.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("run id: %w", err)
	}
	app := &App{
		cfg:      cfg,
		logger:   logger.With(zap.String("run_id", runID)),
		runID:    runID,
		registry: prometheus.NewRegistry(),
	}
	if err := app.build(ctx); err != nil {
		if cerr := app.Close(context.Background()); cerr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	tp, err := telemetry.InitTracerProvider(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	a.recorder = metrics.NewRecorder(a.registry)

	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return err
	}
	docs, err := a.setupDocuments(ctx)
	if err != nil {
		return err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return err
	}

	a.handler, err = ingest.New(blobs, docs, publisher, system.New(), ingest.Config{
		MinTextLength: a.cfg.Ingest.MinTextLength,
		BlobPrefix:    a.cfg.Storage.Prefix,
		ContentType:   a.cfg.Storage.ContentType,
		Topic:         a.cfg.PubSub.Topic,
		RunID:         a.runID,
	}, a.logger.Named("ingest"))
	if err != nil {
		return fmt.Errorf("ingest handler init failed: %w", err)
	}

	opts, err := a.cfg.CrawlerOptions(a.logger.Named("crawler"))
	if err != nil {
		return err
	}
	opts.Observer = a.recorder
	a.crawler, err = crawler.New(opts)
	if err != nil {
		return fmt.Errorf("crawler init failed: %w", err)
	}
	a.discoverer = sitemap.NewDiscoverer(opts.HTTPClient, opts.UserAgent, a.logger.Named("sitemap"))

	return a.startMetricsServer()
}

func (a *App) setupStorage(ctx context.Context) (crawlstorage.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCSBucket))
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobs, err := gcsstorage.New(a.storage, gcsstorage.Config{Bucket: a.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDocuments(ctx context.Context) (crawlstorage.DocumentStore, error) {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("No DSN specified for database, keeping documents in memory")
		return memorystorage.NewDocumentStore(), nil
	}
	var err error
	a.documentStore, err = pgstore.NewDocumentStore(ctx, pgstore.DocumentStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("document store init failed: %w", err)
	}
	a.logger.Info("document store initialized", zap.String("table", a.cfg.DB.Table))
	return a.documentStore, nil
}

func (a *App) setupPublisher(ctx context.Context) (ingest.Publisher, error) {
	if a.cfg.PubSub.Topic == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("No Pub/Sub topic configured, notifications disabled")
		return nil, nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubPublisher = gcppublisher.New(a.pubsubClient, a.cfg.PubSub.Topic)
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return a.pubsubPublisher, nil
}

func (a *App) startMetricsServer() error {
	if a.cfg.Metrics.Addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", a.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	a.metricsServer = &http.Server{
		Handler:           a.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.logger.Info("metrics server started", zap.String("addr", ln.Addr().String()))
		if err := a.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// RunID identifies this run in logs and notifications.
func (a *App) RunID() string { return a.runID }

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Handler exposes the ingest handler, mainly for its Stats.
func (a *App) Handler() *ingest.Handler { return a.handler }

// MetricsHandler serves /metrics and /healthz for this run's registry.
func (a *App) MetricsHandler() http.Handler {
	return metrics.NewRouter(a.recorder, a.registry)
}

// Seeds merges configured and extra seeds and, when sitemaps are enabled,
// appends the sitemap URLs that are absolute, share the seed's origin and
// look like HTML pages.
func (a *App) Seeds(ctx context.Context, extra []string) ([]string, error) {
	seeds := append(append([]string{}, a.cfg.Crawler.Seeds...), extra...)
	if !a.cfg.Crawler.UseSitemaps {
		return seeds, nil
	}
	out := append([]string{}, seeds...)
	for _, seed := range seeds {
		found, err := a.discoverer.Discover(ctx, seed)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			a.logger.Warn("sitemap discovery failed", zap.String("seed", seed), zap.Error(err))
			continue
		}
		kept := a.sitemapSeeds(seed, found)
		a.logger.Info("sitemap urls discovered", zap.String("seed", seed),
			zap.Int("count", len(found)), zap.Int("kept", len(kept)))
		out = append(out, kept...)
	}
	return out, nil
}

// sitemapSeeds keeps the sitemap URLs a crawl rooted at seed may visit.
func (a *App) sitemapSeeds(seed string, found []string) []string {
	seedOrigin, err := crawler.OriginOf(seed)
	if err != nil {
		return nil
	}
	kept := make([]string, 0, len(found))
	for _, u := range found {
		origin, err := crawler.OriginOf(u)
		switch {
		case err != nil:
			a.logger.Debug("dropping sitemap url", zap.String("url", u), zap.Error(err))
		case origin != seedOrigin:
			a.logger.Debug("dropping off-origin sitemap url", zap.String("url", u), zap.String("seed_origin", seedOrigin))
		case !sitemap.LooksLikeHTML(u):
			a.logger.Debug("dropping non-html sitemap url", zap.String("url", u))
		default:
			kept = append(kept, u)
		}
	}
	return kept
}

// Run crawls seeds with the ingest handler.
func (a *App) Run(ctx context.Context, seeds []string) (crawler.Result, error) {
	a.logger.Info("crawl started", zap.Int("seeds", len(seeds)))
	res, err := a.crawler.Crawl(ctx, seeds, a.handler.PageHandler())
	stats := a.handler.Stats()
	a.logger.Info("crawl finished",
		zap.Int("visited", res.Visited),
		zap.Int("discovered", res.Discovered),
		zap.Int("errors", len(res.Errors)),
		zap.Int64("stored", stats.Stored),
		zap.Int64("too_thin", stats.TooThin),
	)
	if err != nil {
		return res, fmt.Errorf("crawl: %w", err)
	}
	return res, nil
}

// Close releases every client the run opened.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			a.logger.Warn("metrics server shutdown failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.documentStore != nil {
		a.documentStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
}
