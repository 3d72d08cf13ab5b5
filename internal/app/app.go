// Package app initializes and holds long-lived application services, acting as
// a dependency injection container for the CLI commands.
package app

import (
	"context"
	"fmt"
	"sync"

	gcsclient "cloud.google.com/go/storage"
	googleuuid "github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/sold-listings-crawler/internal/api"
	"github.com/JakeFAU/sold-listings-crawler/internal/artifact"
	"github.com/JakeFAU/sold-listings-crawler/internal/clock/system"
	"github.com/JakeFAU/sold-listings-crawler/internal/collate"
	"github.com/JakeFAU/sold-listings-crawler/internal/config"
	"github.com/JakeFAU/sold-listings-crawler/internal/counts"
	"github.com/JakeFAU/sold-listings-crawler/internal/crawl"
	"github.com/JakeFAU/sold-listings-crawler/internal/fetcher"
	"github.com/JakeFAU/sold-listings-crawler/internal/id/uuid"
	"github.com/JakeFAU/sold-listings-crawler/internal/notify"
	"github.com/JakeFAU/sold-listings-crawler/internal/progress"
	"github.com/JakeFAU/sold-listings-crawler/internal/progress/sinks"
	"github.com/JakeFAU/sold-listings-crawler/internal/quarantine"
	"github.com/JakeFAU/sold-listings-crawler/internal/session"
	"github.com/JakeFAU/sold-listings-crawler/internal/storage/gcs"
	"github.com/JakeFAU/sold-listings-crawler/internal/storage/postgres"
)

// App holds the shared services for one CLI invocation: configuration, the
// logger, the artifact store, the progress hub and the run's notifier.
// Browser sessions and exporters are built on demand by the commands that
// need them.
type App struct {
	cfg      config.Config
	logger   *zap.Logger
	clock    *system.Clock
	runID    googleuuid.UUID
	store    *artifact.Store
	registry *prometheus.Registry
	hub      *progress.Hub
	notifier *notify.EventNotifier

	mu      sync.Mutex
	closers []func()
	closed  bool
}

// Options carries destinations built outside New, mostly for tests.
type Options struct {
	// ExtraDestinations are appended to the notification sink.
	ExtraDestinations []notify.Destination
}

// New builds the container from cfg. A Pub/Sub destination is dialed here
// when notify.pubsub.enabled is set.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock, err := system.New(cfg.Crawl.Timezone)
	if err != nil {
		return nil, fmt.Errorf("build clock: %w", err)
	}
	runID, err := uuid.NewGenerator().NewRunID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	store, err := artifact.New(cfg.Storage.OutputDir, logger)
	if err != nil {
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	registry := prometheus.NewRegistry()
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		return nil, fmt.Errorf("register progress metrics: %w", err)
	}

	extra := append([]notify.Destination(nil), opts.ExtraDestinations...)
	ncfg := cfg.NotifierConfig()
	if ncfg.PubSub.Enabled {
		ps, err := notify.NewPubSub(ctx, ncfg.PubSub)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		extra = append(extra, ps)
	}
	noticeSink, err := notify.NewSink(ncfg, logger, extra...)
	if err != nil {
		for _, d := range extra {
			_ = d.Close()
		}
		return nil, fmt.Errorf("build notification sink: %w", err)
	}

	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger), promSink, noticeSink)
	runBytes := progress.UUIDToBytes(runID)

	logger.Info("application services initialized",
		zap.String("run_id", runID.String()),
		zap.String("output_dir", store.Root()),
		zap.Strings("notify", noticeSink.Destinations()),
	)

	return &App{
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		runID:    runID,
		store:    store,
		registry: registry,
		hub:      hub,
		notifier: notify.NewEventNotifier(hub, runBytes, clock.Now),
	}, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the clock in the crawl timezone.
func (a *App) Clock() *system.Clock { return a.clock }

// RunID returns this invocation's run identifier.
func (a *App) RunID() googleuuid.UUID { return a.runID }

// Store returns the artifact store rooted at storage.output_dir.
func (a *App) Store() *artifact.Store { return a.store }

// Emitter returns the progress hub.
func (a *App) Emitter() progress.Emitter { return a.hub }

// Notifier returns the run's operator notifier.
func (a *App) Notifier() notify.Notifier { return a.notifier }

// Registry returns the Prometheus registry progress metrics are recorded in.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// Sessions builds a browser session manager backed by chromedp.
func (a *App) Sessions() (*session.Manager, error) {
	launcher, err := session.NewChromeLauncher(a.cfg.ChromeConfig(), a.logger)
	if err != nil {
		return nil, fmt.Errorf("build chrome launcher: %w", err)
	}
	return session.NewManager(launcher, a.logger)
}

// Fetcher builds the retrying page fetcher.
func (a *App) Fetcher() (*fetcher.Fetcher, error) {
	return fetcher.New(a.cfg.FetcherConfig(), a.notifier, a.logger)
}

// Crawler wires an orchestrator around sessions. cfg overrides the configured
// crawl settings, which lets commands apply flag values.
func (a *App) Crawler(cfg crawl.Config, sessions crawl.Sessions) (*crawl.Orchestrator, error) {
	f, err := a.Fetcher()
	if err != nil {
		return nil, err
	}
	q, err := quarantine.New(a.store, a.logger)
	if err != nil {
		return nil, err
	}
	return crawl.New(cfg, crawl.Deps{
		Sessions:   sessions,
		Fetcher:    f,
		Pages:      a.store,
		Quarantine: q,
		Notifier:   a.notifier,
		Emitter:    a.hub,
		Logger:     a.logger,
		Now:        a.clock.Now,
	}, progress.UUIDToBytes(a.runID))
}

// Prober wires the listing-count probe around sessions.
func (a *App) Prober(sessions counts.Sessions) (*counts.Prober, error) {
	f, err := a.Fetcher()
	if err != nil {
		return nil, err
	}
	return counts.New(counts.Config{
		CountSelector: a.cfg.Source.CountSelector,
		RotateEvery:   a.cfg.Counts.RotateEvery,
		Headless:      a.cfg.Browser.Headless,
	}, sessions, f, a.store, a.logger)
}

// Collator builds a collator with the exporters enabled in configuration:
// GCS when storage.gcs_bucket is set and Postgres when db.dsn is set.
func (a *App) Collator(ctx context.Context) (*collate.Collator, error) {
	exporters, err := a.exporters(ctx)
	if err != nil {
		return nil, err
	}
	return collate.New(a.store, a.hub, progress.UUIDToBytes(a.runID), a.logger, exporters...)
}

func (a *App) exporters(ctx context.Context) ([]collate.Exporter, error) {
	var out []collate.Exporter
	if a.cfg.Storage.GCSBucket != "" {
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("close gcs client", zap.Error(err))
			}
		})
		blobs, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Storage.GCSBucket, Prefix: a.cfg.Storage.GCSPrefix}, a.logger)
		if err != nil {
			return nil, err
		}
		out = append(out, blobs)
	}
	if a.cfg.DB.DSN != "" {
		rows, err := postgres.NewListingStore(ctx, postgres.Config{
			DSN:      a.cfg.DB.DSN,
			Table:    a.cfg.DB.Table,
			MaxConns: a.cfg.DB.MaxConns,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(rows.Close)
		out = append(out, rows)
	}
	return out, nil
}

// Server builds the status server over the artifact store.
func (a *App) Server() (*api.Server, error) {
	pages, err := collate.New(a.store, progress.Discard, progress.UUIDToBytes(a.runID), a.logger)
	if err != nil {
		return nil, err
	}
	return api.NewServer(a.store, pages, a.registry, a.logger)
}

func (a *App) onClose(fn func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close flushes the progress hub, so queued notices are delivered, then
// releases exporter clients. It is safe to call more than once.
func (a *App) Close(ctx context.Context) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	err := a.hub.Close(ctx)
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
	return err
}
