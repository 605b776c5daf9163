// Package app builds and holds the long-lived services of a jobharvest
// process, acting as its dependency injection container.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobharvest/internal/classifier"
	"github.com/JakeFAU/jobharvest/internal/clock/system"
	"github.com/JakeFAU/jobharvest/internal/config"
	"github.com/JakeFAU/jobharvest/internal/crawler"
	"github.com/JakeFAU/jobharvest/internal/fetcher"
	collyfetcher "github.com/JakeFAU/jobharvest/internal/fetcher/colly"
	"github.com/JakeFAU/jobharvest/internal/fetcher/headless"
	"github.com/JakeFAU/jobharvest/internal/filter"
	iduuid "github.com/JakeFAU/jobharvest/internal/id/uuid"
	"github.com/JakeFAU/jobharvest/internal/ingest"
	"github.com/JakeFAU/jobharvest/internal/notify"
	"github.com/JakeFAU/jobharvest/internal/orchestrator"
	"github.com/JakeFAU/jobharvest/internal/policy/ratelimit"
	"github.com/JakeFAU/jobharvest/internal/postscan"
	"github.com/JakeFAU/jobharvest/internal/progress"
	"github.com/JakeFAU/jobharvest/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/jobharvest/internal/publisher/memory"
	pubgcp "github.com/JakeFAU/jobharvest/internal/publisher/pubsub"
	"github.com/JakeFAU/jobharvest/internal/schedule"
	"github.com/JakeFAU/jobharvest/internal/session"
	"github.com/JakeFAU/jobharvest/internal/source/builtin"
	"github.com/JakeFAU/jobharvest/internal/storage/gcs"
	"github.com/JakeFAU/jobharvest/internal/storage/local"
	"github.com/JakeFAU/jobharvest/internal/storage/memory"
	"github.com/JakeFAU/jobharvest/internal/storage/postgres"
	"github.com/JakeFAU/jobharvest/internal/storage/rediscache"
	"github.com/JakeFAU/jobharvest/internal/storage/sqlite"
	"github.com/JakeFAU/jobharvest/internal/telemetry"
)

// Options carries process-level inputs that do not come from Config.
type Options struct {
	Logger *zap.Logger
	// Registerer receives the progress collectors; nil uses the default
	// registry.
	Registerer prometheus.Registerer
	Version    string
}

// App holds the shared services. It is built once at startup and closed on
// shutdown.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	store     crawler.JobStore
	blobs     crawler.BlobStore
	publisher crawler.Publisher
	denylist  *filter.Denylist
	hub       *progress.Hub
	orch      *orchestrator.Orchestrator
	post      *postscan.Pipeline
	runner    *schedule.Runner

	readiness []func(ctx context.Context) error
	closers   []func(ctx context.Context) error
}

// New builds every service from cfg and fails fast if one cannot start.
// Already-started services are closed on failure.
func New(ctx context.Context, cfg config.Config, opts Options) (_ *App, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()
	logger.Info("initializing application services",
		zap.String("store", cfg.Store.Driver),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("pubsub", cfg.PubSub.Backend),
		zap.Int("targets", len(cfg.Targets)))

	if cfg.Tracing.Enabled {
		tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing.ServiceName, opts.Version, nil)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.onClose(func(ctx context.Context) error { return shutdownTracer(ctx, tp) })
	}

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	if err := a.initBlobs(ctx); err != nil {
		return nil, err
	}
	if err := a.initPublisher(ctx); err != nil {
		return nil, err
	}
	if err := a.initProgress(opts.Registerer); err != nil {
		return nil, err
	}

	if cfg.Run.Filtering {
		a.denylist, err = filter.Load(cfg.Filters.Path, logger)
		if err != nil {
			return nil, fmt.Errorf("load denylist: %w", err)
		}
		logger.Info("denylist loaded", zap.String("path", cfg.Filters.Path), zap.Int("keywords", a.denylist.Len()))
	}

	if err := a.initOrchestrator(); err != nil {
		return nil, err
	}
	if err := a.initPostScan(); err != nil {
		return nil, err
	}
	a.runner = schedule.NewRunner(a.RunOnce, logger)

	logger.Info("application services initialized")
	return a, nil
}

func (a *App) onClose(fn func(ctx context.Context) error) {
	a.closers = append(a.closers, fn)
}

func (a *App) initStore(ctx context.Context) error {
	cfg := a.cfg.Store
	var store crawler.JobStore
	switch cfg.Driver {
	case "memory":
		store = memory.NewJobStore()
	case "sqlite":
		s, err := sqlite.Open(ctx, cfg.DSN)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.onClose(func(context.Context) error { return s.Close() })
		a.readiness = append(a.readiness, s.Ping)
		store = s
	case "postgres":
		s, err := postgres.NewJobStore(ctx, postgres.Config{DSN: cfg.DSN, Table: cfg.Table, MaxConns: cfg.MaxConns})
		if err != nil {
			return fmt.Errorf("open postgres store: %w", err)
		}
		a.onClose(func(context.Context) error { s.Close(); return nil })
		if err := s.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure postgres schema: %w", err)
		}
		a.readiness = append(a.readiness, s.Ping)
		store = s
	default:
		return fmt.Errorf("unknown store driver: %s", cfg.Driver)
	}

	if cfg.RedisURL != "" {
		client, err := rediscache.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		a.readiness = append(a.readiness, func(ctx context.Context) error { return client.Ping(ctx).Err() })
		key := rediscache.KeyFor(cfg.RedisKey, cfg.Driver, cfg.DSN, cfg.Table)
		store = rediscache.Wrap(store, client, key, a.logger)
		a.logger.Info("known-id cache enabled", zap.String("key", key))
	}
	a.store = store
	return nil
}

func (a *App) initBlobs(ctx context.Context) error {
	cfg := a.cfg.Storage
	switch cfg.Backend {
	case "memory":
		a.blobs = memory.NewBlobStore()
	case "local":
		b, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return fmt.Errorf("init local storage: %w", err)
		}
		a.blobs = b
	case "gcs":
		b, err := gcs.Open(ctx, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs storage: %w", err)
		}
		a.onClose(func(context.Context) error { return b.Close() })
		a.blobs = b
	default:
		return fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
	return nil
}

func (a *App) initPublisher(ctx context.Context) error {
	cfg := a.cfg.PubSub
	switch cfg.Backend {
	case "memory":
		a.publisher = pubmemory.New()
	case "gcp":
		client, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		pub := pubgcp.New(client, map[string]string{ingest.DefaultTopic: cfg.Topic})
		a.onClose(func(context.Context) error {
			pub.Stop()
			return client.Close()
		})
		a.publisher = pub
	default:
		return fmt.Errorf("unknown pubsub backend: %s", cfg.Backend)
	}
	return nil
}

func (a *App) initProgress(reg prometheus.Registerer) error {
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		var already prometheus.AlreadyRegisteredError
		if !errors.As(err, &already) {
			return fmt.Errorf("init progress metrics: %w", err)
		}
		a.logger.Warn("progress collectors already registered, metrics sink disabled")
		a.hub = progress.NewHub(progress.Config{Logger: a.logger}, sinks.NewLogSink(a.logger))
	} else {
		a.hub = progress.NewHub(progress.Config{Logger: a.logger}, sinks.NewLogSink(a.logger), promSink)
	}
	a.onClose(a.hub.Close)
	return nil
}

func (a *App) initOrchestrator() error {
	cfg := a.cfg
	httpClient := &http.Client{
		Timeout:   cfg.HTTPTimeout(),
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	var pages crawler.Fetcher = collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawl.UserAgent,
		RespectRobots: cfg.Crawl.RespectRobots,
		Timeout:       cfg.HTTPTimeout(),
	})
	if cfg.Headless.Enabled {
		render, err := headless.NewChromedp(headless.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawl.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSeconds) * time.Second,
		})
		if err != nil {
			return fmt.Errorf("init headless fetcher: %w", err)
		}
		a.onClose(func(context.Context) error { render.Close(); return nil })
		pages = fetcher.Router{Static: pages, Render: render}
	} else {
		pages = fetcher.Router{Static: pages, Render: headless.NewNoop()}
	}

	registry, err := builtin.NewRegistry(builtin.Options{
		HTTPClient:   httpClient,
		UserAgent:    cfg.Crawl.UserAgent,
		PageSize:     cfg.Crawl.PageSize,
		PageFetcher:  pages,
		Sessions:     session.New(a.logger),
		AdzunaAppID:  cfg.Adzuna.AppID,
		AdzunaAppKey: cfg.Adzuna.AppKey,
		Logger:       a.logger,
	})
	if err != nil {
		return fmt.Errorf("build adapter registry: %w", err)
	}

	deps := orchestrator.Deps{
		Registry:  registry,
		Store:     a.store,
		Publisher: a.publisher,
		Blobs:     a.blobs,
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultBurst: 1,
			PerProvider:  map[string]float64{string(crawler.KindAdzuna): cfg.Crawl.AggregatorRPS},
		}),
		Clock:    system.New(),
		IDs:      iduuid.New(),
		Progress: a.hub,
		Logger:   a.logger,
	}
	if a.denylist != nil {
		deps.Denylist = a.denylist
	}
	a.orch, err = orchestrator.New(deps, orchestrator.Config{
		Targets:            cfg.Targets,
		Run:                cfg.RunSwitches(),
		QueueDepth:         cfg.Crawl.QueueDepth,
		PageSize:           cfg.Crawl.PageSize,
		OffsetCap:          cfg.Crawl.OffsetCap,
		Politeness:         cfg.Politeness(),
		AggregatorMinDelay: time.Duration(cfg.Crawl.AggregatorMinDelay) * time.Second,
		AggregatorMaxDelay: time.Duration(cfg.Crawl.AggregatorMaxDelay) * time.Second,
		Topic:              ingest.DefaultTopic,
		SummaryPrefix:      cfg.Storage.Prefix,
	})
	if err != nil {
		return fmt.Errorf("build orchestrator: %w", err)
	}
	return nil
}

func (a *App) initPostScan() error {
	cfg := a.cfg
	var (
		cls   postscan.Classifier
		notif postscan.Notifier
	)
	if cfg.Run.Classification {
		c, err := classifier.New(&http.Client{
			Timeout:   time.Duration(cfg.Classifier.TimeoutSeconds) * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}, classifier.Config{
			Endpoint:       cfg.Classifier.Endpoint,
			APIKey:         cfg.Classifier.APIKey,
			Model:          cfg.Classifier.Model,
			SystemPrompt:   cfg.Classifier.SystemPrompt,
			DescriptionCap: cfg.Classifier.DescriptionCap,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("build classifier: %w", err)
		}
		cls = c
	}
	if cfg.Run.Notifications {
		m, err := notify.New(notify.Config{
			Host:        cfg.Notifier.Host,
			Port:        cfg.Notifier.Port,
			Username:    cfg.Notifier.Username,
			Password:    cfg.Notifier.Password,
			From:        cfg.Notifier.From,
			ImplicitTLS: cfg.Notifier.ImplicitTLS,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("build notifier: %w", err)
		}
		notif = m
	}
	post, err := postscan.New(a.store, cls, notif, postscan.Config{
		Run:       cfg.RunSwitches(),
		Recipient: cfg.Notifier.Recipient,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("build post-scan pipeline: %w", err)
	}
	a.post = post
	return nil
}

// RunOnce executes scan, classification and notification in order.
func (a *App) RunOnce(ctx context.Context) (schedule.Report, error) {
	report := schedule.Report{StartedAt: time.Now().UTC()}
	summary, err := a.orch.Run(ctx)
	report.Scan = summary
	if err != nil {
		report.FinishedAt = time.Now().UTC()
		return report, fmt.Errorf("scan: %w", err)
	}
	if ctx.Err() != nil {
		a.logger.Warn("run stopped, skipping post-scan")
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}
	post, err := a.post.Run(ctx)
	report.PostScan = post
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		return report, fmt.Errorf("post-scan: %w", err)
	}
	return report, nil
}

// StartBackground starts the denylist watcher when configured.
func (a *App) StartBackground(ctx context.Context) {
	if a.denylist == nil || !a.cfg.Filters.Watch {
		return
	}
	if err := a.denylist.Watch(ctx); err != nil {
		a.logger.Warn("denylist watch disabled", zap.Error(err))
	}
}

// Ready runs every readiness check.
func (a *App) Ready(ctx context.Context) error {
	for _, check := range a.readiness {
		if err := check(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Store returns the job store.
func (a *App) Store() crawler.JobStore { return a.store }

// Runner returns the guarded run entry point.
func (a *App) Runner() *schedule.Runner { return a.runner }

// Close shuts services down in reverse start order.
func (a *App) Close(ctx context.Context) {
	a.logger.Info("shutting down application services")
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func shutdownTracer(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if err := tp.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown tracer: %w", err)
	}
	return nil
}
