// Package server provides the composition root: it builds every collaborator
// from configuration and runs the operator API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/posterwatch/internal/api"
	"github.com/JakeFAU/posterwatch/internal/app"
	"github.com/JakeFAU/posterwatch/internal/catalog"
	htmlcatalog "github.com/JakeFAU/posterwatch/internal/catalog/htmlpage"
	memorycatalog "github.com/JakeFAU/posterwatch/internal/catalog/memory"
	pgcatalog "github.com/JakeFAU/posterwatch/internal/catalog/postgres"
	"github.com/JakeFAU/posterwatch/internal/clock/system"
	"github.com/JakeFAU/posterwatch/internal/config"
	"github.com/JakeFAU/posterwatch/internal/id/uuid"
	"github.com/JakeFAU/posterwatch/internal/imageurl"
	"github.com/JakeFAU/posterwatch/internal/loader"
	"github.com/JakeFAU/posterwatch/internal/logging"
	"github.com/JakeFAU/posterwatch/internal/metrics"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/policy/ratelimit"
	collyprobe "github.com/JakeFAU/posterwatch/internal/probe/colly"
	"github.com/JakeFAU/posterwatch/internal/probe/headless"
	"github.com/JakeFAU/posterwatch/internal/progress"
	progresssinks "github.com/JakeFAU/posterwatch/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/posterwatch/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/posterwatch/internal/publisher/pubsub"
	"github.com/JakeFAU/posterwatch/internal/report"
	"github.com/JakeFAU/posterwatch/internal/scanner"
	gcsstorage "github.com/JakeFAU/posterwatch/internal/storage/gcs"
	localstorage "github.com/JakeFAU/posterwatch/internal/storage/local"
	memorystorage "github.com/JakeFAU/posterwatch/internal/storage/memory"
)

// Option customizes Build.
type Option func(*buildOptions)

type buildOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	prober     poster.Prober
}

// WithLogger uses logger instead of building one from the logging config.
func WithLogger(logger *zap.Logger) Option {
	return func(o *buildOptions) { o.logger = logger }
}

// WithRegisterer registers progress collectors against reg instead of the
// default registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *buildOptions) { o.registerer = reg }
}

// WithProber replaces the configured transport. The rate limiter still wraps
// it.
func WithProber(p poster.Prober) Option {
	return func(o *buildOptions) { o.prober = p }
}

// App contains the application's dependencies.
type App struct {
	cfg         *config.Config
	logger      *zap.Logger
	catalog     poster.Catalog
	prober      poster.Prober
	transformer imageurl.Transformer
	hub         *progress.Hub
	service     *app.Service
	apiServer   *api.Server

	closers []func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, logging.WithLevel(cfg.Logging.Level))
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}
	metrics.Init()

	a := &App{
		cfg:         cfg,
		logger:      logger,
		transformer: imageurl.New(cfg.Loader.ProxyBaseURL),
	}
	a.logger.Info("building application dependencies",
		zap.String("catalog", cfg.Catalog.Source),
		zap.String("transport", cfg.Probe.Transport),
		zap.String("report_storage", cfg.Report.Storage),
	)

	steps := []func() error{
		func() error { return a.setupCatalog(ctx) },
		func() error { return a.setupProber(o.prober) },
		func() error { return a.setupProgress(o.registerer) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			_ = a.closeAll(ctx)
			return nil, err
		}
	}

	sc, err := scanner.New(scanner.Config{
		Prober:       a.prober,
		IDs:          uuid.NewUUIDGenerator(),
		Emitter:      a.hub,
		Logger:       logger.Named("scanner"),
		ProbeTimeout: cfg.Probe.Timeout,
		Concurrency:  cfg.Probe.Concurrency,
	})
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, fmt.Errorf("scanner init failed: %w", err)
	}

	exporter, err := a.setupReports(ctx)
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, err
	}

	a.service, err = app.New(app.Config{
		Catalog:   a.catalog,
		Scanner:   sc,
		Runs:      memorystorage.NewRunStore(),
		Exporter:  exporter,
		Publisher: publisher,
		Topic:     cfg.PubSub.TopicName,
		Logger:    logger.Named("service"),
	})
	if err != nil {
		_ = a.closeAll(ctx)
		return nil, fmt.Errorf("service init failed: %w", err)
	}
	// Scans must stop before the hub and stores they write to.
	a.onClose(a.service.Close)

	a.apiServer = api.NewServer(a.service, api.Options{
		Auth:           cfg.Auth,
		RequestTimeout: cfg.Server.RequestTimeout,
		Transformer:    a.transformer,
		Logger:         logger.Named("api"),
	})
	return a, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Service returns the scan service.
func (a *App) Service() *app.Service {
	return a.service
}

// Handler returns the operator API handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// NewLoader builds a loader for ref over the configured transport.
func (a *App) NewLoader(ref poster.ResourceRef, listeners ...loader.Listener) (*loader.Loader, error) {
	l, err := loader.New(ref, loader.Config{
		Prober:       a.prober,
		Transformer:  a.transformer,
		StageTimeout: a.cfg.Loader.StageTimeout,
		Emitter:      a.hub,
		Logger:       a.logger.Named("loader"),
		Listeners:    listeners,
	})
	if err != nil {
		return nil, fmt.Errorf("loader init failed: %w", err)
	}
	return l, nil
}

// Run serves the operator API until ctx is canceled or a signal arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)

	select {
	case err := <-serveErr:
		return fmt.Errorf("serve http: %w", err)
	default:
		return closeErr
	}
}

// Close stops scans and releases every collaborator in reverse build order.
func (a *App) Close(ctx context.Context) error {
	err := a.closeAll(ctx)
	if syncErr := a.logger.Sync(); syncErr != nil {
		a.logger.Debug("logger sync failed", zap.Error(syncErr))
	}
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for _, closeFn := range a.closers {
		if err := closeFn(ctx); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func(context.Context) error) {
	a.closers = append([]func(context.Context) error{fn}, a.closers...)
}

func (a *App) setupCatalog(ctx context.Context) error {
	c := a.cfg.Catalog
	switch c.Source {
	case config.CatalogPostgres:
		pg, err := pgcatalog.New(ctx, pgcatalog.Config{
			DSN:         c.Postgres.DSN,
			Table:       c.Postgres.Table,
			IDColumn:    c.Postgres.IDColumn,
			TitleColumn: c.Postgres.TitleColumn,
			URLColumn:   c.Postgres.URLColumn,
			EagerFirst:  c.EagerFirst,
			MaxConns:    c.Postgres.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("postgres catalog init failed: %w", err)
		}
		a.onClose(func(context.Context) error {
			pg.Close()
			return nil
		})
		a.catalog = pg
		a.logger.Info("using postgres catalog", zap.String("table", c.Postgres.Table))
	case config.CatalogHTML:
		page, err := htmlcatalog.New(htmlcatalog.Config{
			PageURL:    c.PageURL,
			Selector:   c.Selector,
			UserAgent:  a.cfg.Probe.UserAgent,
			EagerFirst: c.EagerFirst,
		})
		if err != nil {
			return fmt.Errorf("html catalog init failed: %w", err)
		}
		a.catalog = page
		a.logger.Info("using html page catalog", zap.String("page_url", c.PageURL))
	default:
		mem := memorycatalog.New()
		if c.SeedFile != "" {
			var err error
			mem, err = memorycatalog.LoadFile(c.SeedFile)
			if err != nil {
				return fmt.Errorf("memory catalog init failed: %w", err)
			}
		}
		if c.EagerFirst > 0 {
			refs, _ := mem.ListResources(ctx)
			catalog.MarkEager(refs, c.EagerFirst)
			mem.Replace(refs)
		}
		a.catalog = mem
		a.logger.Info("using in-memory catalog", zap.String("seed_file", c.SeedFile))
	}
	return nil
}

func (a *App) setupProber(override poster.Prober) error {
	p := a.cfg.Probe
	prober := override
	switch {
	case prober != nil:
		a.logger.Info("using injected prober")
	case p.Transport == config.TransportHeadless:
		chrome, err := headless.NewChromedp(headless.Config{
			MaxParallel:       p.Headless.MaxParallel,
			UserAgent:         p.UserAgent,
			NavigationTimeout: p.Headless.NavTimeout,
		})
		if err != nil {
			return fmt.Errorf("headless prober init failed: %w", err)
		}
		a.onClose(func(context.Context) error {
			chrome.Close()
			return nil
		})
		prober = chrome
		a.logger.Info("using headless prober", zap.Int("max_parallel", p.Headless.MaxParallel))
	default:
		prober = collyprobe.New(collyprobe.Config{
			UserAgent:  p.UserAgent,
			Timeout:    p.RequestTimeout,
			SkipVerify: p.SkipVerify,
		})
		a.logger.Info("using colly prober", zap.String("user_agent", p.UserAgent))
	}

	if p.RateLimitRPS > 0 {
		limiter := ratelimit.New(ratelimit.Config{
			RPS:     p.RateLimitRPS,
			Burst:   p.RateLimitBurst,
			OnDelay: metrics.ObserveRateLimitDelay,
		})
		prober = limiter.Wrap(prober)
		a.logger.Info("rate limiter enabled",
			zap.Float64("rps", p.RateLimitRPS),
			zap.Int("burst", p.RateLimitBurst),
		)
	}
	a.prober = prober
	return nil
}

func (a *App) setupProgress(reg prometheus.Registerer) error {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		Now:            system.New().Now,
		Logger:         a.logger.Named("progress_hub"),
	}
	a.hub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		promSink,
	)
	a.onClose(a.hub.Close)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return nil
}

func (a *App) setupReports(ctx context.Context) (*report.Exporter, error) {
	r := a.cfg.Report
	var store poster.BlobStore
	switch r.Storage {
	case config.StorageGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.onClose(func(context.Context) error { return client.Close() })
		store, err = gcsstorage.New(client, gcsstorage.Config{Bucket: r.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("exporting reports to GCS", zap.String("bucket", r.GCSBucket))
	case config.StorageLocal:
		var err error
		store, err = localstorage.New(localstorage.Config{BaseDir: r.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Info("exporting reports to disk", zap.String("path", r.LocalDir))
	case config.StorageMemory:
		store = memorystorage.NewBlobStore()
		a.logger.Info("keeping reports in memory")
	default:
		a.logger.Info("report export disabled")
		return nil, nil
	}
	return report.NewExporter(store, r.Prefix), nil
}

func (a *App) setupPublisher(ctx context.Context) (poster.Publisher, error) {
	ps := a.cfg.PubSub
	if !ps.Enabled {
		a.logger.Info("Pub/Sub disabled, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, ps.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.onClose(func(context.Context) error { return pub.Close() })
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", ps.ProjectID),
		zap.String("topic", ps.TopicName),
	)
	return pub, nil
}
