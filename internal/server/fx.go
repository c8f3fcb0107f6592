// Package server builds the pricefeed process from configuration and runs it
// until a signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricefeed/internal/api"
	"github.com/JakeFAU/pricefeed/internal/browser"
	"github.com/JakeFAU/pricefeed/internal/browser/gorod"
	"github.com/JakeFAU/pricefeed/internal/browser/headless"
	"github.com/JakeFAU/pricefeed/internal/clock/system"
	"github.com/JakeFAU/pricefeed/internal/config"
	"github.com/JakeFAU/pricefeed/internal/extract"
	"github.com/JakeFAU/pricefeed/internal/id/uuid"
	"github.com/JakeFAU/pricefeed/internal/ingest"
	"github.com/JakeFAU/pricefeed/internal/logging"
	memorynotifier "github.com/JakeFAU/pricefeed/internal/notifier/memory"
	pubsubnotifier "github.com/JakeFAU/pricefeed/internal/notifier/pubsub"
	"github.com/JakeFAU/pricefeed/internal/parse"
	"github.com/JakeFAU/pricefeed/internal/policy/ratelimit"
	"github.com/JakeFAU/pricefeed/internal/publisher"
	"github.com/JakeFAU/pricefeed/internal/registry"
	"github.com/JakeFAU/pricefeed/internal/snapshot"
	gcsstorage "github.com/JakeFAU/pricefeed/internal/storage/gcs"
	localstorage "github.com/JakeFAU/pricefeed/internal/storage/local"
	memorystorage "github.com/JakeFAU/pricefeed/internal/storage/memory"
	memorystore "github.com/JakeFAU/pricefeed/internal/store/memory"
	pgstore "github.com/JakeFAU/pricefeed/internal/store/postgres"
	redisstore "github.com/JakeFAU/pricefeed/internal/store/redis"
	"github.com/JakeFAU/pricefeed/internal/supervisor"
	"github.com/JakeFAU/pricefeed/internal/telemetry"
	"github.com/JakeFAU/pricefeed/internal/worker"
)

// App contains the application's dependencies.
type App struct {
	cfg        config.Config
	logger     *zap.Logger
	targets    []ingest.Target
	store      ingest.Store
	browser    *browser.Manager
	supervisor *supervisor.Supervisor
	apiServer  *api.Server

	pubsubClient *pubsub.Client
	notifier     *pubsubnotifier.Notifier
	storage      *storage.Client

	tracerShutdown func(context.Context) error
}

// Option overrides a dependency Build would otherwise create from config.
type Option func(*options)

type options struct {
	logger *zap.Logger
	driver browser.Driver
	store  ingest.Store
}

// WithLogger uses logger instead of building one from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithDriver uses driver instead of the one named by cfg.Browser.Driver.
func WithDriver(driver browser.Driver) Option {
	return func(o *options) { o.driver = driver }
}

// WithStore uses store instead of the one named by cfg.Store.Backend.
func WithStore(store ingest.Store) Option {
	return func(o *options) { o.store = store }
}

// Build creates the application's dependencies. It blocks until the store
// answers a ping or cfg.Store.ConnectAttempts is exhausted.
func Build(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development, cfg.Logging.Level)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger}
	app.logger.Info("building application dependencies",
		zap.String("mode", cfg.Mode),
		zap.String("store", cfg.Store.Backend),
		zap.String("driver", cfg.Browser.Driver),
	)

	tp, err := telemetry.InitTracerProvider(ctx, "pricefeed")
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown

	reg, err := registry.Load(cfg.Targets)
	if err != nil {
		return nil, fmt.Errorf("registry init failed: %w", err)
	}
	app.targets, err = reg.Only(cfg.OnlyTarget)
	if err != nil {
		return nil, err
	}

	built := false
	defer func() {
		if !built {
			app.closeInfrastructure()
		}
	}()

	app.store = o.store
	if app.store == nil {
		if app.store, err = OpenStore(ctx, cfg.Store, logger); err != nil {
			return nil, err
		}
	}

	notifier, err := setupNotifier(ctx, app)
	if err != nil {
		return nil, err
	}

	recorder, err := setupSnapshots(ctx, app)
	if err != nil {
		return nil, err
	}

	driver := o.driver
	if driver == nil {
		driver = setupDriver(app)
	}
	limiter := ratelimit.New(ratelimit.Config{
		PerHostRPS: cfg.RateLimit.PerHostRPS,
		Burst:      cfg.RateLimit.Burst,
	})
	app.browser = browser.NewManager(driver, limiter, browser.Config{
		Page: browser.PageOptions{
			UserAgent:      cfg.Browser.UserAgent,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			BlockResources: cfg.Browser.BlockResources,
		},
		NavigationTimeout: cfg.Browser.NavigationTimeout,
	}, logger.Named("browser"))

	clock := system.New()
	deps := worker.Deps{
		Browser: app.browser,
		Extractor: extract.New(extract.Config{
			PrimaryTimeout:  cfg.Worker.PrimaryTimeout,
			FallbackTimeout: cfg.Worker.FallbackTimeout,
		}, logger.Named("extract")),
		Parser: parse.New(logger.Named("parse")),
		Publisher: publisher.New(app.store, notifier, clock, publisher.Config{
			Namespace:     cfg.Store.Namespace,
			Backend:       cfg.Store.Backend,
			SubjectPrefix: cfg.Store.Namespace + ".",
		}, logger.Named("publisher")),
		Recorder: recorder,
		Clock:    clock,
		IDs:      uuid.New(),
		Logger:   logger,
	}
	app.supervisor = setupSupervisor(app, deps)

	if cfg.Server.Enabled {
		app.apiServer = api.NewServer(app.supervisor, app.store, app.browser, logger.Named("api"))
	}

	built = true
	return app, nil
}

// Statuses exposes the supervisor's worker states.
func (a *App) Statuses() []worker.Status {
	return a.supervisor.Statuses()
}

// Run starts the workers and the ops server and blocks until ctx is canceled,
// a signal arrives, or the browser cannot be started.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started", zap.Int("targets", len(a.targets)))
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              a.cfg.Server.Addr,
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.String("addr", a.cfg.Server.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	runErr := a.supervisor.Run(ctx)
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}

	a.close(shutdownCtx)
	return runErr
}

// Close releases every client Build opened.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	a.close(ctx)
}

func (a *App) close(ctx context.Context) {
	a.closeInfrastructure()
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.notifier != nil {
		a.notifier.Stop()
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
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("store close failed", zap.Error(err))
		}
	}
}

// OpenStore connects to the configured key-value store and waits until it
// answers. The postgres table is created when missing.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (ingest.Store, error) {
	switch cfg.Backend {
	case "redis":
		st, err := redisstore.New(redisstore.Config{
			URL:         cfg.Redis.URL,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err != nil {
			return nil, fmt.Errorf("redis store init failed: %w", err)
		}
		if err := waitForStore(ctx, st, cfg, logger); err != nil {
			_ = st.Close()
			return nil, err
		}
		return st, nil
	case "postgres":
		st, err := pgstore.New(ctx, pgstore.Config{
			DSN:      cfg.Postgres.DSN,
			Table:    cfg.Postgres.Table,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store init failed: %w", err)
		}
		if err := waitForStore(ctx, st, cfg, logger); err != nil {
			_ = st.Close()
			return nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			_ = st.Close()
			return nil, err
		}
		logger.Debug("postgres store ready", zap.String("table", cfg.Postgres.Table))
		return st, nil
	default:
		logger.Warn("using in-memory store; prices are not shared with other processes")
		return memorystore.New(), nil
	}
}

// waitForStore pings until the store answers. Zero ConnectAttempts retries
// until ctx is canceled.
func waitForStore(ctx context.Context, st ingest.Store, cfg config.StoreConfig, logger *zap.Logger) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = st.Ping(ctx); err == nil {
			logger.Info("store connected", zap.String("backend", cfg.Backend), zap.Int("attempt", attempt))
			return nil
		}
		if cfg.ConnectAttempts > 0 && attempt >= cfg.ConnectAttempts {
			return fmt.Errorf("store unreachable after %d attempts: %w", attempt, err)
		}
		logger.Warn("store not ready, retrying",
			zap.String("backend", cfg.Backend),
			zap.Int("attempt", attempt),
			zap.Duration("delay", cfg.ConnectRetryDelay),
			zap.Error(err),
		)
		timer := time.NewTimer(cfg.ConnectRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("waiting for store: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func setupNotifier(ctx context.Context, app *App) (ingest.Notifier, error) {
	cfg := app.cfg.Notify
	if !cfg.Enabled {
		app.logger.Info("price notifications disabled")
		return nil, nil
	}
	if cfg.Backend == "memory" {
		app.logger.Info("using in-memory notifier")
		return memorynotifier.New(), nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.notifier = pubsubnotifier.New(app.pubsubClient.Publisher(cfg.Topic))
	app.logger.Info("Pub/Sub notifier initialized",
		zap.String("project", cfg.ProjectID),
		zap.String("topic", cfg.Topic),
	)
	return app.notifier, nil
}

func setupSnapshots(ctx context.Context, app *App) (worker.Recorder, error) {
	cfg := app.cfg.Snapshots
	if !cfg.Enabled {
		return nil, nil
	}
	var blobStore ingest.BlobStore
	switch cfg.Backend {
	case "gcs":
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err = gcsstorage.New(app.storage, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
	case "local":
		local, err := localstorage.New(localstorage.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		blobStore = local
	default:
		blobStore = memorystorage.NewBlobStore()
	}
	app.logger.Info("page snapshots enabled",
		zap.String("backend", cfg.Backend),
		zap.String("prefix", cfg.Prefix),
	)
	return snapshot.NewRecorder(blobStore, system.New(), cfg.Prefix), nil
}

func setupDriver(app *App) browser.Driver {
	cfg := app.cfg.Browser
	logger := app.logger.Named("driver")
	if cfg.Driver == "rod" {
		return gorod.New(gorod.Config{
			ExecPath:   cfg.ExecPath,
			Headless:   cfg.Headless,
			ExtraFlags: cfg.ExtraFlags,
			Stealth:    cfg.Stealth,
			Locale:     cfg.Locale,
		}, logger)
	}
	if cfg.Stealth {
		app.logger.Warn("browser.stealth is only honored by the rod driver")
	}
	return headless.New(headless.Config{
		ExecPath:   cfg.ExecPath,
		Headless:   cfg.Headless,
		ExtraFlags: cfg.ExtraFlags,
		Locale:     cfg.Locale,
	}, logger)
}

func setupSupervisor(app *App, deps worker.Deps) *supervisor.Supervisor {
	cfg := app.cfg
	workerCfg := worker.Config{
		Interval:         cfg.Worker.Interval,
		BaseDelay:        cfg.Worker.BaseDelay,
		MaxBackoff:       cfg.Worker.MaxBackoff,
		RebuildThreshold: cfg.Worker.RebuildThreshold,
		HealthTimeout:    cfg.Worker.HealthTimeout,
		InPlaceSettle:    cfg.Worker.InPlaceSettle,
	}
	logger := app.logger.Named("supervisor")

	if cfg.Mode == config.ModeSequential {
		rr := worker.NewRoundRobin(app.targets, deps, workerCfg, worker.RoundRobinConfig{
			RestartRounds: cfg.Sequential.RestartRounds,
			TargetGap:     cfg.Sequential.TargetGap,
			RoundInterval: cfg.Sequential.RoundInterval,
		})
		app.logger.Info("sequential topology",
			zap.Int("targets", len(app.targets)),
			zap.Int("restart_rounds", cfg.Sequential.RestartRounds),
		)
		return supervisor.NewSequential(app.browser, rr, logger)
	}

	workers := make([]*worker.Worker, 0, len(app.targets))
	for _, t := range app.targets {
		workers = append(workers, worker.New(t, deps, workerCfg))
	}
	app.logger.Info("parallel topology", zap.Int("workers", len(workers)))
	return supervisor.NewParallel(app.browser, workers, logger)
}
