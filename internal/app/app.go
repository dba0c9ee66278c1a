// Package app builds the long-lived services from configuration and runs the
// HTTP server until shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ashwin-z/savereelify.com/internal/api"
	"github.com/Ashwin-z/savereelify.com/internal/browser"
	"github.com/Ashwin-z/savereelify.com/internal/cache"
	"github.com/Ashwin-z/savereelify.com/internal/clock/system"
	"github.com/Ashwin-z/savereelify.com/internal/config"
	"github.com/Ashwin-z/savereelify.com/internal/fetch"
	"github.com/Ashwin-z/savereelify.com/internal/id/uuid"
	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/policy/ratelimit"
	"github.com/Ashwin-z/savereelify.com/internal/pool"
	"github.com/Ashwin-z/savereelify.com/internal/progress"
	"github.com/Ashwin-z/savereelify.com/internal/progress/sinks"
	"github.com/Ashwin-z/savereelify.com/internal/proxy"
	"github.com/Ashwin-z/savereelify.com/internal/resolver"
	"github.com/Ashwin-z/savereelify.com/internal/storage/memory"
	"github.com/Ashwin-z/savereelify.com/internal/storage/postgres"
)

// Options replaces collaborators that reach outside the process. Zero values
// build the production implementations from the Config.
type Options struct {
	Engine     pool.Engine
	Resolver   media.Resolver
	Prober     media.Prober
	Records    media.RecordStore
	Registerer prometheus.Registerer
}

// App holds the wired services.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	pool    *pool.Pool
	cache   *cache.Store[media.Result]
	limiter *ratelimit.Limiter
	hub     *progress.Hub
	tracker *sinks.Tracker
	fetcher *fetch.Orchestrator
	proxy   *proxy.Proxy
	server  *api.Server
	closers []func()

	closeOnce sync.Once
	closeErr  error
}

// New wires every service described by cfg. Nothing talks to Chrome until the
// first fetch leases a session.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	clock := system.New()
	ids := uuid.New()
	a := &App{cfg: cfg, logger: logger}

	records, err := a.recordStore(ctx, opts.Records)
	if err != nil {
		return nil, err
	}

	engine := opts.Engine
	if engine == nil {
		engine = browser.NewEngine(browser.Config{
			ExecPath:          cfg.Browser.ExecPath,
			Headless:          cfg.Browser.Headless,
			NoSandbox:         cfg.Browser.NoSandbox,
			UserAgent:         cfg.Browser.UserAgent,
			NavigationTimeout: config.Seconds(cfg.Browser.NavTimeoutSec),
		}, logger.Named("browser"))
	}
	a.pool = pool.New(pool.Config{Capacity: cfg.Pool.Capacity}, engine, ids, logger.Named("pool"))
	a.cache = cache.New[media.Result](cfg.CacheTTL(), clock, logger.Named("cache"))

	res := opts.Resolver
	if res == nil {
		res = resolver.NewGraphQL(resolver.Config{
			Endpoint:  cfg.Resolver.Endpoint,
			DocID:     cfg.Resolver.DocID,
			AppID:     cfg.Resolver.AppID,
			UserAgent: cfg.Browser.UserAgent,
			Timeout:   config.Seconds(cfg.Resolver.TimeoutSeconds),
		}, logger.Named("resolver"))
	}
	prober := opts.Prober
	if prober == nil {
		prober = resolver.NewHeadProber(cfg.Browser.UserAgent, config.Seconds(cfg.Fetch.ProbeTimeoutSeconds))
	}

	a.fetcher, err = fetch.New(fetch.Config{
		Deadline:        config.Seconds(cfg.Fetch.DeadlineSeconds),
		ResolverTimeout: config.Seconds(cfg.Fetch.ResolverTimeoutSeconds),
		ProbeTimeout:    config.Seconds(cfg.Fetch.ProbeTimeoutSeconds),
		Coalesce:        cfg.Fetch.Coalesce,
	}, fetch.Deps{
		Sessions: a.pool,
		Cache:    a.cache,
		Resolver: res,
		Prober:   prober,
		Records:  records,
		Clock:    clock,
		IDs:      ids,
		Logger:   logger,
	})
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("build orchestrator: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(opts.Registerer)
	if err != nil {
		a.runClosers()
		return nil, fmt.Errorf("register progress metrics: %w", err)
	}
	a.tracker = sinks.NewTracker(config.Seconds(cfg.Progress.RetentionSeconds), clock)
	a.hub = progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.MaxBatchWaitMs) * time.Millisecond,
		Logger:         logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("download")), promSink, a.tracker)

	a.proxy = proxy.New(proxy.Config{
		MaxBytes:     cfg.Download.MaxBytes,
		Timeout:      config.Seconds(cfg.Download.TimeoutSeconds),
		IdleTimeout:  config.Seconds(cfg.Download.IdleTimeoutSeconds),
		AllowedHosts: cfg.Download.AllowedHosts,
		UserAgent:    cfg.Browser.UserAgent,
		ProgressStep: cfg.Download.ProgressStep,
	}, nil, a.hub, logger)

	apiOpts := api.Options{
		Fetcher:        a.fetcher,
		Downloader:     a.proxy,
		Pool:           a.pool,
		Progress:       a.tracker,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	}
	if cfg.RateLimit.Enabled {
		a.limiter = ratelimit.New(ratelimit.Config{
			Requests: cfg.RateLimit.Requests,
			Window:   config.Seconds(cfg.RateLimit.WindowSeconds),
		}, clock)
		apiOpts.Limiter = a.limiter
	}
	a.server = api.NewServer(apiOpts)

	logger.Info("application services initialized",
		zap.Int("pool_capacity", cfg.Pool.Capacity),
		zap.Duration("cache_ttl", cfg.CacheTTL()),
		zap.Bool("rate_limit", cfg.RateLimit.Enabled),
	)
	return a, nil
}

// recordStore picks Postgres when a DSN is configured and the in-memory ring
// otherwise.
func (a *App) recordStore(ctx context.Context, override media.RecordStore) (media.RecordStore, error) {
	if override != nil {
		return override, nil
	}
	if a.cfg.DB.DSN == "" {
		a.logger.Info("using in-memory fetch record store")
		return memory.NewFetchStore(0), nil
	}
	store, err := postgres.NewFetchStore(ctx, postgres.FetchStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init fetch record store: %w", err)
	}
	if a.cfg.DB.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, fmt.Errorf("ensure fetch record schema: %w", err)
		}
	}
	a.closers = append(a.closers, store.Close)
	a.logger.Info("using postgres fetch record store", zap.String("table", a.cfg.DB.Table))
	return store, nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Fetcher exposes the orchestrator for one-shot CLI use.
func (a *App) Fetcher() api.Fetcher {
	return a.fetcher
}

// Handler returns the HTTP routes.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// ListenAndServe listens on the configured port and serves until ctx ends.
func (a *App) ListenAndServe(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", a.cfg.Addr(), err)
	}
	return a.Serve(ctx, ln)
}

// Serve runs the HTTP server and the background sweepers on ln. When ctx is
// canceled the server drains in-flight requests within the shutdown timeout.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.Handler(),
		ReadHeaderTimeout: config.Seconds(a.cfg.Server.ReadHeaderTimeoutSec),
		ErrorLog:          zap.NewStdLog(a.logger.Named("http")),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.guard("cache sweeper", func() { a.cache.Run(gctx) }))
	if a.limiter != nil {
		g.Go(a.guard("rate limit sweeper", func() { a.limiter.Run(gctx) }))
	}
	g.Go(func() error {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// guard turns a panic in a background loop into an error, which stops the
// server so the caller can close the pool.
func (a *App) guard(name string, fn func()) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("background task panicked",
					zap.String("task", name), zap.Any("panic", r), zap.Stack("stack"))
				err = fmt.Errorf("%s: panic: %v", name, r)
			}
		}()
		fn()
		return nil
	}
}

// Close shuts the pool down, flushes progress sinks and releases the record
// store. Later calls return the first result.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.logger.Info("shutting down application services")
		var errs []error
		if err := a.pool.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown pool: %w", err))
		}
		if err := a.hub.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close progress hub: %w", err))
		}
		a.runClosers()
		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}

func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
