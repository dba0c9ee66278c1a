package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/metrics"
	"github.com/Ashwin-z/savereelify.com/internal/pool"
	"github.com/Ashwin-z/savereelify.com/internal/progress/sinks"
	"github.com/Ashwin-z/savereelify.com/internal/proxy"
)

// DefaultFetchTimeout bounds a fetch request end to end.
const DefaultFetchTimeout = 60 * time.Second

// Fetcher resolves Instagram links into media results.
type Fetcher interface {
	FetchReel(ctx context.Context, rawURL string) (media.Result, error)
	FetchPost(ctx context.Context, rawURL string) (media.Result, error)
}

// Downloader opens proxied media streams.
type Downloader interface {
	Open(ctx context.Context, req proxy.Request) (*proxy.Download, error)
}

// PoolStats reports session pool occupancy for readiness checks.
type PoolStats interface {
	Stats() pool.Stats
}

// Limiter enforces the per-client request budget on /api routes.
type Limiter interface {
	Allow(key string) bool
	RetryAfter(key string) time.Duration
}

// ProgressReader looks up the latest state of a download.
type ProgressReader interface {
	Get(id [16]byte) (sinks.Snapshot, bool)
}

// Options wires the server's collaborators. Pool, Limiter and Progress are
// optional.
type Options struct {
	Fetcher        Fetcher
	Downloader     Downloader
	Pool           PoolStats
	Limiter        Limiter
	Progress       ProgressReader
	AllowedOrigins []string
	FetchTimeout   time.Duration
	Logger         *zap.Logger
}

// Server wires HTTP handlers to the fetch orchestrator and download proxy.
type Server struct {
	router     chi.Router
	fetcher    Fetcher
	downloader Downloader
	pool       PoolStats
	limiter    Limiter
	progress   ProgressReader
	validate   *validator.Validate
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	s := &Server{
		fetcher:    opts.Fetcher,
		downloader: opts.Downloader,
		pool:       opts.Pool,
		limiter:    opts.Limiter,
		progress:   opts.Progress,
		validate:   validator.New(),
		logger:     opts.Logger.Named("api"),
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(middleware.RealIP)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoverMiddleware(s.logger))
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware(opts.AllowedOrigins))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())
	r.Get("/test", s.test)
	r.Get("/download", s.download)

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(rateLimitMiddleware(s.limiter))
			}
			r.Use(timeoutMiddleware(opts.FetchTimeout))
			r.Post("/fetch-instagram", s.fetchReel)
			r.Post("/fetch-instagram-post", s.fetchPost)
		})
		r.Get("/downloads/{download_id}/progress", s.downloadProgress)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports 503 once the session pool has been shut down.
func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.pool == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	stats := s.pool.Stats()
	if stats.Closed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "closed", "pool": stats})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "pool": stats})
}

func (s *Server) test(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Server is working!"})
}
