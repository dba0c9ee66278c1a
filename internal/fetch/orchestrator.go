package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Ashwin-z/savereelify.com/internal/clock/system"
	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/metrics"
	"github.com/Ashwin-z/savereelify.com/internal/pool"
)

// Default timings.
const (
	DefaultDeadline        = 15 * time.Second
	DefaultResolverTimeout = 15 * time.Second
	DefaultProbeTimeout    = 5 * time.Second
	recordTimeout          = 2 * time.Second
)

// Default titles used when the rendered page has none.
const (
	DefaultReelTitle = "Instagram Reel"
	DefaultPostTitle = "Instagram Post"
)

// Sessions leases a browser session for the duration of fn.
type Sessions interface {
	Do(ctx context.Context, fn func(context.Context, *pool.Session) error) error
}

// ResultCache stores merged results by canonical key.
type ResultCache interface {
	Get(key string) (media.Result, bool)
	Put(key string, value media.Result)
}

// Config tunes the orchestrator.
type Config struct {
	// Deadline bounds session acquisition and the page/resolver race.
	Deadline time.Duration
	// ResolverTimeout is the resolver's own timer inside the race.
	ResolverTimeout time.Duration
	ProbeTimeout    time.Duration
	// Coalesce merges concurrent fetches of the same key into one.
	Coalesce bool
}

// Deps are the collaborators of an Orchestrator. Records, Clock and IDs are optional.
type Deps struct {
	Sessions Sessions
	Cache    ResultCache
	Resolver media.Resolver
	Prober   media.Prober
	Records  media.RecordStore
	Clock    media.Clock
	IDs      media.IDGenerator
	Logger   *zap.Logger
}

// Orchestrator runs fetches against its injected collaborators.
type Orchestrator struct {
	cfg      Config
	sessions Sessions
	cache    ResultCache
	resolver media.Resolver
	prober   media.Prober
	records  media.RecordStore
	clock    media.Clock
	ids      media.IDGenerator
	logger   *zap.Logger
	group    singleflight.Group
}

// New wires an Orchestrator. Sessions, Cache and Resolver are required.
func New(cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Sessions == nil || deps.Cache == nil || deps.Resolver == nil {
		return nil, errors.New("fetch: sessions, cache and resolver are required")
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	if cfg.ResolverTimeout <= 0 {
		cfg.ResolverTimeout = DefaultResolverTimeout
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		sessions: deps.Sessions,
		cache:    deps.Cache,
		resolver: deps.Resolver,
		prober:   deps.Prober,
		records:  deps.Records,
		clock:    deps.Clock,
		ids:      deps.IDs,
		logger:   deps.Logger.Named("fetch"),
	}, nil
}

type target struct {
	tag          media.PostType
	accepts      []media.PostType
	defaultTitle string
}

var (
	reelTarget = target{tag: media.PostTypeReel, accepts: []media.PostType{media.PostTypeReel}, defaultTitle: DefaultReelTitle}
	postTarget = target{
		tag:          media.PostTypePost,
		accepts:      []media.PostType{media.PostTypePost, media.PostTypeReel},
		defaultTitle: DefaultPostTitle,
	}
)

// FetchReel resolves a reel link.
func (o *Orchestrator) FetchReel(ctx context.Context, rawURL string) (media.Result, error) {
	return o.fetch(ctx, rawURL, reelTarget)
}

// FetchPost resolves a post link. Reel links are accepted and reported as posts.
func (o *Orchestrator) FetchPost(ctx context.Context, rawURL string) (media.Result, error) {
	return o.fetch(ctx, rawURL, postTarget)
}

func (o *Orchestrator) fetch(ctx context.Context, rawURL string, t target) (media.Result, error) {
	start := o.clock.Now()
	res, hit, err := o.run(ctx, rawURL, t)
	dur := o.clock.Now().Sub(start)
	code := media.CodeOf(err)
	metrics.ObserveFetch(string(t.tag), string(code), dur)

	fields := []zap.Field{
		zap.String("url", rawURL),
		zap.String("type", string(t.tag)),
		zap.Bool("cache_hit", hit),
		zap.Duration("dur", dur),
	}
	switch {
	case err == nil:
		o.logger.Info("fetch completed", fields...)
	case code == media.CodeInternal:
		o.logger.Error("fetch failed", append(fields, zap.Error(err))...)
	default:
		o.logger.Warn("fetch failed", append(fields, zap.String("code", string(code)), zap.Error(err))...)
	}
	if !errors.Is(err, media.ErrInvalidInput) {
		o.record(ctx, media.FetchRecord{
			URL:         rawURL,
			Type:        t.tag,
			Success:     err == nil,
			Code:        code,
			DownloadURL: res.DownloadURL,
			MediaType:   res.MediaType,
			CacheHit:    hit,
			Duration:    dur,
			CreatedAt:   start,
		})
	}
	return res, err
}

func (o *Orchestrator) run(ctx context.Context, rawURL string, t target) (media.Result, bool, error) {
	post, err := media.ParsePostURL(rawURL)
	if err != nil {
		return media.Result{}, false, err
	}
	if !post.Is(t.accepts...) {
		return media.Result{}, false, fmt.Errorf("%w: %s links are not supported here", media.ErrInvalidInput, post.Type)
	}

	key := string(t.tag) + ":" + post.Key()
	if res, ok := o.cache.Get(key); ok {
		return res, true, nil
	}

	if !o.cfg.Coalesce {
		res, err := o.resolve(ctx, post, t, key)
		return res, false, err
	}

	// The shared call is detached from any one caller; each waiter still honors
	// its own context. The call itself stays bound by Deadline inside resolve.
	ch := o.group.DoChan(key, func() (v any, err error) {
		defer recoverAs(media.ErrExtractionFailed, &err)
		return o.resolve(context.WithoutCancel(ctx), post, t, key)
	})
	select {
	case r := <-ch:
		if r.Err != nil {
			return media.Result{}, false, r.Err
		}
		return r.Val.(media.Result), false, nil
	case <-ctx.Done():
		return media.Result{}, false, fmt.Errorf("fetch %s: %w", post.Key(), ctx.Err())
	}
}

// resolve runs the session-bound race, then selects and classifies the media
// after the session is back in the pool.
func (o *Orchestrator) resolve(ctx context.Context, post media.PostURL, t target, key string) (media.Result, error) {
	var (
		meta       media.PageMetadata
		candidates []string
		leased     bool
	)
	deadlineCtx, cancel := context.WithTimeout(ctx, o.cfg.Deadline)
	defer cancel()
	err := o.sessions.Do(deadlineCtx, func(ctx context.Context, s *pool.Session) error {
		leased = true
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() (err error) {
			defer recoverAs(media.ErrExtractionFailed, &err)
			m, err := s.Fetch(gctx, post.Raw)
			if err != nil {
				return fmt.Errorf("%w: %w", media.ErrExtractionFailed, err)
			}
			meta = m
			return nil
		})
		g.Go(func() (err error) {
			defer recoverAs(media.ErrResolverFailed, &err)
			c, err := o.callResolver(gctx, post.Raw)
			if err != nil {
				return err
			}
			candidates = c
			return nil
		})
		return g.Wait()
	})
	if err != nil {
		if !leased {
			return media.Result{}, acquireError(err)
		}
		return media.Result{}, err
	}

	downloadURL, err := media.SelectMedia(candidates)
	if err != nil {
		return media.Result{}, err
	}
	title := meta.Title
	if title == "" {
		title = t.defaultTitle
	}
	res := media.Result{
		Success:     true,
		Type:        t.tag,
		Title:       title,
		Thumbnail:   meta.Thumbnail,
		Username:    meta.Username,
		DownloadURL: downloadURL,
		MediaType:   o.classify(ctx, downloadURL),
	}
	o.cache.Put(key, res)
	return res, nil
}

// callResolver races the resolver against its own timer. A resolver that
// ignores ctx is abandoned once the timer fires. Expiry of either the timer
// or the shared deadline is reported as a resolver timeout; a sibling failure
// that cancels ctx is not.
func (o *Orchestrator) callResolver(ctx context.Context, postURL string) ([]string, error) {
	rctx, cancel := context.WithTimeout(ctx, o.cfg.ResolverTimeout)
	defer cancel()

	type outcome struct {
		candidates []string
		err        error
	}
	done := make(chan outcome, 1)
	go func() {
		var out outcome
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: fmt.Errorf("panic: %v", r)}
			}
			done <- out
		}()
		out.candidates, out.err = o.resolver.Resolve(rctx, postURL)
	}()

	select {
	case out := <-done:
		if out.err == nil {
			return out.candidates, nil
		}
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", media.ErrResolverTimeout, out.err)
		}
		return nil, fmt.Errorf("%w: %w", media.ErrResolverFailed, out.err)
	case <-rctx.Done():
		if errors.Is(rctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s", media.ErrResolverTimeout, o.cfg.ResolverTimeout)
		}
		return nil, fmt.Errorf("%w: %w", media.ErrResolverFailed, rctx.Err())
	}
}

// classify decides between video and image, probing the remote only when the
// URL itself is ambiguous.
func (o *Orchestrator) classify(ctx context.Context, downloadURL string) media.Kind {
	if kind, ok := media.KindFromURL(downloadURL); ok {
		return kind
	}
	if o.prober != nil {
		pctx, cancel := context.WithTimeout(ctx, o.cfg.ProbeTimeout)
		defer cancel()
		contentType, err := o.prober.ContentType(pctx, downloadURL)
		if err == nil {
			if kind, ok := media.KindFromContentType(contentType); ok {
				return kind
			}
		} else {
			o.logger.Debug("media probe failed", zap.String("url", downloadURL), zap.Error(err))
		}
	}
	return media.KindHint(downloadURL)
}

func (o *Orchestrator) record(ctx context.Context, rec media.FetchRecord) {
	if o.records == nil {
		return
	}
	if o.ids != nil {
		id, err := o.ids.NewID()
		if err != nil {
			o.logger.Warn("fetch record id", zap.Error(err))
			return
		}
		rec.ID = id
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := o.records.SaveFetch(rctx, rec); err != nil {
		o.logger.Warn("save fetch record", zap.String("url", rec.URL), zap.Error(err))
	}
}

// recoverAs turns a panic in the current goroutine into an error wrapping
// sentinel. It must be deferred directly.
func recoverAs(sentinel error, err *error) {
	if r := recover(); r != nil {
		*err = fmt.Errorf("%w: panic: %v", sentinel, r)
	}
}

func acquireError(err error) error {
	switch {
	case errors.Is(err, pool.ErrExhausted):
		return fmt.Errorf("%w: %w", media.ErrOverloaded, err)
	case errors.Is(err, pool.ErrClosed):
		return fmt.Errorf("%w: %w", media.ErrPoolClosed, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("acquire session: %w", err)
	default:
		return fmt.Errorf("%w: open session: %w", media.ErrExtractionFailed, err)
	}
}
