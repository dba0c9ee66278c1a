// Package browser implements the session pool engine on headless Chrome via chromedp.
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/pool"
)

const defaultNavTimeout = 15 * time.Second

// ErrNotStarted is returned when a tab is requested before Start succeeded.
var ErrNotStarted = errors.New("browser not started")

// ErrTabTimeout is returned when Chrome does not create a tab in time.
var ErrTabTimeout = errors.New("tab creation timed out")

// DefaultBlockedResources are sub-resources never needed to read post metadata.
var DefaultBlockedResources = []network.ResourceType{
	network.ResourceTypeImage,
	network.ResourceTypeStylesheet,
	network.ResourceTypeFont,
	network.ResourceTypeMedia,
	network.ResourceTypeOther,
}

// DefaultBlockedURLKeywords drop tracking endpoints regardless of resource type.
var DefaultBlockedURLKeywords = []string{"analytics", "logging"}

// Config controls the Chrome process and per-tab setup.
type Config struct {
	ExecPath          string
	Headless          bool
	NoSandbox         bool
	UserAgent         string
	NavigationTimeout time.Duration
	BlockedResources  []network.ResourceType
	BlockedURLWords   []string
}

// Engine owns one Chrome process. Tabs are opened on demand by the pool.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu            sync.Mutex
	browserCtx    context.Context
	browserCancel context.CancelFunc
	allocCancel   context.CancelFunc
}

// NewEngine constructs an Engine without launching Chrome.
func NewEngine(cfg Config, logger *zap.Logger) *Engine {
	if cfg.UserAgent == "" {
		cfg.UserAgent = media.DefaultUserAgent
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavTimeout
	}
	if cfg.BlockedResources == nil {
		cfg.BlockedResources = DefaultBlockedResources
	}
	if cfg.BlockedURLWords == nil {
		cfg.BlockedURLWords = DefaultBlockedURLKeywords
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Start launches Chrome and waits until the browser target is ready.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx != nil {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", e.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.UserAgent(e.cfg.UserAgent),
	)
	if e.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	if e.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.cfg.ExecPath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	stopForward := forwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stopForward()
	if err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("chromedp warmup: %w", err)
	}

	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	e.allocCancel = allocCancel
	e.logger.Info("chrome started", zap.Bool("headless", e.cfg.Headless))
	return nil
}

// NewTab opens a tab with request interception and the client identity applied.
func (e *Engine) NewTab(ctx context.Context) (pool.Tab, error) {
	e.mu.Lock()
	browserCtx := e.browserCtx
	e.mu.Unlock()
	if browserCtx == nil {
		return nil, ErrNotStarted
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx)
	t := &tab{
		ctx:        tabCtx,
		cancel:     cancel,
		navTimeout: e.cfg.NavigationTimeout,
		blocker:    newBlocker(e.cfg.BlockedResources, e.cfg.BlockedURLWords),
		logger:     e.logger,
	}

	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()
	createTab := func() error { return chromedp.Run(tabCtx) }
	if err := createWithin(e.cfg.NavigationTimeout, cancel, createTab); err != nil {
		cancel()
		return nil, fmt.Errorf("create tab: %w", err)
	}
	chromedp.ListenTarget(tabCtx, t.onEvent)

	setupCtx, cancelSetup := context.WithTimeout(tabCtx, e.cfg.NavigationTimeout)
	defer cancelSetup()
	if err := chromedp.Run(setupCtx, t.setupAction(e.cfg.UserAgent)); err != nil {
		cancel()
		return nil, fmt.Errorf("configure tab: %w", err)
	}
	return t, nil
}

// Close terminates Chrome.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.browserCtx == nil {
		return nil
	}
	e.browserCancel()
	e.allocCancel()
	e.browserCtx = nil
	e.logger.Info("chrome stopped")
	return nil
}

type tab struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration
	blocker    blocker
	logger     *zap.Logger
}

// Fetch navigates and parses the rendered document. Cancelling ctx aborts the
// navigation but keeps the tab open for the next lease.
func (t *tab) Fetch(ctx context.Context, url string) (media.PageMetadata, error) {
	runCtx, cancel := context.WithTimeout(t.ctx, t.navTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	var html string
	if err := chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return media.PageMetadata{}, fmt.Errorf("render %s: %w", url, err)
	}
	return ParseMetadata(html)
}

func (t *tab) Close() error {
	t.cancel()
	return nil
}

func (t *tab) setupAction(userAgent string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		patterns := []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
		if err := fetch.Enable().WithPatterns(patterns).Do(ctx); err != nil {
			return fmt.Errorf("enable interception: %w", err)
		}
		if err := emulation.SetUserAgentOverride(userAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

func (t *tab) onEvent(ev any) {
	paused, ok := ev.(*fetch.EventRequestPaused)
	if !ok {
		return
	}
	// Listener callbacks must not block the event loop.
	go t.decide(paused)
}

func (t *tab) decide(ev *fetch.EventRequestPaused) {
	c := chromedp.FromContext(t.ctx)
	if c == nil || c.Target == nil {
		return
	}
	ctx := cdp.WithExecutor(t.ctx, c.Target)
	var err error
	if ev.Request != nil && t.blocker.blocks(ev.ResourceType, ev.Request.URL) {
		err = fetch.FailRequest(ev.RequestID, network.ErrorReasonBlockedByClient).Do(ctx)
	} else {
		err = fetch.ContinueRequest(ev.RequestID).Do(ctx)
	}
	if err != nil && t.ctx.Err() == nil {
		t.logger.Debug("interception decision failed", zap.Error(err))
	}
}

type blocker struct {
	types map[network.ResourceType]bool
	words []string
}

func newBlocker(types []network.ResourceType, words []string) blocker {
	b := blocker{types: make(map[network.ResourceType]bool, len(types))}
	for _, rt := range types {
		b.types[rt] = true
	}
	for _, w := range words {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			b.words = append(b.words, w)
		}
	}
	return b
}

func (b blocker) blocks(rt network.ResourceType, url string) bool {
	if b.types[rt] {
		return true
	}
	lower := strings.ToLower(url)
	for _, w := range b.words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// createWithin runs create and tears the tab down through cancel if it takes
// longer than d. The tab context outlives creation, so a derived deadline
// cannot be used here.
func createWithin(d time.Duration, cancel context.CancelFunc, create func() error) error {
	stalled := time.AfterFunc(d, cancel)
	err := create()
	if !stalled.Stop() {
		return fmt.Errorf("%w after %s", ErrTabTimeout, d)
	}
	return err
}

func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
