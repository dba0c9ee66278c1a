// Package pool manages a bounded set of reusable browser sessions on top of a
// single lazily started automation engine.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/id/uuid"
	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/metrics"
)

// DefaultCapacity is the session limit used when none is configured.
const DefaultCapacity = 5

var (
	// ErrExhausted is returned when every session is leased and no more may be created.
	ErrExhausted = errors.New("session pool exhausted")
	// ErrClosed is returned once the pool has been shut down.
	ErrClosed = errors.New("session pool closed")
)

// Engine is the automation backend shared by all sessions.
type Engine interface {
	Start(ctx context.Context) error
	NewTab(ctx context.Context) (Tab, error)
	Close() error
}

// Tab is one isolated browsing context owned by exactly one Session.
type Tab interface {
	// Fetch navigates to url and reads the post metadata from the rendered page.
	Fetch(ctx context.Context, url string) (media.PageMetadata, error)
	Close() error
}

// Session is a leased browser tab. It must not be used after release.
type Session struct {
	ID string

	tab   Tab
	busy  bool
	lease uint64
}

// Fetch navigates the session's tab and reads the post metadata.
func (s *Session) Fetch(ctx context.Context, url string) (media.PageMetadata, error) {
	meta, err := s.tab.Fetch(ctx, url)
	if err != nil {
		return media.PageMetadata{}, fmt.Errorf("session %s: %w", s.ID, err)
	}
	return meta, nil
}

// ReleaseToken identifies one lease of a session. Releasing a token more than
// once, or after the session was leased again, has no effect.
type ReleaseToken struct {
	sessionID string
	lease     uint64
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Capacity int  `json:"capacity"`
	Live     int  `json:"live"`
	Busy     int  `json:"busy"`
	Idle     int  `json:"idle"`
	Closed   bool `json:"closed"`
}

// Config controls pool sizing.
type Config struct {
	Capacity int
}

// Pool hands out sessions up to a fixed capacity.
type Pool struct {
	engine Engine
	ids    media.IDGenerator
	logger *zap.Logger
	cap    int

	mu       sync.Mutex
	sessions map[string]*Session
	order    []*Session
	pending  int
	closed   bool

	startMu      sync.Mutex
	started      bool
	engineClosed bool

	shutdownOnce sync.Once
	shutdownErr  error
}

// New constructs a Pool. The engine is not started until the first session is needed.
func New(cfg Config, engine Engine, ids media.IDGenerator, logger *zap.Logger) *Pool {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if ids == nil {
		ids = uuid.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		engine:   engine,
		ids:      ids,
		logger:   logger,
		cap:      cfg.Capacity,
		sessions: make(map[string]*Session),
	}
}

// Acquire leases an idle session, opening a new one while under capacity.
// It fails fast with ErrExhausted instead of waiting for a release.
func (p *Pool) Acquire(ctx context.Context) (*Session, ReleaseToken, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		metrics.ObserveAcquire("closed")
		return nil, ReleaseToken{}, ErrClosed
	}
	for _, s := range p.order {
		if !s.busy {
			s.busy = true
			s.lease++
			tok := ReleaseToken{sessionID: s.ID, lease: s.lease}
			p.publishLocked()
			p.mu.Unlock()
			metrics.ObserveAcquire("reused")
			return s, tok, nil
		}
	}
	if len(p.sessions)+p.pending >= p.cap {
		p.mu.Unlock()
		metrics.ObserveAcquire("exhausted")
		return nil, ReleaseToken{}, ErrExhausted
	}
	p.pending++
	p.mu.Unlock()

	s, err := p.open(ctx)

	p.mu.Lock()
	p.pending--
	if err == nil && p.closed {
		err = ErrClosed
		if cerr := s.tab.Close(); cerr != nil {
			p.logger.Warn("close orphaned tab", zap.Error(cerr))
		}
	}
	if err != nil {
		p.mu.Unlock()
		if errors.Is(err, ErrClosed) {
			metrics.ObserveAcquire("closed")
		} else {
			metrics.ObserveAcquire("error")
		}
		return nil, ReleaseToken{}, err
	}
	s.busy = true
	s.lease = 1
	p.sessions[s.ID] = s
	p.order = append(p.order, s)
	tok := ReleaseToken{sessionID: s.ID, lease: s.lease}
	p.publishLocked()
	p.mu.Unlock()

	metrics.ObserveAcquire("created")
	p.logger.Debug("session opened", zap.String("session_id", s.ID))
	return s, tok, nil
}

// Release returns the leased session to the idle set.
func (p *Pool) Release(tok ReleaseToken) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[tok.sessionID]
	if !ok || !s.busy || s.lease != tok.lease {
		return
	}
	s.busy = false
	p.publishLocked()
}

// Do leases a session for the duration of fn. The session is released on
// every exit path, panics included.
func (p *Pool) Do(ctx context.Context, fn func(context.Context, *Session) error) error {
	s, tok, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer p.Release(tok)
	return fn(ctx, s)
}

// Stats returns a snapshot of the pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	busy := 0
	for _, s := range p.order {
		if s.busy {
			busy++
		}
	}
	return Stats{
		Capacity: p.cap,
		Live:     len(p.order),
		Busy:     busy,
		Idle:     len(p.order) - busy,
		Closed:   p.closed,
	}
}

// Shutdown closes every tab and the engine. Later calls return the first result.
func (p *Pool) Shutdown(_ context.Context) error {
	p.shutdownOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		sessions := p.order
		p.order = nil
		p.sessions = make(map[string]*Session)
		p.publishLocked()
		p.mu.Unlock()

		var errs []error
		for _, s := range sessions {
			if err := s.tab.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close session %s: %w", s.ID, err))
			}
		}

		p.startMu.Lock()
		p.engineClosed = true
		if p.started {
			if err := p.engine.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close engine: %w", err))
			}
		}
		p.startMu.Unlock()

		p.shutdownErr = errors.Join(errs...)
		p.logger.Info("session pool shut down", zap.Int("sessions_closed", len(sessions)))
	})
	return p.shutdownErr
}

func (p *Pool) open(ctx context.Context) (*Session, error) {
	if err := p.ensureStarted(ctx); err != nil {
		return nil, err
	}
	id, err := p.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	tab, err := p.engine.NewTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &Session{ID: id, tab: tab}, nil
}

// ensureStarted starts the engine exactly once. A failed start is retried by
// the next caller.
func (p *Pool) ensureStarted(ctx context.Context) error {
	p.startMu.Lock()
	defer p.startMu.Unlock()
	if p.engineClosed {
		return ErrClosed
	}
	if p.started {
		return nil
	}
	if err := p.engine.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}
	p.started = true
	p.logger.Info("automation engine started")
	return nil
}

func (p *Pool) publishLocked() {
	busy := 0
	for _, s := range p.order {
		if s.busy {
			busy++
		}
	}
	metrics.SetPoolSessions(len(p.order), busy)
}
