// Package proxy streams remote media to clients with a size cap, timeouts and
// coarse progress events.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/metrics"
	"github.com/Ashwin-z/savereelify.com/internal/progress"
)

// Defaults for Config.
const (
	DefaultMaxBytes     int64 = 200 << 20
	DefaultTimeout            = 30 * time.Second
	DefaultIdleTimeout        = 30 * time.Second
	DefaultProgressStep       = 5
	FilenamePrefix            = "savereelify.com - "
	defaultBaseName           = "instagram-media"
	copyBufferSize            = 32 << 10
)

// DefaultAllowedHosts are the CDN domains Instagram serves media from.
var DefaultAllowedHosts = []string{"cdninstagram.com", "fbcdn.net"}

// Config tunes the proxy.
type Config struct {
	MaxBytes int64
	// Timeout bounds the wait for the upstream response headers.
	Timeout time.Duration
	// IdleTimeout aborts a stream that delivers no bytes for this long.
	IdleTimeout time.Duration
	// AllowedHosts lists domains (and their subdomains) that may be proxied.
	// An empty list allows any host.
	AllowedHosts []string
	UserAgent    string
	// ProgressStep is the percentage granularity of progress events.
	ProgressStep int
}

// Request describes one download.
type Request struct {
	URL      string
	Filename string
	// ID is an optional client-chosen UUID used to follow progress.
	ID string
}

// Proxy opens upstream media streams.
type Proxy struct {
	cfg     Config
	client  *http.Client
	emitter progress.Emitter
	logger  *zap.Logger
}

// New constructs a Proxy. A nil client uses a dedicated http.Client without an
// overall timeout; a nil emitter discards progress.
func New(cfg Config, client *http.Client, emitter progress.Emitter, logger *zap.Logger) *Proxy {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.ProgressStep <= 0 || cfg.ProgressStep > 100 {
		cfg.ProgressStep = DefaultProgressStep
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = media.DefaultUserAgent
	}
	if client == nil {
		client = &http.Client{}
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Proxy{cfg: cfg, client: client, emitter: emitter, logger: logger.Named("proxy")}
}

// Open validates the request and waits for the upstream response headers.
// Nothing is written to the client until the returned Download is streamed;
// errors from Open can still be reported as a structured response.
func (p *Proxy) Open(ctx context.Context, req Request) (*Download, error) {
	id := downloadID(req.ID)
	started := time.Now()

	d, err := p.open(ctx, req, id, started)
	if err != nil {
		code := media.CodeOf(err)
		metrics.ObserveDownload(string(code))
		p.emitter.Emit(progress.Event{
			DownloadID: progress.UUIDToBytes(id),
			TS:         time.Now(),
			Stage:      progress.StageError,
			Host:       hostOf(req.URL),
			Total:      -1,
			Dur:        time.Since(started),
			Note:       string(code),
		})
		p.logger.Warn("download rejected",
			zap.Stringer("download_id", id),
			zap.String("url", req.URL),
			zap.String("code", string(code)),
			zap.Error(err))
		return nil, err
	}
	p.emitter.Emit(progress.Event{
		DownloadID: progress.UUIDToBytes(id),
		TS:         time.Now(),
		Stage:      progress.StageStart,
		Host:       d.host,
		Total:      d.Size,
	})
	return d, nil
}

func (p *Proxy) open(ctx context.Context, req Request, id uuid.UUID, started time.Time) (*Download, error) {
	target, err := p.checkURL(req.URL)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	headerTimer := time.AfterFunc(p.cfg.Timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodGet, target.String(), nil)
	if err != nil {
		headerTimer.Stop()
		cancel()
		return nil, fmt.Errorf("%w: build request: %w", media.ErrDownloadFailed, err)
	}
	httpReq.Header.Set("User-Agent", p.cfg.UserAgent)
	httpReq.Header.Set("Accept", "*/*")

	resp, err := p.client.Do(httpReq)
	headerTimer.Stop()
	if err != nil {
		cancel()
		if timedOut.Load() {
			return nil, fmt.Errorf("%w: no response within %s", media.ErrTimeout, p.cfg.Timeout)
		}
		return nil, classifyTransport(err)
	}

	fail := func(err error) (*Download, error) {
		_ = resp.Body.Close()
		cancel()
		return nil, err
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fail(fmt.Errorf("%w: upstream %s", media.ErrNotFound, resp.Status))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return fail(fmt.Errorf("%w: upstream %s", media.ErrDownloadFailed, resp.Status))
	case resp.ContentLength > p.cfg.MaxBytes:
		return fail(fmt.Errorf("%w: %d bytes advertised, limit %d", media.ErrTooLarge, resp.ContentLength, p.cfg.MaxBytes))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Download{
		ID:          id,
		Filename:    Filename(req.Filename, contentType),
		ContentType: contentType,
		Size:        resp.ContentLength,
		host:        target.Hostname(),
		body:        resp.Body,
		cancel:      cancel,
		started:     started,
		p:           p,
	}, nil
}

func (p *Proxy) checkURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("%w: download url is required", media.ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", media.ErrInvalidInput, err)
	}
	if (u.Scheme != "https" && u.Scheme != "http") || u.Hostname() == "" || u.User != nil {
		return nil, fmt.Errorf("%w: unsupported download url %q", media.ErrInvalidInput, raw)
	}
	if !hostAllowed(u.Hostname(), p.cfg.AllowedHosts) {
		return nil, fmt.Errorf("%w: host %q is not allowed", media.ErrInvalidInput, u.Hostname())
	}
	return u, nil
}

func hostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimPrefix(a, "."))
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// Download is an open upstream stream whose headers have been received.
type Download struct {
	ID          uuid.UUID
	Filename    string
	ContentType string
	// Size is the advertised length, or -1 when unknown.
	Size int64

	host      string
	body      io.ReadCloser
	cancel    context.CancelFunc
	started   time.Time
	p         *Proxy
	closeOnce sync.Once
}

// ContentDisposition renders the attachment header value.
func (d *Download) ContentDisposition() string {
	return mime.FormatMediaType("attachment", map[string]string{"filename": d.Filename})
}

// WriteTo streams the body into w, enforcing the size cap and idle timeout.
// A non-nil error means w received a truncated body.
func (d *Download) WriteTo(w io.Writer) (int64, error) {
	defer d.Close()

	var timedOut atomic.Bool
	idle := time.AfterFunc(d.p.cfg.IdleTimeout, func() {
		timedOut.Store(true)
		d.cancel()
	})
	defer idle.Stop()

	buf := make([]byte, copyBufferSize)
	var (
		written  int64
		nextStep = d.p.cfg.ProgressStep
		err      error
	)
	for {
		n, rerr := d.body.Read(buf)
		idle.Reset(d.p.cfg.IdleTimeout)
		if n > 0 {
			if written+int64(n) > d.p.cfg.MaxBytes {
				err = fmt.Errorf("%w: stream exceeded %d bytes", media.ErrTooLarge, d.p.cfg.MaxBytes)
				break
			}
			wn, werr := w.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				err = fmt.Errorf("%w: write to client: %w", media.ErrDownloadFailed, werr)
				break
			}
			nextStep = d.reportSteps(written, nextStep)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if timedOut.Load() {
				err = fmt.Errorf("%w: stream idle for %s", media.ErrTimeout, d.p.cfg.IdleTimeout)
			} else {
				err = classifyTransport(rerr)
			}
			break
		}
	}
	d.finish(written, err)
	return written, err
}

// reportSteps emits one event per progress step crossed and returns the next
// step to wait for.
func (d *Download) reportSteps(written int64, next int) int {
	if d.Size <= 0 {
		return next
	}
	step := d.p.cfg.ProgressStep
	for next <= 100 && written*100 >= int64(next)*d.Size {
		d.p.emitter.Emit(progress.Event{
			DownloadID: progress.UUIDToBytes(d.ID),
			TS:         time.Now(),
			Stage:      progress.StageProgress,
			Host:       d.host,
			Bytes:      min(written, d.Size*int64(next)/100),
			Total:      d.Size,
			Percent:    next,
			Dur:        time.Since(d.started),
		})
		next += step
	}
	return next
}

func (d *Download) finish(written int64, err error) {
	code := media.CodeOf(err)
	metrics.ObserveDownload(string(code))
	evt := progress.Event{
		DownloadID: progress.UUIDToBytes(d.ID),
		TS:         time.Now(),
		Stage:      progress.StageDone,
		Host:       d.host,
		Bytes:      written,
		Total:      d.Size,
		Dur:        time.Since(d.started),
	}
	fields := []zap.Field{
		zap.Stringer("download_id", d.ID),
		zap.String("host", d.host),
		zap.Int64("bytes", written),
		zap.Duration("dur", evt.Dur),
	}
	if err != nil {
		evt.Stage = progress.StageError
		evt.Note = string(code)
		d.p.logger.Warn("download aborted", append(fields, zap.Error(err))...)
	} else {
		d.p.logger.Debug("download finished", fields...)
	}
	d.p.emitter.Emit(evt)
}

// Close releases the upstream connection. It is safe to call more than once.
func (d *Download) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.cancel()
		err = d.body.Close()
	})
	return err
}

func classifyTransport(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", media.ErrTimeout, err)
	default:
		var te interface{ Timeout() bool }
		if errors.As(err, &te) && te.Timeout() {
			return fmt.Errorf("%w: %w", media.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %w", media.ErrDownloadFailed, err)
	}
}

func downloadID(raw string) uuid.UUID {
	if id, err := uuid.Parse(raw); err == nil && id != uuid.Nil {
		return id
	}
	if id, err := uuid.NewV7(); err == nil {
		return id
	}
	return uuid.New()
}

func hostOf(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		return u.Hostname()
	}
	return ""
}
