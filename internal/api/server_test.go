package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/pool"
	"github.com/Ashwin-z/savereelify.com/internal/progress"
	"github.com/Ashwin-z/savereelify.com/internal/progress/sinks"
	"github.com/Ashwin-z/savereelify.com/internal/proxy"
)

const reelURL = "https://www.instagram.com/reel/C9abcDEF_12/"

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	result media.Result
	err    error
}

func (f *fakeFetcher) FetchReel(_ context.Context, rawURL string) (media.Result, error) {
	return f.do("reel:" + rawURL)
}

func (f *fakeFetcher) FetchPost(_ context.Context, rawURL string) (media.Result, error) {
	return f.do("post:" + rawURL)
}

func (f *fakeFetcher) do(call string) (media.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.result, f.err
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeLimiter struct {
	mu    sync.Mutex
	allow bool
	keys  []string
}

func (l *fakeLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keys = append(l.keys, key)
	return l.allow
}

func (l *fakeLimiter) RetryAfter(string) time.Duration {
	return 90 * time.Second
}

type fakePool struct {
	stats pool.Stats
}

func (p fakePool) Stats() pool.Stats {
	return p.stats
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	if opts.Fetcher == nil {
		opts.Fetcher = &fakeFetcher{}
	}
	if opts.Downloader == nil {
		opts.Downloader = proxy.New(proxy.Config{AllowedHosts: []string{}}, nil, nil, nil)
	}
	opts.Logger = zap.NewNop()
	return NewServer(opts)
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeFailure(t *testing.T, rec *httptest.ResponseRecorder) errorResponse {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.False(t, body.Success)
	return body
}

func TestServer_HealthAndTest(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Options{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/test", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Server is working!"}`, rec.Body.String())
}

func TestServer_Readyz(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Options{Pool: fakePool{stats: pool.Stats{Capacity: 5, Live: 1, Idle: 1}}})
	rec := serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"capacity":5`)

	s = newTestServer(t, Options{Pool: fakePool{stats: pool.Stats{Capacity: 5, Closed: true}}})
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "closed")
}

func TestServer_FetchReelJSON(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{result: media.Result{
		Success:     true,
		Type:        media.PostTypeReel,
		Title:       "Instagram Reel",
		DownloadURL: "https://scontent.cdninstagram.com/v/clip.mp4",
		MediaType:   media.KindVideo,
	}}
	s := newTestServer(t, Options{Fetcher: fetcher})

	req := httptest.NewRequest(http.MethodPost, "/api/fetch-instagram", strings.NewReader(`{"url":"`+reelURL+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var got media.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, fetcher.result, got)
	require.Equal(t, []string{"reel:" + reelURL}, fetcher.Calls())
}

func TestServer_FetchPostForm(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{result: media.Result{Success: true, Type: media.PostTypePost}}
	s := newTestServer(t, Options{Fetcher: fetcher})

	form := url.Values{"url": {"https://www.instagram.com/p/Cxyz123/"}}
	req := httptest.NewRequest(http.MethodPost, "/api/fetch-instagram-post", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := serve(s, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"post:https://www.instagram.com/p/Cxyz123/"}, fetcher.Calls())
}

func TestServer_FetchRejectsMissingURL(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	s := newTestServer(t, Options{Fetcher: fetcher})

	for _, body := range []string{`{}`, `{"url":"not a url"}`, `{invalid`} {
		req := httptest.NewRequest(http.MethodPost, "/api/fetch-instagram", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(s, req)

		require.Equal(t, http.StatusBadRequest, rec.Code, body)
		got := decodeFailure(t, rec)
		require.Equal(t, invalidReelMessage, got.Message)
		require.Equal(t, string(media.CodeInvalidInput), got.Code)
	}
	require.Empty(t, fetcher.Calls())
}

func TestServer_FetchErrorMapping(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err    error
		status int
		code   media.Code
	}{
		{fmt.Errorf("parse: %w", media.ErrInvalidInput), http.StatusBadRequest, media.CodeInvalidInput},
		{media.ErrOverloaded, http.StatusServiceUnavailable, media.CodeOverloaded},
		{media.ErrPoolClosed, http.StatusServiceUnavailable, media.CodePoolClosed},
		{media.ErrExtractionFailed, http.StatusBadGateway, media.CodeExtractionFailed},
		{media.ErrResolverFailed, http.StatusBadGateway, media.CodeResolverFailed},
		{media.ErrResolverTimeout, http.StatusGatewayTimeout, media.CodeResolverTimeout},
		{media.ErrNoMediaFound, http.StatusNotFound, media.CodeNoMediaFound},
		{fmt.Errorf("acquire: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, media.CodeTimeout},
		{errors.New("boom"), http.StatusInternalServerError, media.CodeInternal},
	}
	for _, tc := range cases {
		s := newTestServer(t, Options{Fetcher: &fakeFetcher{err: tc.err}})
		req := httptest.NewRequest(http.MethodPost, "/api/fetch-instagram-post", strings.NewReader(`{"url":"`+reelURL+`"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := serve(s, req)

		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		got := decodeFailure(t, rec)
		require.Equal(t, string(tc.code), got.Code, tc.err.Error())
		if tc.code == media.CodeOverloaded {
			require.Equal(t, "2", rec.Header().Get("Retry-After"))
		}
		if tc.code == media.CodeInternal {
			require.Equal(t, internalMessage, got.Message)
		}
	}
}

func TestServer_RateLimit(t *testing.T) {
	t.Parallel()

	limiter := &fakeLimiter{}
	fetcher := &fakeFetcher{}
	s := newTestServer(t, Options{Fetcher: fetcher, Limiter: limiter})

	req := httptest.NewRequest(http.MethodPost, "/api/fetch-instagram", strings.NewReader(`{"url":"`+reelURL+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec := serve(s, req)

	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "90", rec.Header().Get("Retry-After"))
	require.JSONEq(t, `{"success":false,"message":"`+rateLimitMessage+`"}`, rec.Body.String())
	require.Equal(t, []string{"203.0.113.7"}, limiter.keys)
	require.Empty(t, fetcher.Calls())

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, limiter.keys, 1)
}

func TestServer_DownloadStreamsAttachment(t *testing.T) {
	t.Parallel()

	payload := strings.Repeat("v", 4096)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = w.Write([]byte(payload))
	}))
	defer upstream.Close()

	s := newTestServer(t, Options{})
	id := uuid.New()
	target := "/download?" + url.Values{
		"url":      {upstream.URL + "/v/clip.mp4"},
		"filename": {"my clip!"},
		"id":       {id.String()},
	}.Encode()
	rec := serve(s, httptest.NewRequest(http.MethodGet, target, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, payload, rec.Body.String())
	require.Equal(t, "video/mp4", rec.Header().Get("Content-Type"))
	require.Equal(t, "4096", rec.Header().Get("Content-Length"))
	require.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	require.Equal(t, id.String(), rec.Header().Get("X-Download-ID"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "attachment")
	require.Contains(t, rec.Header().Get("Content-Disposition"), "savereelify.com - myclip.mp4")
}

func TestServer_DownloadErrors(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/gone") {
			http.NotFound(w, r)
			return
		}
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer upstream.Close()

	s := newTestServer(t, Options{})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/download", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, missingURLMessage, decodeFailure(t, rec).Message)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/download?url="+url.QueryEscape("ftp://x/y"), nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/download?url="+url.QueryEscape(upstream.URL+"/gone"), nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "Content not found", decodeFailure(t, rec).Message)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/download?url="+url.QueryEscape(upstream.URL+"/denied"), nil))
	require.Equal(t, http.StatusBadGateway, rec.Code)
	require.Equal(t, "Download failed", decodeFailure(t, rec).Message)
}

func TestServer_DownloadAbortsTruncatedStream(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		w.WriteHeader(http.StatusOK)
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer upstream.Close()

	dl := proxy.New(proxy.Config{MaxBytes: 16}, nil, nil, nil)
	s := newTestServer(t, Options{Downloader: dl})
	req := httptest.NewRequest(http.MethodGet, "/download?url="+url.QueryEscape(upstream.URL+"/clip.mp4"), nil)

	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		serve(s, req)
	})
}

func TestServer_DownloadProgress(t *testing.T) {
	t.Parallel()

	tracker := sinks.NewTracker(time.Minute, nil)
	id := uuid.New()
	require.NoError(t, tracker.Consume(context.Background(), []progress.Event{
		{DownloadID: id, TS: time.Now().UTC(), Stage: progress.StageStart, Host: "scontent.cdninstagram.com", Total: 200},
		{DownloadID: id, TS: time.Now().UTC(), Stage: progress.StageProgress, Bytes: 100, Total: 200, Percent: 50},
	}))
	s := newTestServer(t, Options{Progress: tracker})

	rec := serve(s, httptest.NewRequest(http.MethodGet, "/api/downloads/"+id.String()+"/progress", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var snap sinks.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	require.Equal(t, 50, snap.Percent)
	require.Equal(t, int64(100), snap.Bytes)
	require.False(t, snap.Done)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/downloads/not-a-uuid/progress", nil))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/downloads/"+uuid.NewString()+"/progress", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	s = newTestServer(t, Options{})
	rec = serve(s, httptest.NewRequest(http.MethodGet, "/api/downloads/"+id.String()+"/progress", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_CORSPreflight(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, Options{AllowedOrigins: []string{"https://savereelify.com"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/fetch-instagram", nil)
	req.Header.Set("Origin", "https://savereelify.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := serve(s, req)
	require.Less(t, rec.Code, http.StatusMultipleChoices)
	require.Equal(t, "https://savereelify.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)
	require.Equal(t, "600", rec.Header().Get("Access-Control-Max-Age"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://savereelify.com")
	rec = serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://savereelify.com", rec.Header().Get("Access-Control-Allow-Origin"))
	require.Contains(t, strings.ToLower(rec.Header().Get("Access-Control-Expose-Headers")), "x-download-id")

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = serve(s, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	s = newTestServer(t, Options{})
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("Origin", "https://savereelify.com")
	rec = serve(s, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("kaboom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Equal(t, internalMessage, decodeFailure(t, rec).Message)

	abort := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic(http.ErrAbortHandler)
	}))
	require.PanicsWithValue(t, http.ErrAbortHandler, func() {
		abort.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
