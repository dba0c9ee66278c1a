package api

import (
	"context"
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/media"
	"github.com/Ashwin-z/savereelify.com/internal/proxy"
)

// Client-facing messages.
const (
	invalidReelMessage = "Please provide a valid Instagram reel URL"
	invalidPostMessage = "Please provide a valid Instagram post URL"
	internalMessage    = "An unexpected error occurred"
	missingURLMessage  = "Download URL is required"
	maxFetchBodyBytes  = 16 << 10
	overloadRetryAfter = 2 * time.Second
)

type fetchRequest struct {
	URL string `json:"url" validate:"required,url,max=2048"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type fetchFunc func(ctx context.Context, rawURL string) (media.Result, error)

// fetchReel handles POST /api/fetch-instagram.
func (s *Server) fetchReel(w http.ResponseWriter, r *http.Request) {
	s.handleFetch(w, r, s.fetcher.FetchReel, invalidReelMessage)
}

// fetchPost handles POST /api/fetch-instagram-post.
func (s *Server) fetchPost(w http.ResponseWriter, r *http.Request) {
	s.handleFetch(w, r, s.fetcher.FetchPost, invalidPostMessage)
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request, fetch fetchFunc, invalidMsg string) {
	req, err := decodeFetchRequest(r)
	if err == nil {
		err = s.validate.Struct(req)
	}
	if err != nil {
		writeFailure(w, http.StatusBadRequest, invalidMsg, string(media.CodeInvalidInput))
		return
	}

	result, err := fetch(r.Context(), req.URL)
	if err != nil {
		s.writeFetchError(w, r, err, invalidMsg)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// decodeFetchRequest accepts a JSON body or a url-encoded form.
func decodeFetchRequest(r *http.Request) (fetchRequest, error) {
	var req fetchRequest
	r.Body = http.MaxBytesReader(nil, r.Body, maxFetchBodyBytes)
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return fetchRequest{}, err //nolint:wrapcheck // mapped to a 400
		}
	} else {
		if err := r.ParseForm(); err != nil {
			return fetchRequest{}, err //nolint:wrapcheck // mapped to a 400
		}
		req.URL = r.PostForm.Get("url")
	}
	req.URL = strings.TrimSpace(req.URL)
	return req, nil
}

func (s *Server) writeFetchError(w http.ResponseWriter, r *http.Request, err error, invalidMsg string) {
	code := media.CodeOf(err)
	status, msg := fetchStatus(err, invalidMsg)
	if status >= http.StatusInternalServerError {
		s.logger.Warn("fetch failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("code", string(code)),
			zap.Error(err),
		)
	}
	if status == http.StatusServiceUnavailable && errors.Is(err, media.ErrOverloaded) {
		setRetryAfter(w, overloadRetryAfter)
	}
	if code == media.CodeInternal && errors.Is(err, context.DeadlineExceeded) {
		code = media.CodeTimeout
	}
	writeFailure(w, status, msg, string(code))
}

func fetchStatus(err error, invalidMsg string) (int, string) {
	switch {
	case errors.Is(err, media.ErrInvalidInput):
		return http.StatusBadRequest, invalidMsg
	case errors.Is(err, media.ErrOverloaded):
		return http.StatusServiceUnavailable, "Server is busy, please try again shortly"
	case errors.Is(err, media.ErrPoolClosed):
		return http.StatusServiceUnavailable, "Service is shutting down, please try again later"
	case errors.Is(err, media.ErrExtractionFailed), errors.Is(err, media.ErrResolverFailed):
		return http.StatusBadGateway, "Failed to fetch content from Instagram"
	case errors.Is(err, media.ErrResolverTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Timed out fetching content from Instagram"
	case errors.Is(err, media.ErrNoMediaFound):
		return http.StatusNotFound, "No downloadable media found for this post"
	default:
		return http.StatusInternalServerError, internalMessage
	}
}

// download handles GET /download?url=&filename=&id=. Failures before the
// upstream responds are reported as JSON; a stream that fails midway is
// aborted so the client never mistakes a truncated body for a complete file.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rawURL := strings.TrimSpace(q.Get("url"))
	if rawURL == "" {
		writeFailure(w, http.StatusBadRequest, missingURLMessage, string(media.CodeInvalidInput))
		return
	}

	d, err := s.downloader.Open(r.Context(), proxy.Request{
		URL:      rawURL,
		Filename: q.Get("filename"),
		ID:       q.Get("id"),
	})
	if err != nil {
		status, msg := downloadStatus(err)
		writeFailure(w, status, msg, string(media.CodeOf(err)))
		return
	}
	defer d.Close() //nolint:errcheck // body close after streaming

	h := w.Header()
	h.Set("Content-Type", d.ContentType)
	h.Set("Content-Disposition", d.ContentDisposition())
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Download-ID", d.ID.String())
	if d.Size >= 0 {
		h.Set("Content-Length", strconv.FormatInt(d.Size, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := d.WriteTo(w); err != nil {
		panic(http.ErrAbortHandler)
	}
}

func downloadStatus(err error) (int, string) {
	switch {
	case errors.Is(err, media.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid download URL"
	case errors.Is(err, media.ErrNotFound):
		return http.StatusNotFound, "Content not found"
	case errors.Is(err, media.ErrTimeout):
		return http.StatusRequestTimeout, "Download timeout"
	case errors.Is(err, media.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "File is too large to download"
	case errors.Is(err, media.ErrDownloadFailed):
		return http.StatusBadGateway, "Download failed"
	default:
		return http.StatusInternalServerError, internalMessage
	}
}

// downloadProgress handles GET /api/downloads/{download_id}/progress.
func (s *Server) downloadProgress(w http.ResponseWriter, r *http.Request) {
	if s.progress == nil {
		writeFailure(w, http.StatusServiceUnavailable, "progress tracking unavailable", "")
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "download_id"))
	if err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid download id", string(media.CodeInvalidInput))
		return
	}
	snap, ok := s.progress.Get(id)
	if !ok {
		writeFailure(w, http.StatusNotFound, "download not found", string(media.CodeNotFound))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // client may be gone
}

func writeFailure(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorResponse{Success: false, Message: msg, Code: code})
}
