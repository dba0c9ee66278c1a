package media

import "errors"

// Errors surfaced by the fetch and download paths. Callers match them with errors.Is.
var (
	ErrInvalidInput     = errors.New("invalid instagram url")
	ErrOverloaded       = errors.New("server is busy, please retry shortly")
	ErrPoolClosed       = errors.New("session pool is closed")
	ErrExtractionFailed = errors.New("failed to read page metadata")
	ErrResolverTimeout  = errors.New("media resolver timed out")
	ErrResolverFailed   = errors.New("media resolver failed")
	ErrNoMediaFound     = errors.New("no media found for post")
	ErrNotFound         = errors.New("media not found")
	ErrTimeout          = errors.New("download timed out")
	ErrTooLarge         = errors.New("media exceeds size limit")
	ErrDownloadFailed   = errors.New("download failed")
)

// Code is the stable machine-readable error identifier returned to clients.
type Code string

// Client-facing error codes.
const (
	CodeOK               Code = ""
	CodeInvalidInput     Code = "INVALID_URL"
	CodeOverloaded       Code = "OVERLOADED"
	CodePoolClosed       Code = "UNAVAILABLE"
	CodeExtractionFailed Code = "EXTRACTION_FAILED"
	CodeResolverTimeout  Code = "RESOLVER_TIMEOUT"
	CodeResolverFailed   Code = "RESOLVER_FAILED"
	CodeNoMediaFound     Code = "NO_MEDIA_FOUND"
	CodeNotFound         Code = "NOT_FOUND"
	CodeTimeout          Code = "TIMEOUT"
	CodeTooLarge         Code = "TOO_LARGE"
	CodeDownloadFailed   Code = "DOWNLOAD_FAILED"
	CodeInternal         Code = "INTERNAL"
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ErrOverloaded, CodeOverloaded},
	{ErrPoolClosed, CodePoolClosed},
	{ErrExtractionFailed, CodeExtractionFailed},
	{ErrResolverTimeout, CodeResolverTimeout},
	{ErrResolverFailed, CodeResolverFailed},
	{ErrNoMediaFound, CodeNoMediaFound},
	{ErrNotFound, CodeNotFound},
	{ErrTimeout, CodeTimeout},
	{ErrTooLarge, CodeTooLarge},
	{ErrDownloadFailed, CodeDownloadFailed},
}

// CodeOf maps err onto its client code. Nil yields CodeOK and anything outside
// the taxonomy yields CodeInternal.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// Retryable reports whether the client may retry the same request later.
func Retryable(err error) bool {
	return errors.Is(err, ErrOverloaded) || errors.Is(err, ErrResolverTimeout)
}
