package resolver

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/Ashwin-z/savereelify.com/internal/media"
)

// HeadProber reads Content-Type with a HEAD request.
type HeadProber struct {
	userAgent string
	timeout   time.Duration
}

// NewHeadProber constructs a HeadProber. A non-positive timeout defaults to 5s.
func NewHeadProber(userAgent string, timeout time.Duration) *HeadProber {
	if userAgent == "" {
		userAgent = media.DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HeadProber{userAgent: userAgent, timeout: timeout}
}

// ContentType issues a HEAD request for rawURL.
func (p *HeadProber) ContentType(ctx context.Context, rawURL string) (string, error) {
	c := colly.NewCollector(
		colly.UserAgent(p.userAgent),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(p.timeout)

	var contentType string
	c.OnResponse(func(r *colly.Response) {
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
		}
	})
	if err := c.Head(rawURL); err != nil {
		return "", fmt.Errorf("head %s: %w", rawURL, err)
	}
	return contentType, nil
}
