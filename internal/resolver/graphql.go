// Package resolver turns post links into direct media URLs using Instagram's
// public GraphQL endpoint, and probes media URLs for their content type.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/Ashwin-z/savereelify.com/internal/media"
)

// Defaults for the public web GraphQL query.
const (
	DefaultEndpoint = "https://www.instagram.com/graphql/query"
	DefaultDocID    = "8845758582119845"
	DefaultAppID    = "936619743392459"
)

// ErrUnsupported is returned for links the resolver cannot look up.
var ErrUnsupported = errors.New("unsupported post link")

// Config controls the GraphQL resolver.
type Config struct {
	Endpoint  string
	DocID     string
	AppID     string
	UserAgent string
	// Timeout bounds a single HTTP exchange; callers impose their own deadline on top.
	Timeout time.Duration
}

// GraphQL resolves shortcodes through the xdt_shortcode_media query.
type GraphQL struct {
	cfg    Config
	logger *zap.Logger
}

// NewGraphQL constructs a GraphQL resolver with defaults applied.
func NewGraphQL(cfg Config, logger *zap.Logger) *GraphQL {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.DocID == "" {
		cfg.DocID = DefaultDocID
	}
	if cfg.AppID == "" {
		cfg.AppID = DefaultAppID
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = media.DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphQL{cfg: cfg, logger: logger}
}

// Resolve returns candidate media URLs for postURL in post order.
func (g *GraphQL) Resolve(ctx context.Context, postURL string) ([]string, error) {
	post, err := media.ParsePostURL(postURL)
	if err != nil {
		return nil, err
	}
	if post.Type == media.PostTypeStory {
		return nil, fmt.Errorf("%w: stories require an authenticated session", ErrUnsupported)
	}

	c := colly.NewCollector(
		colly.UserAgent(g.cfg.UserAgent),
		colly.AllowURLRevisit(),
		colly.StdlibContext(ctx),
	)
	c.SetRequestTimeout(g.cfg.Timeout)

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("X-IG-App-ID", g.cfg.AppID)
		r.Headers.Set("X-Requested-With", "XMLHttpRequest")
		r.Headers.Set("Accept", "*/*")
		r.Headers.Set("Referer", post.Key())
	})

	var (
		body   []byte
		status int
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = r.Body
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		g.logger.Debug("graphql request failed", zap.Int("status", status), zap.Error(err))
	})

	variables, err := json.Marshal(map[string]string{"shortcode": post.ID})
	if err != nil {
		return nil, fmt.Errorf("encode variables: %w", err)
	}
	if err := c.Post(g.cfg.Endpoint, map[string]string{
		"variables": string(variables),
		"doc_id":    g.cfg.DocID,
	}); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("graphql query: %w", ctxErr)
		}
		return nil, fmt.Errorf("graphql query (status %d): %w", status, err)
	}
	return parseCandidates(body)
}

type shortcodeMedia struct {
	IsVideo    bool   `json:"is_video"`
	VideoURL   string `json:"video_url"`
	DisplayURL string `json:"display_url"`
	Sidecar    *struct {
		Edges []struct {
			Node shortcodeMedia `json:"node"`
		} `json:"edges"`
	} `json:"edge_sidecar_to_children"`
}

type graphQLResponse struct {
	Data struct {
		Media *shortcodeMedia `json:"xdt_shortcode_media"`
	} `json:"data"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// parseCandidates flattens the query response into download candidates. A
// post the endpoint does not know yields an empty list.
func parseCandidates(body []byte) ([]string, error) {
	var resp graphQLResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}
	if resp.Status != "" && resp.Status != "ok" {
		return nil, fmt.Errorf("graphql status %q: %s", resp.Status, resp.Message)
	}
	m := resp.Data.Media
	if m == nil {
		return nil, nil
	}
	var out []string
	if m.Sidecar != nil && len(m.Sidecar.Edges) > 0 {
		for _, edge := range m.Sidecar.Edges {
			out = appendNode(out, edge.Node)
		}
		return out, nil
	}
	return appendNode(out, *m), nil
}

func appendNode(out []string, n shortcodeMedia) []string {
	if n.IsVideo && strings.TrimSpace(n.VideoURL) != "" {
		out = append(out, n.VideoURL)
	}
	if strings.TrimSpace(n.DisplayURL) != "" {
		out = append(out, n.DisplayURL)
	}
	return out
}
