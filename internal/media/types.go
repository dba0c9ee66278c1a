package media

import "time"

// DefaultUserAgent is the fixed client identity used for page loads and media requests.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// PostType tags the kind of post a result was produced for.
type PostType string

// Supported post types.
const (
	PostTypePost  PostType = "post"
	PostTypeReel  PostType = "reel"
	PostTypeStory PostType = "story"
)

// Kind describes the media behind a download URL.
type Kind string

// Supported media kinds.
const (
	KindVideo Kind = "video"
	KindImage Kind = "image"
)

// Result is the merged outcome of a successful fetch.
type Result struct {
	Success     bool     `json:"success"`
	Type        PostType `json:"type"`
	Title       string   `json:"title"`
	Thumbnail   string   `json:"thumbnail,omitempty"`
	Username    string   `json:"username,omitempty"`
	DownloadURL string   `json:"downloadUrl"`
	MediaType   Kind     `json:"mediaType"`
}

// PageMetadata is what a session reads from the rendered post page.
type PageMetadata struct {
	Title     string
	Thumbnail string
	Username  string
}

// FetchRecord is the audit row written for every orchestrated fetch.
type FetchRecord struct {
	ID          string
	URL         string
	Type        PostType
	Success     bool
	Code        Code
	DownloadURL string
	MediaType   Kind
	CacheHit    bool
	Duration    time.Duration
	CreatedAt   time.Time
}
