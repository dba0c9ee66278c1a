package media

import (
	"fmt"
	"mime"
	"net/url"
	"path"
	"strings"
)

var videoExts = map[string]bool{".mp4": true, ".m4v": true, ".mov": true, ".webm": true}

var imageExts = map[string]bool{".jpg": true, ".jpeg": true, ".png": true, ".webp": true, ".heic": true}

// SelectMedia picks the download URL from resolver candidates: the first
// playable video wins, otherwise the first non-empty candidate.
func SelectMedia(candidates []string) (string, error) {
	first := ""
	for _, c := range candidates {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if first == "" {
			first = c
		}
		if videoExts[extOf(c)] {
			return c, nil
		}
	}
	if first == "" {
		return "", fmt.Errorf("%w: resolver returned %d candidates", ErrNoMediaFound, len(candidates))
	}
	return first, nil
}

// KindFromURL classifies rawURL by its path extension. ok is false when the
// extension says nothing about the media kind.
func KindFromURL(rawURL string) (Kind, bool) {
	ext := extOf(rawURL)
	switch {
	case videoExts[ext]:
		return KindVideo, true
	case imageExts[ext]:
		return KindImage, true
	default:
		return "", false
	}
}

// KindFromContentType classifies a Content-Type header value.
func KindFromContentType(contentType string) (Kind, bool) {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", false
	}
	switch {
	case strings.HasPrefix(mt, "video/"):
		return KindVideo, true
	case strings.HasPrefix(mt, "image/"):
		return KindImage, true
	default:
		return "", false
	}
}

// KindHint is the last resort classification when nothing better is known.
func KindHint(rawURL string) Kind {
	if strings.Contains(strings.ToLower(rawURL), "video") {
		return KindVideo
	}
	return KindImage
}

func extOf(rawURL string) string {
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	return strings.ToLower(path.Ext(p))
}
