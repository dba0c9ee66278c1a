package media

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	reelPath  = regexp.MustCompile(`^/(reel|reels|tv)/([A-Za-z0-9_-]{11})/?$`)
	postPath  = regexp.MustCompile(`^/p/([A-Za-z0-9_-]{11})/?$`)
	storyPath = regexp.MustCompile(`^/stories/([A-Za-z0-9._]{1,30})/([0-9]{1,25})/?$`)
)

// PostURL is a validated link to a single Instagram post, reel or story.
type PostURL struct {
	// Raw is the URL as submitted, trimmed of surrounding whitespace.
	Raw  string
	Type PostType
	// ID is the shortcode for posts and reels, or the numeric story id.
	ID       string
	Username string
}

// ParsePostURL validates raw against the accepted Instagram link shapes.
func ParsePostURL(raw string) (PostURL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return PostURL{}, fmt.Errorf("%w: url is required", ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return PostURL{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if u.Scheme != "https" || u.User != nil || u.Port() != "" {
		return PostURL{}, fmt.Errorf("%w: %q", ErrInvalidInput, raw)
	}
	switch strings.ToLower(u.Hostname()) {
	case "instagram.com", "www.instagram.com":
	default:
		return PostURL{}, fmt.Errorf("%w: unsupported host %q", ErrInvalidInput, u.Hostname())
	}
	if m := reelPath.FindStringSubmatch(u.Path); m != nil {
		return PostURL{Raw: raw, Type: PostTypeReel, ID: m[2]}, nil
	}
	if m := postPath.FindStringSubmatch(u.Path); m != nil {
		return PostURL{Raw: raw, Type: PostTypePost, ID: m[1]}, nil
	}
	if m := storyPath.FindStringSubmatch(u.Path); m != nil {
		return PostURL{Raw: raw, Type: PostTypeStory, ID: m[2], Username: m[1]}, nil
	}
	return PostURL{}, fmt.Errorf("%w: unrecognized path %q", ErrInvalidInput, u.Path)
}

// Key is the canonical form of the link. Query strings, host aliases and
// reel/reels/tv spellings of the same shortcode collapse onto one key.
func (p PostURL) Key() string {
	switch p.Type {
	case PostTypeStory:
		return "https://www.instagram.com/stories/" + p.Username + "/" + p.ID + "/"
	case PostTypeReel:
		return "https://www.instagram.com/reel/" + p.ID + "/"
	default:
		return "https://www.instagram.com/p/" + p.ID + "/"
	}
}

// Is reports whether the link has one of the given types.
func (p PostURL) Is(types ...PostType) bool {
	for _, t := range types {
		if p.Type == t {
			return true
		}
	}
	return false
}
