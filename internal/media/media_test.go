package media

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePostURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		raw     string
		want    PostType
		id      string
		wantErr bool
	}{
		{name: "reel", raw: "https://www.instagram.com/reel/C9abcDEF_12/", want: PostTypeReel, id: "C9abcDEF_12"},
		{name: "reels without www", raw: "https://instagram.com/reels/C9abcDEF-12", want: PostTypeReel, id: "C9abcDEF-12"},
		{name: "tv with query", raw: "https://www.instagram.com/tv/C9abcDEF_12/?igsh=abc", want: PostTypeReel, id: "C9abcDEF_12"},
		{name: "post", raw: " https://www.instagram.com/p/DAbcdefghij/ ", want: PostTypePost, id: "DAbcdefghij"},
		{name: "story", raw: "https://www.instagram.com/stories/some.user/3412345678901234567/", want: PostTypeStory, id: "3412345678901234567"},
		{name: "http scheme", raw: "http://www.instagram.com/reel/C9abcDEF_12/", wantErr: true},
		{name: "other host", raw: "https://instagram.evil.com/reel/C9abcDEF_12/", wantErr: true},
		{name: "short id", raw: "https://www.instagram.com/reel/C9abc/", wantErr: true},
		{name: "long id", raw: "https://www.instagram.com/reel/C9abcDEF_123/", wantErr: true},
		{name: "profile", raw: "https://www.instagram.com/someone/", wantErr: true},
		{name: "empty", raw: "", wantErr: true},
		{name: "port", raw: "https://www.instagram.com:8443/reel/C9abcDEF_12/", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePostURL(tc.raw)
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want, got.Type)
			require.Equal(t, tc.id, got.ID)
		})
	}
}

func TestPostURLKeyCollapsesVariants(t *testing.T) {
	t.Parallel()

	variants := []string{
		"https://www.instagram.com/reel/C9abcDEF_12/",
		"https://instagram.com/reel/C9abcDEF_12",
		"https://www.instagram.com/reels/C9abcDEF_12/?utm_source=ig_web_copy_link",
		"https://www.instagram.com/tv/C9abcDEF_12/",
	}
	keys := map[string]struct{}{}
	for _, raw := range variants {
		p, err := ParsePostURL(raw)
		require.NoError(t, err)
		keys[p.Key()] = struct{}{}
	}
	require.Len(t, keys, 1)
	require.Contains(t, keys, "https://www.instagram.com/reel/C9abcDEF_12/")
}

func TestSelectMedia(t *testing.T) {
	t.Parallel()

	got, err := SelectMedia([]string{"https://x/a.jpg", "https://x/b.mp4"})
	require.NoError(t, err)
	require.Equal(t, "https://x/b.mp4", got)

	got, err = SelectMedia([]string{"", "https://x/a.jpg?stp=1", "https://x/c.png"})
	require.NoError(t, err)
	require.Equal(t, "https://x/a.jpg?stp=1", got)

	got, err = SelectMedia([]string{"https://cdn/v/t50/abc.mp4?_nc_ht=x&oe=1"})
	require.NoError(t, err)
	require.Equal(t, "https://cdn/v/t50/abc.mp4?_nc_ht=x&oe=1", got)

	_, err = SelectMedia(nil)
	require.ErrorIs(t, err, ErrNoMediaFound)
	_, err = SelectMedia([]string{" ", ""})
	require.ErrorIs(t, err, ErrNoMediaFound)
}

func TestKindClassification(t *testing.T) {
	t.Parallel()

	kind, ok := KindFromURL("https://x/b.mp4?x=1")
	require.True(t, ok)
	require.Equal(t, KindVideo, kind)

	kind, ok = KindFromURL("https://x/a.JPEG")
	require.True(t, ok)
	require.Equal(t, KindImage, kind)

	_, ok = KindFromURL("https://x/media?id=1")
	require.False(t, ok)

	kind, ok = KindFromContentType("video/mp4; codecs=avc1")
	require.True(t, ok)
	require.Equal(t, KindVideo, kind)

	kind, ok = KindFromContentType("image/webp")
	require.True(t, ok)
	require.Equal(t, KindImage, kind)

	_, ok = KindFromContentType("application/octet-stream")
	require.False(t, ok)

	require.Equal(t, KindVideo, KindHint("https://x/video/123"))
	require.Equal(t, KindImage, KindHint("https://x/asset/123"))
}

func TestCodeOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, CodeOK, CodeOf(nil))
	require.Equal(t, CodeOverloaded, CodeOf(fmt.Errorf("acquire: %w", ErrOverloaded)))
	require.Equal(t, CodeResolverTimeout, CodeOf(fmt.Errorf("race: %w", ErrResolverTimeout)))
	require.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	require.True(t, Retryable(ErrOverloaded))
	require.False(t, Retryable(ErrInvalidInput))
}
