package browser

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Ashwin-z/savereelify.com/internal/media"
)

const maxTitleRunes = 50

// ParseMetadata reads the title, og:image thumbnail and author from a rendered
// post page. Missing fields are left empty.
func ParseMetadata(html string) (media.PageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return media.PageMetadata{}, fmt.Errorf("parse document: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	return media.PageMetadata{
		Title:     truncateRunes(strings.Join(strings.Fields(title), " "), maxTitleRunes),
		Thumbnail: metaProperty(doc, "og:image"),
		Username:  usernameFrom(metaProperty(doc, "og:title")),
	}, nil
}

func metaProperty(doc *goquery.Document, property string) string {
	content, _ := doc.Find(`meta[property="` + property + `"]`).First().Attr("content")
	return strings.TrimSpace(content)
}

// usernameFrom extracts the author from og:title values such as
// `someone on Instagram: "caption"`.
func usernameFrom(ogTitle string) string {
	if i := strings.Index(ogTitle, " on Instagram"); i > 0 {
		return strings.TrimSpace(ogTitle[:i])
	}
	return ogTitle
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
