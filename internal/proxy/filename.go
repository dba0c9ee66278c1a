package proxy

import (
	"mime"
	"strings"
)

var extByType = map[string]string{
	"video/mp4":  ".mp4",
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Extension maps a Content-Type onto a file extension, defaulting to .jpg.
func Extension(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ".jpg"
	}
	if ext, ok := extByType[mt]; ok {
		return ext
	}
	return ".jpg"
}

// Filename keeps only ASCII letters and digits from name and appends the
// extension for contentType.
func Filename(name, contentType string) string {
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	base := b.String()
	if base == "" {
		base = defaultBaseName
	}
	return FilenamePrefix + base + Extension(contentType)
}
