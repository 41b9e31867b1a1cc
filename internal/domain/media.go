package domain

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"
)

// MediaKind is the class of resource being acquired.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
)

func ParseMediaKind(s string) (MediaKind, error) {
	switch MediaKind(strings.ToLower(strings.TrimSpace(s))) {
	case KindImage:
		return KindImage, nil
	case KindVideo:
		return KindVideo, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedKind, s)
}

func (k MediaKind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// DefaultExtension is used until the origin or a capture reports a better one.
func (k MediaKind) DefaultExtension() string {
	if k == KindVideo {
		return "mp4"
	}
	return "jpg"
}

// Accept returns the Accept header value for a plain fetch of this kind.
func (k MediaKind) Accept() string {
	return string(k) + "/*"
}

// SplitMediaType splits a Content-Type value into its type and subtype,
// dropping any parameters. ok is false when the value is not of the form type/subtype.
func SplitMediaType(contentType string) (major, minor string, ok bool) {
	base, _, _ := strings.Cut(contentType, ";")
	major, minor, ok = strings.Cut(strings.TrimSpace(base), "/")
	if !ok || major == "" || minor == "" {
		return "", "", false
	}
	return strings.ToLower(major), strings.ToLower(minor), true
}

// ExtensionFromMime returns the subtype of a mime type, e.g. "webm" for
// "video/webm;codecs=vp9,opus".
func ExtensionFromMime(mimeType string) string {
	_, minor, ok := SplitMediaType(mimeType)
	if !ok {
		return ""
	}
	return minor
}

// ReplaceExtension swaps the extension after the last dot, or appends one.
func ReplaceExtension(name, ext string) string {
	if ext == "" {
		return name
	}
	if i := strings.LastIndex(name, "."); i != -1 {
		return name[:i+1] + ext
	}
	return name + "." + ext
}

// DefaultName builds "<prefix>_<kind>_<unix millis>.<ext>".
func DefaultName(prefix string, kind MediaKind, now time.Time) string {
	if prefix == "" {
		prefix = "media"
	}
	return fmt.Sprintf("%s_%s_%d.%s", prefix, kind, now.UnixMilli(), kind.DefaultExtension())
}

// StreamMetadata is the JSON document some origins embed, URL encoded, as the
// last path segment of progressive media URLs.
type StreamMetadata struct {
	FileName string `json:"fileName"`
	MimeType string `json:"mimeType"`
}

// ParseStreamMetadata extracts StreamMetadata from the last path segment of rawURL.
func ParseStreamMetadata(rawURL string) (StreamMetadata, bool) {
	var meta StreamMetadata

	segment := rawURL
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		segment = u.EscapedPath()
	}
	segment = path.Base(segment)

	decoded, err := url.PathUnescape(segment)
	if err != nil {
		return meta, false
	}
	// Some origins prefix the document with a static marker such as "document".
	start := strings.Index(decoded, "{")
	if start == -1 {
		return meta, false
	}
	if err := json.Unmarshal([]byte(decoded[start:]), &meta); err != nil {
		return StreamMetadata{}, false
	}
	return meta, meta.FileName != "" || meta.MimeType != ""
}
