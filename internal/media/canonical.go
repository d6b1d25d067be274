// Package media turns mirror-proxied media references back into canonical CDN
// URLs, validates images, and synthesizes posters for videos that lack one.
package media

import (
	"encoding/hex"
	"net/url"
	"regexp"
	"strings"
)

// CanonicalHost serves original image bytes.
const CanonicalHost = "pbs.twimg.com"

var (
	encodedPathPattern = regexp.MustCompile(`/pic/enc/([0-9A-Fa-f]+)`)
	embeddedPattern    = regexp.MustCompile(`pbs\.twimg\.com/media/[^?&]+`)
)

// lowResMarkers select thumbnail renditions of a CDN image.
var lowResMarkers = []string{"name=small", "name=thumb", "name=tiny"}

// Canonicalize maps a mirror media URL to its canonical CDN form. It is
// best-effort: anything it cannot decode is returned unchanged. The function
// is idempotent.
func Canonicalize(raw string) string {
	if raw == "" || isCanonical(raw) {
		return raw
	}

	if m := encodedPathPattern.FindStringSubmatch(raw); m != nil {
		if decoded, err := hex.DecodeString(m[1]); err == nil && isCanonical(string(decoded)) {
			return string(decoded)
		}
	}

	decoded := unescape(raw)
	if idx := strings.LastIndex(decoded, "/media/"); idx >= 0 {
		part := decoded[idx+len("/media/"):]
		part, _, _ = strings.Cut(part, "?")
		if dot := strings.LastIndex(part, "."); dot >= 0 {
			id := part[:dot]
			ext := cutAny(part[dot+1:], "&?#")
			return "https://" + CanonicalHost + "/media/" + id + "?format=" + ext + "&name=large"
		}
	}

	if m := embeddedPattern.FindString(decoded); m != "" {
		return "https://" + m
	}
	return raw
}

// HasLowResMarker reports whether raw, or its URL-decoded form, requests a
// thumbnail rendition.
func HasLowResMarker(raw string) bool {
	decoded := unescape(raw)
	for _, marker := range lowResMarkers {
		if strings.Contains(raw, marker) || strings.Contains(decoded, marker) {
			return true
		}
	}
	return false
}

// IsManifest reports whether a video URL is an HLS playlist.
func IsManifest(videoURL string) bool {
	u, err := url.Parse(videoURL)
	if err != nil {
		return strings.Contains(videoURL, ".m3u8")
	}
	return strings.HasSuffix(strings.ToLower(u.Path), ".m3u8") || strings.Contains(videoURL, ".m3u8")
}

func isCanonical(raw string) bool {
	return hostOf(raw) == CanonicalHost
}

// hostOf extracts the lowercase host of an absolute or protocol-relative URL
// without failing on malformed escapes.
func hostOf(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.Contains(s, "://"):
		s = s[strings.Index(s, "://")+3:]
	case strings.HasPrefix(s, "//"):
		s = s[2:]
	default:
		return ""
	}
	s = cutAny(s, "/?#")
	if at := strings.LastIndex(s, "@"); at >= 0 {
		s = s[at+1:]
	}
	if colon := strings.LastIndex(s, ":"); colon >= 0 {
		s = s[:colon]
	}
	return s
}

func unescape(raw string) string {
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

func cutAny(s, chars string) string {
	if i := strings.IndexAny(s, chars); i >= 0 {
		return s[:i]
	}
	return s
}
