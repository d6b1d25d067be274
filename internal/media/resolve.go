package media

import (
	"net/url"
	"strings"
)

// ResolveURL makes ref absolute against an instance base URL. Protocol-relative
// references get https, root-relative ones are joined to base, absolute ones
// pass through and anything else is resolved per RFC 3986.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	switch {
	case ref == "":
		return ""
	case strings.HasPrefix(ref, "//"):
		return "https:" + ref
	case strings.HasPrefix(ref, "/"):
		return strings.TrimRight(base, "/") + ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil || !b.IsAbs() {
		return ref
	}
	return b.ResolveReference(r).String()
}
