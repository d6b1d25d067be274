package scraper

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// TargetKind selects the URL template and extraction entry point for a Target.
type TargetKind int

const (
	// TargetAccount fetches the latest post of an account timeline.
	TargetAccount TargetKind = iota
	// TargetSearch fetches the latest post matching a keyword search.
	TargetSearch
	// TargetPost fetches one specific post by identifier.
	TargetPost
)

// String returns a short label for logs and metrics.
func (k TargetKind) String() string {
	switch k {
	case TargetAccount:
		return "account"
	case TargetSearch:
		return "search"
	case TargetPost:
		return "post"
	default:
		return "unknown"
	}
}

const searchPrefix = "search:"

var postURLPattern = regexp.MustCompile(`(?:x\.com|twitter\.com)/([^/]+)/status/(\d+)`)

// Target is an immutable fetch request: an account handle, a search keyword,
// or a specific post.
type Target struct {
	kind    TargetKind
	handle  string
	keyword string
	postID  string
}

// Account builds a timeline target for handle.
func Account(handle string) Target {
	return Target{kind: TargetAccount, handle: strings.TrimPrefix(strings.TrimSpace(handle), "@")}
}

// Search builds a keyword search target.
func Search(keyword string) Target {
	return Target{kind: TargetSearch, keyword: strings.TrimSpace(keyword)}
}

// Post builds a single-post target.
func Post(handle, postID string) Target {
	return Target{
		kind:   TargetPost,
		handle: strings.TrimPrefix(strings.TrimSpace(handle), "@"),
		postID: strings.TrimSpace(postID),
	}
}

// ParseTarget accepts a handle, "search:<keyword>", or a post URL.
func ParseTarget(raw string) (Target, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Target{}, fmt.Errorf("empty target")
	}
	if strings.HasPrefix(raw, searchPrefix) {
		keyword := strings.TrimSpace(raw[len(searchPrefix):])
		if keyword == "" {
			return Target{}, fmt.Errorf("empty search keyword in %q", raw)
		}
		return Search(keyword), nil
	}
	if target, ok := ParsePostURL(raw); ok {
		return target, nil
	}
	if strings.ContainsAny(raw, "/?# ") {
		return Target{}, fmt.Errorf("invalid target %q", raw)
	}
	return Account(raw), nil
}

// ParsePostURL extracts handle and post id from an x.com or twitter.com status URL.
func ParsePostURL(raw string) (Target, bool) {
	m := postURLPattern.FindStringSubmatch(raw)
	if m == nil {
		return Target{}, false
	}
	return Post(m[1], m[2]), true
}

// Kind reports the target variant.
func (t Target) Kind() TargetKind { return t.kind }

// Handle returns the account handle for account and post targets.
func (t Target) Handle() string { return t.handle }

// Keyword returns the search keyword for search targets.
func (t Target) Keyword() string { return t.keyword }

// PostID returns the post identifier for post targets.
func (t Target) PostID() string { return t.postID }

// Path returns the mirror-relative path for the target.
func (t Target) Path() string {
	switch t.kind {
	case TargetSearch:
		return "/search?f=tweets&q=" + url.QueryEscape(t.keyword)
	case TargetPost:
		return "/" + t.handle + "/status/" + t.postID
	default:
		return "/" + t.handle
	}
}

// URL joins an instance base URL with the target path.
func (t Target) URL(instance string) string {
	return strings.TrimRight(instance, "/") + t.Path()
}

// FallbackAuthor is used when the page does not expose a username.
func (t Target) FallbackAuthor() string {
	if t.kind == TargetSearch {
		return t.keyword
	}
	return t.handle
}

// String renders the target in the same textual form ParseTarget accepts.
func (t Target) String() string {
	switch t.kind {
	case TargetSearch:
		return searchPrefix + t.keyword
	case TargetPost:
		return "https://x.com/" + t.handle + "/status/" + t.postID
	default:
		return t.handle
	}
}

// PostRecord is the canonical output of a successful fetch.
type PostRecord struct {
	ExternalID  string   `json:"tweet_id"`
	Author      string   `json:"author"`
	Text        string   `json:"content"`
	Permalink   string   `json:"source_url"`
	PublishedAt string   `json:"published"`
	IsRepost    bool     `json:"is_retweet"`
	Images      []string `json:"images"`
	VideoURL    string   `json:"video_url,omitempty"`
}

// Valid reports whether the record carries the fields every stored post needs.
func (p PostRecord) Valid() bool {
	return strings.TrimSpace(p.Text) != "" && strings.TrimSpace(p.Permalink) != ""
}

// HasVideo reports whether a video URL was found.
func (p PostRecord) HasVideo() bool { return p.VideoURL != "" }

// RenderedPage is the markup captured by one instance attempt.
type RenderedPage struct {
	Instance       string
	URL            string
	StatusCode     int
	HTML           string
	ChallengeWaits int
}

// Extraction is a parsed record plus the media candidates still awaiting
// validation.
type Extraction struct {
	Record PostRecord
	// Poster is the canonicalized poster of the video element, empty when
	// the page did not publish one.
	Poster string
}
