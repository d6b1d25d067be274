package scraper

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by FetchLatest when every candidate instance failed.
var ErrNotFound = errors.New("post not found on any instance")

// FailureKind classifies why an instance attempt or a media step failed.
type FailureKind int

const (
	// InstanceUnreachable covers timeouts, DNS and connection failures.
	InstanceUnreachable FailureKind = iota + 1
	// InstanceForbidden is an explicit block response from the mirror.
	InstanceForbidden
	// NoContentFound means the page loaded but had no qualifying post.
	NoContentFound
	// MediaUnresolvable means canonicalization left a media URL unchanged.
	MediaUnresolvable
	// MediaInaccessible means validation rejected an image URL.
	MediaInaccessible
	// PosterSynthesisFailed means no poster could be derived for a video.
	PosterSynthesisFailed
)

// String returns the metric/log label for the kind.
func (k FailureKind) String() string {
	switch k {
	case InstanceUnreachable:
		return "unreachable"
	case InstanceForbidden:
		return "forbidden"
	case NoContentFound:
		return "no_content"
	case MediaUnresolvable:
		return "media_unresolvable"
	case MediaInaccessible:
		return "media_inaccessible"
	case PosterSynthesisFailed:
		return "poster_failed"
	default:
		return "unknown"
	}
}

// Failure is the typed error returned by each pipeline step.
type Failure struct {
	Kind     FailureKind
	Instance string
	Err      error
}

// Fail builds a Failure of kind wrapping err.
func Fail(kind FailureKind, instance string, err error) *Failure {
	return &Failure{Kind: kind, Instance: instance, Err: err}
}

func (f *Failure) Error() string {
	switch {
	case f.Instance != "" && f.Err != nil:
		return fmt.Sprintf("%s on %s: %v", f.Kind, f.Instance, f.Err)
	case f.Err != nil:
		return fmt.Sprintf("%s: %v", f.Kind, f.Err)
	case f.Instance != "":
		return fmt.Sprintf("%s on %s", f.Kind, f.Instance)
	default:
		return f.Kind.String()
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf extracts the FailureKind carried by err, or 0 when err is not a Failure.
func KindOf(err error) FailureKind {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind
	}
	return 0
}
