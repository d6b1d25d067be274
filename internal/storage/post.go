package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lixiansky/Colorful-State/internal/scraper"
)

// ErrNotConfigured is returned when persistence is required but no database
// was configured.
var ErrNotConfigured = errors.New("post store is not configured")

// Post is one stored row of the tweets table.
type Post struct {
	ID          int64
	TweetID     string
	Author      string
	Content     string
	ContentZH   *string
	PublishedAt *time.Time
	IsRetweet   bool
	Images      []string
	VideoURL    string
	SourceURL   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status summarizes what is stored for a post identifier.
type Status struct {
	TweetID        string
	Author         string
	ScrapedAt      time.Time
	HasTranslation bool
	ImageCount     int
	HasVideo       bool
}

// PostStore persists fetched posts keyed by tweet_id.
type PostStore interface {
	// Migrate creates the schema when missing.
	Migrate(ctx context.Context) error
	// Upsert inserts p, or refreshes content, translation, media, source URL
	// and updated_at when tweet_id already exists. It returns the row id.
	Upsert(ctx context.Context, p Post) (int64, error)
	// Lookup reports the stored status of each known id.
	Lookup(ctx context.Context, tweetIDs []string) (map[string]Status, error)
	// List returns every post, newest publication first, undated posts last.
	List(ctx context.Context) ([]Post, error)
	Close()
}

// FromRecord converts a fetched record into a storable post.
func FromRecord(rec scraper.PostRecord, translation *string) Post {
	images := rec.Images
	if images == nil {
		images = []string{}
	}
	return Post{
		TweetID:     rec.ExternalID,
		Author:      rec.Author,
		Content:     rec.Text,
		ContentZH:   translation,
		PublishedAt: ParsePublished(rec.PublishedAt),
		IsRetweet:   rec.IsRepost,
		Images:      images,
		VideoURL:    rec.VideoURL,
		SourceURL:   rec.Permalink,
	}
}

// publishedLayouts are tried in order. The first is the mirror date title.
var publishedLayouts = []string{
	"Jan 2, 2006 · 3:04 PM MST",
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParsePublished parses a mirror date title. It returns nil for the
// "Unknown Time" placeholder and anything unparseable.
func ParsePublished(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "Unknown Time" {
		return nil
	}
	for _, layout := range publishedLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			ts = ts.UTC()
			return &ts
		}
	}
	return nil
}

// NoOpStore discards writes and knows no posts. It is used when no database
// is configured.
type NoOpStore struct{}

// Migrate does nothing.
func (NoOpStore) Migrate(context.Context) error { return nil }

// Upsert does nothing.
func (NoOpStore) Upsert(context.Context, Post) (int64, error) { return 0, nil }

// Lookup reports nothing stored.
func (NoOpStore) Lookup(context.Context, []string) (map[string]Status, error) {
	return map[string]Status{}, nil
}

// List returns ErrNotConfigured.
func (NoOpStore) List(context.Context) ([]Post, error) { return nil, ErrNotConfigured }

// Close does nothing.
func (NoOpStore) Close() {}
