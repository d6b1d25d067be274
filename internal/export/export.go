// Package export renders stored posts into the static site data files
// data.json and stats.json.
package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lixiansky/Colorful-State/internal/storage"
)

const (
	// DataFile holds every exported post.
	DataFile = "data.json"
	// StatsFile holds aggregate counts.
	StatsFile = "stats.json"

	contentType = "application/json; charset=utf-8"
)

// Lister reads posts in export order.
type Lister interface {
	List(ctx context.Context) ([]storage.Post, error)
}

// Clock stamps the export.
type Clock interface {
	Now() time.Time
}

// Tweet is one entry of data.json.
type Tweet struct {
	TweetID     string   `json:"tweet_id"`
	Author      string   `json:"author"`
	Content     string   `json:"content"`
	ContentZH   *string  `json:"content_zh"`
	Images      []string `json:"images"`
	VideoURL    *string  `json:"video_url"`
	PublishedAt *string  `json:"published_at"`
	SourceURL   string   `json:"source_url"`
	CreatedAt   *string  `json:"created_at"`
}

// Data is the data.json document.
type Data struct {
	UpdatedAt  string  `json:"updated_at"`
	TotalCount int     `json:"total_count"`
	Tweets     []Tweet `json:"tweets"`
}

// Stats is the stats.json document.
type Stats struct {
	TotalTweets      int    `json:"total_tweets"`
	TweetsWithVideo  int    `json:"tweets_with_video"`
	TweetsWithImages int    `json:"tweets_with_images"`
	UniqueAuthors    int    `json:"unique_authors"`
	UpdatedAt        string `json:"updated_at"`
}

// Result reports where the files were written.
type Result struct {
	Stats    Stats
	DataURL  string
	StatsURL string
}

// Exporter writes data.json and stats.json to a blob store.
type Exporter struct {
	posts  Lister
	blobs  storage.BlobStore
	clock  Clock
	logger *zap.Logger
}

// New validates dependencies.
func New(posts Lister, blobs storage.BlobStore, clock Clock, logger *zap.Logger) (*Exporter, error) {
	if posts == nil {
		return nil, fmt.Errorf("post lister is required")
	}
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{posts: posts, blobs: blobs, clock: clock, logger: logger}, nil
}

// Run lists every post and writes both files.
func (e *Exporter) Run(ctx context.Context) (Result, error) {
	posts, err := e.posts.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list posts: %w", err)
	}
	now := e.clock.Now().UTC().Format(time.RFC3339)
	data := BuildData(posts, now)
	stats := BuildStats(data.Tweets, now)

	dataURL, err := e.put(ctx, DataFile, data)
	if err != nil {
		return Result{}, err
	}
	statsURL, err := e.put(ctx, StatsFile, stats)
	if err != nil {
		return Result{}, err
	}
	e.logger.Info("export written",
		zap.Int("tweets", stats.TotalTweets),
		zap.Int("with_video", stats.TweetsWithVideo),
		zap.Int("with_images", stats.TweetsWithImages),
		zap.Int("authors", stats.UniqueAuthors),
		zap.String("data_url", dataURL),
	)
	return Result{Stats: stats, DataURL: dataURL, StatsURL: statsURL}, nil
}

// BuildData converts posts, already in export order, into the data.json document.
func BuildData(posts []storage.Post, updatedAt string) Data {
	tweets := make([]Tweet, 0, len(posts))
	for _, p := range posts {
		images := p.Images
		if images == nil {
			images = []string{}
		}
		t := Tweet{
			TweetID:   p.TweetID,
			Author:    p.Author,
			Content:   p.Content,
			ContentZH: p.ContentZH,
			Images:    images,
			SourceURL: p.SourceURL,
		}
		if p.VideoURL != "" {
			v := p.VideoURL
			t.VideoURL = &v
		}
		if p.PublishedAt != nil {
			s := p.PublishedAt.UTC().Format(time.RFC3339)
			t.PublishedAt = &s
		}
		if !p.CreatedAt.IsZero() {
			s := p.CreatedAt.UTC().Format(time.RFC3339)
			t.CreatedAt = &s
		}
		tweets = append(tweets, t)
	}
	return Data{UpdatedAt: updatedAt, TotalCount: len(tweets), Tweets: tweets}
}

// BuildStats aggregates the exported tweets.
func BuildStats(tweets []Tweet, updatedAt string) Stats {
	stats := Stats{TotalTweets: len(tweets), UpdatedAt: updatedAt}
	authors := make(map[string]struct{}, len(tweets))
	for _, t := range tweets {
		if t.VideoURL != nil {
			stats.TweetsWithVideo++
		}
		if len(t.Images) > 0 {
			stats.TweetsWithImages++
		}
		authors[t.Author] = struct{}{}
	}
	stats.UniqueAuthors = len(authors)
	return stats
}

func (e *Exporter) put(ctx context.Context, name string, doc any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("encode %s: %w", name, err)
	}
	url, err := e.blobs.PutObject(ctx, name, contentType, &buf)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	return url, nil
}
