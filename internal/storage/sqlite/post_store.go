// Package sqlite provides a file-backed post store for local runs without a
// Postgres server.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/lixiansky/Colorful-State/internal/storage"
)

// timeLayout is fixed width so that TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS tweets (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tweet_id TEXT NOT NULL UNIQUE,
	author TEXT NOT NULL,
	content TEXT NOT NULL,
	content_zh TEXT,
	published_at TEXT,
	is_retweet BOOLEAN NOT NULL DEFAULT 0,
	images TEXT NOT NULL DEFAULT '[]',
	video_url TEXT,
	source_url TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tweets_author ON tweets(author);
CREATE INDEX IF NOT EXISTS idx_tweets_published_at ON tweets(published_at);
CREATE INDEX IF NOT EXISTS idx_tweets_created_at ON tweets(created_at);
`

// Clock supplies row timestamps.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// PostStore implements storage.PostStore on SQLite.
type PostStore struct {
	db    *sql.DB
	clock Clock
}

var _ storage.PostStore = (*PostStore)(nil)

// Open opens (creating if needed) the database file at path.
func Open(path string, clock Clock) (*PostStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer at a time; SQLite serializes anyway.
	db.SetMaxOpenConns(1)
	if clock == nil {
		clock = utcClock{}
	}
	return &PostStore{db: db, clock: clock}, nil
}

// Close closes the database.
func (s *PostStore) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

// Migrate creates the tweets table and indexes.
func (s *PostStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Upsert inserts or refreshes a post and returns its row id.
func (s *PostStore) Upsert(ctx context.Context, p storage.Post) (int64, error) {
	if p.TweetID == "" {
		return 0, fmt.Errorf("tweet id is required")
	}
	images := p.Images
	if images == nil {
		images = []string{}
	}
	imagesJSON, err := json.Marshal(images)
	if err != nil {
		return 0, fmt.Errorf("marshal images: %w", err)
	}
	now := formatTime(s.clock.Now())

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO tweets (tweet_id, author, content, content_zh, published_at, is_retweet,
			images, video_url, source_url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tweet_id) DO UPDATE SET
			content = excluded.content,
			content_zh = excluded.content_zh,
			images = excluded.images,
			video_url = excluded.video_url,
			source_url = excluded.source_url,
			updated_at = excluded.updated_at
		RETURNING id
	`, p.TweetID, p.Author, p.Content, nullString(p.ContentZH), nullTime(p.PublishedAt), p.IsRetweet,
		string(imagesJSON), nullIfEmpty(p.VideoURL), p.SourceURL, now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert tweet %s: %w", p.TweetID, err)
	}
	return id, nil
}

// Lookup returns the stored status of the known ids among tweetIDs.
func (s *PostStore) Lookup(ctx context.Context, tweetIDs []string) (map[string]storage.Status, error) {
	out := make(map[string]storage.Status, len(tweetIDs))
	if len(tweetIDs) == 0 {
		return out, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(tweetIDs)), ",")
	args := make([]any, len(tweetIDs))
	for i, id := range tweetIDs {
		args[i] = id
	}
	// #nosec G202 -- only placeholders are interpolated.
	rows, err := s.db.QueryContext(ctx, `
		SELECT tweet_id, author, created_at, content_zh IS NOT NULL, json_array_length(images), video_url IS NOT NULL
		FROM tweets WHERE tweet_id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("lookup tweets: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	for rows.Next() {
		var (
			st      storage.Status
			created string
		)
		if err := rows.Scan(&st.TweetID, &st.Author, &created, &st.HasTranslation, &st.ImageCount, &st.HasVideo); err != nil {
			return nil, fmt.Errorf("scan tweet status: %w", err)
		}
		if st.ScrapedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out[st.TweetID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tweet status: %w", err)
	}
	return out, nil
}

// List returns all posts, newest publication first with undated posts last.
func (s *PostStore) List(ctx context.Context) ([]storage.Post, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tweet_id, author, content, content_zh, published_at, is_retweet, images,
			video_url, source_url, created_at, updated_at
		FROM tweets
		ORDER BY published_at IS NULL, published_at DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tweets: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only

	var posts []storage.Post
	for rows.Next() {
		var (
			p                storage.Post
			contentZH, video sql.NullString
			published        sql.NullString
			images           string
			created, updated string
		)
		if err := rows.Scan(&p.ID, &p.TweetID, &p.Author, &p.Content, &contentZH, &published, &p.IsRetweet,
			&images, &video, &p.SourceURL, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan tweet: %w", err)
		}
		if contentZH.Valid {
			zh := contentZH.String
			p.ContentZH = &zh
		}
		if published.Valid {
			ts, err := parseTime(published.String)
			if err != nil {
				return nil, err
			}
			p.PublishedAt = &ts
		}
		p.VideoURL = video.String
		if err := json.Unmarshal([]byte(images), &p.Images); err != nil {
			return nil, fmt.Errorf("decode images of %s: %w", p.TweetID, err)
		}
		if p.Images == nil {
			p.Images = []string{}
		}
		if p.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if p.UpdatedAt, err = parseTime(updated); err != nil {
			return nil, err
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tweets: %w", err)
	}
	return posts, nil
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", raw, err)
	}
	return t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func nullString(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
