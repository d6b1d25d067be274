// Package postgres provides the Postgres-backed post store.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lixiansky/Colorful-State/internal/storage"
)

// Schema is applied by Migrate. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS tweets (
	id BIGSERIAL PRIMARY KEY,
	tweet_id TEXT NOT NULL UNIQUE,
	author TEXT NOT NULL,
	content TEXT NOT NULL,
	content_zh TEXT,
	published_at TIMESTAMPTZ,
	is_retweet BOOLEAN NOT NULL DEFAULT FALSE,
	images JSONB NOT NULL DEFAULT '[]'::jsonb,
	video_url TEXT,
	source_url TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_tweets_author ON tweets (author);
CREATE INDEX IF NOT EXISTS idx_tweets_published_at ON tweets (published_at DESC);
CREATE INDEX IF NOT EXISTS idx_tweets_created_at ON tweets (created_at DESC);
`

const upsertSQL = `
INSERT INTO tweets (
	tweet_id,
	author,
	content,
	content_zh,
	published_at,
	is_retweet,
	images,
	video_url,
	source_url
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9
)
ON CONFLICT (tweet_id) DO UPDATE SET
	content = EXCLUDED.content,
	content_zh = EXCLUDED.content_zh,
	images = EXCLUDED.images,
	video_url = EXCLUDED.video_url,
	source_url = EXCLUDED.source_url,
	updated_at = CURRENT_TIMESTAMP
RETURNING id`

const lookupSQL = `
SELECT tweet_id, author, created_at, content_zh IS NOT NULL, jsonb_array_length(images), video_url IS NOT NULL
FROM tweets
WHERE tweet_id = ANY($1)`

const listSQL = `
SELECT id, tweet_id, author, content, content_zh, published_at, is_retweet, images, video_url, source_url, created_at, updated_at
FROM tweets
ORDER BY published_at DESC NULLS LAST, created_at DESC`

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type querier interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// PostStore implements storage.PostStore on Postgres.
type PostStore struct {
	pool querier
}

var _ storage.PostStore = (*PostStore)(nil)

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*PostStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &PostStore{pool: pool}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier) (*PostStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &PostStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *PostStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate applies Schema.
func (s *PostStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Upsert inserts or refreshes a post and returns its row id.
func (s *PostStore) Upsert(ctx context.Context, p storage.Post) (int64, error) {
	if s == nil || s.pool == nil {
		return 0, storage.ErrNotConfigured
	}
	if p.TweetID == "" {
		return 0, fmt.Errorf("tweet id is required")
	}
	imagesJSON, err := json.Marshal(nonNil(p.Images))
	if err != nil {
		return 0, fmt.Errorf("marshal images: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, upsertSQL,
		p.TweetID,
		p.Author,
		p.Content,
		p.ContentZH,
		p.PublishedAt,
		p.IsRetweet,
		imagesJSON,
		nullIfEmpty(p.VideoURL),
		p.SourceURL,
	).Scan(&id)
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
	rows, err := s.pool.Query(ctx, lookupSQL, tweetIDs)
	if err != nil {
		return nil, fmt.Errorf("lookup tweets: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st storage.Status
		var images int32
		if err := rows.Scan(&st.TweetID, &st.Author, &st.ScrapedAt, &st.HasTranslation, &images, &st.HasVideo); err != nil {
			return nil, fmt.Errorf("scan tweet status: %w", err)
		}
		st.ImageCount = int(images)
		out[st.TweetID] = st
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tweet status: %w", err)
	}
	return out, nil
}

// List returns all posts in export order.
func (s *PostStore) List(ctx context.Context) ([]storage.Post, error) {
	rows, err := s.pool.Query(ctx, listSQL)
	if err != nil {
		return nil, fmt.Errorf("list tweets: %w", err)
	}
	defer rows.Close()

	var posts []storage.Post
	for rows.Next() {
		var (
			p          storage.Post
			imagesJSON []byte
			videoURL   *string
		)
		if err := rows.Scan(
			&p.ID,
			&p.TweetID,
			&p.Author,
			&p.Content,
			&p.ContentZH,
			&p.PublishedAt,
			&p.IsRetweet,
			&imagesJSON,
			&videoURL,
			&p.SourceURL,
			&p.CreatedAt,
			&p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tweet: %w", err)
		}
		if p.Images, err = decodeImages(imagesJSON); err != nil {
			return nil, fmt.Errorf("decode images of %s: %w", p.TweetID, err)
		}
		if videoURL != nil {
			p.VideoURL = *videoURL
		}
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tweets: %w", err)
	}
	return posts, nil
}

func decodeImages(raw []byte) ([]string, error) {
	images := []string{}
	if len(raw) == 0 {
		return images, nil
	}
	if err := json.Unmarshal(raw, &images); err != nil {
		return nil, err
	}
	return nonNil(images), nil
}

func nonNil(images []string) []string {
	if images == nil {
		return []string{}
	}
	return images
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
