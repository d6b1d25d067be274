package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lixiansky/Colorful-State/internal/scraper"
)

func TestParsePublished(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		raw  string
		want *time.Time
	}{
		{name: "mirror title", raw: "Apr 15, 2024 · 6:30 PM UTC", want: ptr(time.Date(2024, 4, 15, 18, 30, 0, 0, time.UTC))},
		{name: "rfc3339 offset", raw: "2024-04-15T20:30:00+02:00", want: ptr(time.Date(2024, 4, 15, 18, 30, 0, 0, time.UTC))},
		{name: "iso without zone", raw: "2024-04-15T18:30:00", want: ptr(time.Date(2024, 4, 15, 18, 30, 0, 0, time.UTC))},
		{name: "date only", raw: " 2024-04-15 ", want: ptr(time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC))},
		{name: "placeholder", raw: "Unknown Time"},
		{name: "empty", raw: ""},
		{name: "garbage", raw: "yesterday"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := ParsePublished(tc.raw)
			if tc.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.True(t, tc.want.Equal(*got), "got %s", got)
			require.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestFromRecord(t *testing.T) {
	t.Parallel()

	zh := "你好"
	post := FromRecord(scraper.PostRecord{
		ExternalID:  "42",
		Author:      "@u",
		Text:        "hello",
		Permalink:   "https://nitter.net/u/status/42#m",
		PublishedAt: "Unknown Time",
		IsRepost:    true,
		VideoURL:    "https://video.twimg.com/a.mp4",
	}, &zh)

	require.Equal(t, "42", post.TweetID)
	require.Equal(t, "@u", post.Author)
	require.Equal(t, "hello", post.Content)
	require.Same(t, &zh, post.ContentZH)
	require.Nil(t, post.PublishedAt)
	require.True(t, post.IsRetweet)
	require.NotNil(t, post.Images)
	require.Empty(t, post.Images)
	require.Equal(t, "https://video.twimg.com/a.mp4", post.VideoURL)
	require.Equal(t, "https://nitter.net/u/status/42#m", post.SourceURL)
}

func TestNoOpStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	var store PostStore = NoOpStore{}
	require.NoError(t, store.Migrate(ctx))
	id, err := store.Upsert(ctx, Post{TweetID: "1"})
	require.NoError(t, err)
	require.Zero(t, id)
	status, err := store.Lookup(ctx, []string{"1"})
	require.NoError(t, err)
	require.Empty(t, status)
	_, err = store.List(ctx)
	require.ErrorIs(t, err, ErrNotConfigured)
	store.Close()
}

func ptr[T any](v T) *T { return &v }
