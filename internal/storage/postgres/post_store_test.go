package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/lixiansky/Colorful-State/internal/storage"
)

func newMockStore(t *testing.T) (*PostStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestMigrateAppliesSchema(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS tweets").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertInsertsRow(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	published := time.Date(2024, 4, 15, 18, 30, 0, 0, time.UTC)
	zh := "你好"
	post := storage.Post{
		TweetID:     "42",
		Author:      "@u",
		Content:     "hello",
		ContentZH:   &zh,
		PublishedAt: &published,
		Images:      []string{"https://pbs.twimg.com/media/a?format=jpg&name=large"},
		SourceURL:   "https://nitter.net/u/status/42",
	}

	mock.ExpectQuery("INSERT INTO tweets").
		WithArgs(
			"42",
			"@u",
			"hello",
			&zh,
			&published,
			false,
			[]byte(`["https://pbs.twimg.com/media/a?format=jpg&name=large"]`),
			(*string)(nil),
			"https://nitter.net/u/status/42",
		).
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := store.Upsert(context.Background(), post)
	require.NoError(t, err)
	require.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertEmptyImagesAndVideo(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	video := "https://video.twimg.com/a.mp4"

	mock.ExpectQuery("ON CONFLICT \\(tweet_id\\) DO UPDATE").
		WithArgs("1", "a", "c", (*string)(nil), (*time.Time)(nil), true, []byte(`[]`), &video, "https://n/a/status/1").
		WillReturnRows(mock.NewRows([]string{"id"}).AddRow(int64(1)))

	_, err := store.Upsert(context.Background(), storage.Post{
		TweetID: "1", Author: "a", Content: "c", IsRetweet: true, VideoURL: video, SourceURL: "https://n/a/status/1",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	_, err := store.Upsert(context.Background(), storage.Post{})
	require.Error(t, err)

	mock.ExpectQuery("INSERT INTO tweets").WillReturnError(errors.New("connection reset"))
	_, err = store.Upsert(context.Background(), storage.Post{TweetID: "9"})
	require.ErrorContains(t, err, "upsert tweet 9")

	var nilStore *PostStore
	_, err = nilStore.Upsert(context.Background(), storage.Post{TweetID: "9"})
	require.ErrorIs(t, err, storage.ErrNotConfigured)
}

func TestLookup(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	scraped := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	ids := []string{"1", "2"}

	mock.ExpectQuery("SELECT tweet_id, author, created_at").
		WithArgs(ids).
		WillReturnRows(mock.NewRows([]string{"tweet_id", "author", "created_at", "has_translation", "images", "has_video"}).
			AddRow("1", "@u", scraped, true, int32(2), false))

	got, err := store.Lookup(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, storage.Status{
		TweetID: "1", Author: "@u", ScrapedAt: scraped, HasTranslation: true, ImageCount: 2,
	}, got["1"])
	require.NoError(t, mock.ExpectationsWereMet())

	empty, err := store.Lookup(context.Background(), nil)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestList(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	created := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	video := "https://video.twimg.com/a.mp4"
	zh := "译文"

	mock.ExpectQuery("ORDER BY published_at DESC NULLS LAST, created_at DESC").
		WillReturnRows(mock.NewRows([]string{
			"id", "tweet_id", "author", "content", "content_zh", "published_at", "is_retweet",
			"images", "video_url", "source_url", "created_at", "updated_at",
		}).
			AddRow(int64(2), "2", "@u", "second", &zh, &created, false, []byte(`["x"]`), &video, "https://n/2", created, created).
			AddRow(int64(1), "1", "@u", "first", (*string)(nil), (*time.Time)(nil), true, []byte(`[]`), (*string)(nil), "https://n/1", created, created))

	posts, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, posts, 2)
	require.Equal(t, []string{"x"}, posts[0].Images)
	require.Equal(t, video, posts[0].VideoURL)
	require.Equal(t, "译文", *posts[0].ContentZH)
	require.Nil(t, posts[1].ContentZH)
	require.Nil(t, posts[1].PublishedAt)
	require.Empty(t, posts[1].VideoURL)
	require.NotNil(t, posts[1].Images)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = New(context.Background(), Config{DSN: "postgres://localhost:notaport/db"})
	require.Error(t, err)
	_, err = NewWithPool(nil)
	require.Error(t, err)
}
