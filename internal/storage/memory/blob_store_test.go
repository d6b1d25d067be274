package memory

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "/posters/a.jpg", "image/jpeg", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://posters/a.jpg", uri)

	payload[0] = 'C'
	obj, ok := store.Get("posters/a.jpg")
	require.True(t, ok)
	require.Equal(t, "content", string(obj.Data))
	require.Equal(t, "image/jpeg", obj.ContentType)

	obj.Data[0] = 'X'
	again, _ := store.Get("posters/a.jpg")
	require.Equal(t, "content", string(again.Data))
}

func TestBlobStoreOverwriteAndPaths(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewBlobStore()
	for _, p := range []string{"stats.json", "data.json", "data.json"} {
		_, err := store.PutObject(ctx, p, "application/json", strings.NewReader(p))
		require.NoError(t, err)
	}
	require.Equal(t, []string{"data.json", "stats.json"}, store.Paths())

	_, ok := store.Get("missing")
	require.False(t, ok)

	_, err := store.PutObject(ctx, " ", "", strings.NewReader(""))
	require.Error(t, err)
}
