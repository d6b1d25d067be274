// Package storage defines persistence for fetched posts and the blob stores
// that host posters and exported site data.
package storage

import (
	"context"
	"io"
)

// BlobStore writes objects and returns the URL they are reachable at.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}
