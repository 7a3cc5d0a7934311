// Package storage holds the persistence backends for validated proxies and
// the blob destinations exports are written to.
package storage

import (
	"context"
	"io"
)

// BlobStore writes an object and returns a URI describing where it landed.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
