package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound indicates the blob does not exist in the backing store.
var ErrNotFound = errors.New("blob not found")

// Store persists opaque encrypted blobs addressed by their surrogate name.
// The original filename never reaches a Store.
type Store interface {
	// Put writes the blob atomically: a partially written blob must never
	// become visible under name.
	Put(ctx context.Context, name string, r io.Reader, size int64) error
	Open(ctx context.Context, name string) (io.ReadCloser, error)
	// Remove deletes the blob. Removing an absent blob is not an error.
	Remove(ctx context.Context, name string) error
}
