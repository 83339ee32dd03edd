// Package objstore abstracts the bucket storage that index builds stage
// their embedding files in.
package objstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a requested object or bucket does not exist.
var ErrNotFound = errors.New("object not found")

// Client is the minimal bucket surface the ingest path needs. Paths are
// slash-separated keys relative to the bucket root.
type Client interface {
	// EnsureBucket creates the bucket if it does not exist. Idempotent.
	EnsureBucket(ctx context.Context, bucket string) error
	// BucketExists reports whether the bucket exists.
	BucketExists(ctx context.Context, bucket string) (bool, error)
	// Upload writes the object at path, replacing any existing object.
	Upload(ctx context.Context, bucket, path string, r io.Reader) error
	// Download opens the object at path for reading.
	Download(ctx context.Context, bucket, path string) (io.ReadCloser, error)
	// List returns the object paths under the prefix, in lexical order.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	// DeleteBucket removes the bucket and everything in it.
	DeleteBucket(ctx context.Context, bucket string) error
}
