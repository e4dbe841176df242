package storage

import (
	"context"
	"io"
)

// ObjectStorage is a flat key/object store for uploaded images. Uploading
// to an existing key replaces the object.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	Exists(ctx context.Context, key string) (bool, error)
}
