package model

import (
	"context"
	"io"
)

// BlobStorage stores user uploads in public buckets.
type BlobStorage interface {
	Upload(ctx context.Context, bucket, path string, body io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, bucket, path string) error
	PublicURL(bucket, path string) string
}
