// Package storage wraps a pluggable S3-compatible object store behind a
// Backend interface and a per-bucket facade with presigned URLs, TTL
// registration, and cascading deletion of parsed side-assets.
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrObjectNotFound is returned by StatObject and GetObject for missing
// keys. Delete paths treat missing objects as success.
var ErrObjectNotFound = errors.New("storage: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key         string
	Size        int64
	ContentType string
	Metadata    map[string]string
}

// PresignedUpload is a presigned POST target. Fields always include the
// final object key and a content-disposition forcing the original filename
// on download.
type PresignedUpload struct {
	URL    string
	Fields map[string]string
}

// Backend is the vendor-neutral surface over an S3-compatible store. One
// implementation is selected at startup; no runtime vendor branching.
type Backend interface {
	EnsureBucket(ctx context.Context, bucket string) error

	StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error)
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	CopyObject(ctx context.Context, bucket, fromKey, toKey string) error

	// Deletes are idempotent: a missing key is success.
	RemoveObject(ctx context.Context, bucket, key string) error
	RemoveObjects(ctx context.Context, bucket string, keys []string) error
	RemoveByPrefix(ctx context.Context, bucket, prefix string) error

	PresignedPutURL(ctx context.Context, bucket, key, filename string, expiry time.Duration, maxSize int64) (*PresignedUpload, error)
	PresignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)
}
