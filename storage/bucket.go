package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"strings"
	"time"
)

// TTLRegistry records object keys as time-bounded. Implemented by the
// durable store; clearing an entry lifts an object's temporary status
// without touching the object.
type TTLRegistry interface {
	RegisterTTL(ctx context.Context, bucket, key string, expiresAt time.Time) error
	ClearTTL(ctx context.Context, bucket string, keys ...string) error
}

// Deleter enqueues asynchronous deletions. Implemented by the deletion job
// queue.
type Deleter interface {
	EnqueueKey(bucket, key string)
	EnqueuePrefix(bucket, prefix string)
}

// FileMetadata describes a stored file for callers.
type FileMetadata struct {
	Filename    string
	Extension   string
	ContentType string
	Length      int64
}

// BucketConfig wires one Bucket instance.
type BucketConfig struct {
	Name       string
	Visibility Visibility
	Backend    Backend

	// TTL and Deleter may be nil; the bucket then skips TTL registration
	// and cascade enqueueing respectively.
	TTL     TTLRegistry
	Deleter Deleter

	// PublicBaseURL builds stable URLs for Public buckets.
	PublicBaseURL string

	// DefaultUploadTTL is registered for direct uploads; callers promote
	// objects to permanent by clearing it. Zero selects 30 minutes.
	DefaultUploadTTL time.Duration
}

// Bucket is the per-bucket facade over a Backend: presigned URLs, direct
// uploads with TTL registration, metadata, streaming, and cascading delete
// of "-parsed" side-assets.
type Bucket struct {
	name          string
	visibility    Visibility
	backend       Backend
	ttl           TTLRegistry
	deleter       Deleter
	publicBaseURL string
	uploadTTL     time.Duration
}

func NewBucket(cfg BucketConfig) *Bucket {
	uploadTTL := cfg.DefaultUploadTTL
	if uploadTTL <= 0 {
		uploadTTL = 30 * time.Minute
	}
	publicBase := strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Bucket{
		name:          cfg.Name,
		visibility:    cfg.Visibility,
		backend:       cfg.Backend,
		ttl:           cfg.TTL,
		deleter:       cfg.Deleter,
		publicBaseURL: publicBase,
		uploadTTL:     uploadTTL,
	}
}

func (b *Bucket) Name() string           { return b.name }
func (b *Bucket) Visibility() Visibility { return b.visibility }

// Ensure creates the underlying bucket if needed.
func (b *Bucket) Ensure(ctx context.Context) error {
	return b.backend.EnsureBucket(ctx, b.name)
}

// PresignUpload returns a presigned POST target for key. Content type is
// inferred from the filename; the response fields force download with the
// original filename. If temporary, a TTL entry bounds the upload's life
// until a caller promotes it.
func (b *Bucket) PresignUpload(ctx context.Context, key, filename string, expiry time.Duration, maxSize int64, temporary bool) (*PresignedUpload, error) {
	up, err := b.backend.PresignedPutURL(ctx, b.name, key, filename, expiry, maxSize)
	if err != nil {
		return nil, err
	}
	if temporary && b.ttl != nil {
		if err := b.ttl.RegisterTTL(ctx, b.name, key, time.Now().Add(b.uploadTTL)); err != nil {
			return nil, fmt.Errorf("registering upload TTL: %w", err)
		}
	}
	return up, nil
}

// PresignDownload returns an expiring GET URL for key.
func (b *Bucket) PresignDownload(ctx context.Context, key string, expiry time.Duration) (string, error) {
	return b.backend.PresignedGetURL(ctx, b.name, key, expiry)
}

// Upload stores data under key server-side and registers the default TTL.
// Callers promote the object to permanent with Promote.
func (b *Bucket) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := b.backend.PutObject(ctx, b.name, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		return "", err
	}
	if b.ttl != nil {
		if err := b.ttl.RegisterTTL(ctx, b.name, key, time.Now().Add(b.uploadTTL)); err != nil {
			return "", fmt.Errorf("registering upload TTL: %w", err)
		}
	}
	return key, nil
}

// Promote lifts the temporary status of keys by removing their TTL entries.
// The objects themselves are untouched.
func (b *Bucket) Promote(ctx context.Context, keys ...string) error {
	if b.ttl == nil {
		return nil
	}
	return b.ttl.ClearTTL(ctx, b.name, keys...)
}

// Metadata returns file metadata for key, or ErrObjectNotFound.
func (b *Bucket) Metadata(ctx context.Context, key string) (*FileMetadata, error) {
	info, err := b.backend.StatObject(ctx, b.name, key)
	if err != nil {
		return nil, err
	}

	filename := path.Base(key)
	if fn, ok := info.Metadata["Filename"]; ok && fn != "" {
		filename = fn
	}
	return &FileMetadata{
		Filename:    filename,
		Extension:   strings.TrimPrefix(strings.ToLower(path.Ext(filename)), "."),
		ContentType: info.ContentType,
		Length:      info.Size,
	}, nil
}

// Stream returns the object's byte stream, or ErrObjectNotFound.
func (b *Bucket) Stream(ctx context.Context, key string) (io.ReadCloser, error) {
	return b.backend.GetObject(ctx, b.name, key)
}

// Copy duplicates an object within the bucket, e.g. when cloning an avatar
// to a new record. If temporary, the destination gets a TTL entry.
func (b *Bucket) Copy(ctx context.Context, fromKey, toKey string, temporary bool) error {
	if err := b.backend.CopyObject(ctx, b.name, fromKey, toKey); err != nil {
		return err
	}
	if temporary && b.ttl != nil {
		if err := b.ttl.RegisterTTL(ctx, b.name, toKey, time.Now().Add(b.uploadTTL)); err != nil {
			return fmt.Errorf("registering copy TTL: %w", err)
		}
	}
	return nil
}

// Move copies fromKey to toKey and deletes the source.
func (b *Bucket) Move(ctx context.Context, fromKey, toKey string) error {
	if err := b.backend.CopyObject(ctx, b.name, fromKey, toKey); err != nil {
		return err
	}
	return b.Delete(ctx, fromKey)
}

// Delete removes key best-effort: missing objects are success. Before the
// primary object goes, a cascading deletion of its "-parsed" sibling prefix
// is enqueued; keys already inside a parsed prefix never cascade further.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	if b.deleter != nil && !IsParsedKey(key) {
		b.deleter.EnqueuePrefix(b.name, ParsedPrefix(key))
	}
	if err := b.backend.RemoveObject(ctx, b.name, key); err != nil {
		return err
	}
	if b.ttl != nil {
		if err := b.ttl.ClearTTL(ctx, b.name, key); err != nil {
			slog.Warn("clearing TTL after delete", "bucket", b.name, "key", key, "error", err)
		}
	}
	return nil
}

// DeletePrefix removes every object under prefix. With a deleter wired the
// work is enqueued for asynchronous retrying deletion; prefix jobs never
// cascade further.
func (b *Bucket) DeletePrefix(ctx context.Context, prefix string) error {
	if b.deleter != nil {
		b.deleter.EnqueuePrefix(b.name, prefix)
		return nil
	}
	return b.backend.RemoveByPrefix(ctx, b.name, prefix)
}

// AccessRef builds the reference substituted into extracted text for key:
// a stable public URL for public buckets, a server-streaming path for
// private ones.
func (b *Bucket) AccessRef(key string) string {
	if b.visibility == Public && b.publicBaseURL != "" {
		return b.publicBaseURL + "/" + key
	}
	return "/v1/files/" + url.PathEscape(key)
}
