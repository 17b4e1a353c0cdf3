package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Backend implements Backend over any S3-compatible endpoint.
type S3Backend struct {
	client *minio.Client
}

// S3Config holds connection settings for an S3-compatible endpoint.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

func NewS3Backend(cfg S3Config) (*S3Backend, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("creating s3 client: %w", err)
	}
	return &S3Backend{client: client}, nil
}

func (b *S3Backend) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := b.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("checking bucket %s: %w", bucket, err)
	}
	if exists {
		return nil
	}
	if err := b.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", bucket, err)
	}
	return nil
}

func (b *S3Backend) StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("stat %s/%s: %w", bucket, key, err)
	}

	meta := make(map[string]string, len(info.UserMetadata))
	for k, v := range info.UserMetadata {
		meta[k] = v
	}
	return &ObjectInfo{
		Key:         info.Key,
		Size:        info.Size,
		ContentType: info.ContentType,
		Metadata:    meta,
	}, nil
}

func (b *S3Backend) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	_, err := b.client.PutObject(ctx, bucket, key, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *S3Backend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	obj, err := b.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	// GetObject is lazy; surface missing keys now.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if isNoSuchKey(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return obj, nil
}

func (b *S3Backend) CopyObject(ctx context.Context, bucket, fromKey, toKey string) error {
	_, err := b.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: toKey},
		minio.CopySrcOptions{Bucket: bucket, Object: fromKey},
	)
	if err != nil {
		if isNoSuchKey(err) {
			return ErrObjectNotFound
		}
		return fmt.Errorf("copy %s/%s -> %s: %w", bucket, fromKey, toKey, err)
	}
	return nil
}

func (b *S3Backend) RemoveObject(ctx context.Context, bucket, key string) error {
	err := b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("remove %s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *S3Backend) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	objectsCh := make(chan minio.ObjectInfo, len(keys))
	for _, k := range keys {
		objectsCh <- minio.ObjectInfo{Key: k}
	}
	close(objectsCh)

	for rErr := range b.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && !isNoSuchKey(rErr.Err) {
			return fmt.Errorf("bulk remove %s/%s: %w", bucket, rErr.ObjectName, rErr.Err)
		}
	}
	return nil
}

func (b *S3Backend) RemoveByPrefix(ctx context.Context, bucket, prefix string) error {
	objectsCh := b.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for rErr := range b.client.RemoveObjects(ctx, bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rErr.Err != nil && !isNoSuchKey(rErr.Err) {
			return fmt.Errorf("prefix remove %s/%s: %w", bucket, rErr.ObjectName, rErr.Err)
		}
	}
	return nil
}

func (b *S3Backend) PresignedPutURL(ctx context.Context, bucket, key, filename string, expiry time.Duration, maxSize int64) (*PresignedUpload, error) {
	policy := minio.NewPostPolicy()
	if err := policy.SetBucket(bucket); err != nil {
		return nil, err
	}
	if err := policy.SetKey(key); err != nil {
		return nil, err
	}
	if err := policy.SetExpires(time.Now().UTC().Add(expiry)); err != nil {
		return nil, err
	}
	if maxSize > 0 {
		if err := policy.SetContentLengthRange(1, maxSize); err != nil {
			return nil, err
		}
	}
	if ct := ContentTypeForFilename(filename); ct != "" {
		if err := policy.SetContentType(ct); err != nil {
			return nil, err
		}
	}
	if err := policy.SetContentDisposition(fmt.Sprintf("attachment; filename=%q", filename)); err != nil {
		return nil, err
	}

	u, fields, err := b.client.PresignedPostPolicy(ctx, policy)
	if err != nil {
		return nil, fmt.Errorf("presigning put %s/%s: %w", bucket, key, err)
	}
	fields["key"] = key
	return &PresignedUpload{URL: u.String(), Fields: fields}, nil
}

func (b *S3Backend) PresignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigning get %s/%s: %w", bucket, key, err)
	}
	return u.String(), nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.Code == "NotFound"
}
