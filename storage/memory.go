package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend used in tests and local
// development.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memObject
}

type memObject struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[string]map[string]memObject)}
}

func (b *MemoryBackend) EnsureBucket(ctx context.Context, bucket string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.buckets[bucket]; !ok {
		b.buckets[bucket] = make(map[string]memObject)
	}
	return nil
}

func (b *MemoryBackend) objects(bucket string) map[string]memObject {
	if objs, ok := b.buckets[bucket]; ok {
		return objs
	}
	objs := make(map[string]memObject)
	b.buckets[bucket] = objs
	return objs
}

func (b *MemoryBackend) StatObject(ctx context.Context, bucket, key string) (*ObjectInfo, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.buckets[bucket][key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return &ObjectInfo{
		Key:         key,
		Size:        int64(len(obj.data)),
		ContentType: obj.contentType,
		Metadata:    obj.metadata,
	}, nil
}

func (b *MemoryBackend) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects(bucket)[key] = memObject{data: data, contentType: contentType}
	return nil
}

func (b *MemoryBackend) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.buckets[bucket][key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *MemoryBackend) CopyObject(ctx context.Context, bucket, fromKey, toKey string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.buckets[bucket][fromKey]
	if !ok {
		return ErrObjectNotFound
	}
	b.objects(bucket)[toKey] = obj
	return nil
}

func (b *MemoryBackend) RemoveObject(ctx context.Context, bucket, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.buckets[bucket], key) // missing key is success
	return nil
}

func (b *MemoryBackend) RemoveObjects(ctx context.Context, bucket string, keys []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, k := range keys {
		delete(b.buckets[bucket], k)
	}
	return nil
}

func (b *MemoryBackend) RemoveByPrefix(ctx context.Context, bucket, prefix string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k := range b.buckets[bucket] {
		if strings.HasPrefix(k, prefix) {
			delete(b.buckets[bucket], k)
		}
	}
	return nil
}

func (b *MemoryBackend) PresignedPutURL(ctx context.Context, bucket, key, filename string, expiry time.Duration, maxSize int64) (*PresignedUpload, error) {
	return &PresignedUpload{
		URL: fmt.Sprintf("memory://%s", bucket),
		Fields: map[string]string{
			"key":                 key,
			"Content-Disposition": fmt.Sprintf("attachment; filename=%q", filename),
		},
	}, nil
}

func (b *MemoryBackend) PresignedGetURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if _, ok := b.buckets[bucket][key]; !ok {
		return "", ErrObjectNotFound
	}
	return fmt.Sprintf("memory://%s/%s?expires=%d", bucket, key, int64(expiry.Seconds())), nil
}
