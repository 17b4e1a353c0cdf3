// Package docpipe ingests user-uploaded documents of heterogeneous formats,
// converts them to normalized text/markdown, and persists originals and
// extracted side-assets in object storage with automated lifecycle
// management. CPU-heavy parsing runs in a bounded pool of isolated workers;
// extraction results are cached by source hash; deletions run through an
// asynchronous retrying queue that cascades to derived assets.
package docpipe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/docpipe/docpipe/cache"
	"github.com/docpipe/docpipe/parser"
	"github.com/docpipe/docpipe/queue"
	"github.com/docpipe/docpipe/storage"
	"github.com/docpipe/docpipe/store"
	"github.com/docpipe/docpipe/workerpool"
)

// ExtractRequest identifies one document to extract text from.
type ExtractRequest struct {
	SourceID  string             // stable source identifier (object key, file id)
	Extension string             // file extension, with or without leading dot
	Buffer    []byte             // raw document bytes
	Encoding  string             // declared text encoding, may be empty
	Filename  string             // original filename, used as a cache hint
	Source    storage.SourceKind // decides the bucket for extracted images
}

// ExtractResult is the finalized extraction.
type ExtractResult struct {
	Text      string `json:"text"`
	Filename  string `json:"filename,omitempty"`
	FromCache bool   `json:"from_cache"`
}

// ExtractOption configures one extraction.
type ExtractOption func(*extractOptions)

type extractOptions struct {
	qaImport    bool
	customParse bool
}

// WithQAImport selects the raw CSV rendering for tabular formats instead of
// the markdown-table rendering.
func WithQAImport() ExtractOption {
	return func(o *extractOptions) { o.qaImport = true }
}

// WithCustomParse marks the extraction as using the custom parse variant,
// cached separately from the default parse of the same source.
func WithCustomParse() ExtractOption {
	return func(o *extractOptions) { o.customParse = true }
}

// Service is the docpipe entry point. All collaborators are constructor
// injected; no process-wide registries.
type Service struct {
	cfg      Config
	registry *parser.Registry
	pools    map[string]*workerpool.Pool[*parser.ParseTask, *parser.ParseResult]
	cache    *cache.Cache
	store    *store.Store
	queue    *queue.Queue
	sweeper  *store.Sweeper
	buckets  map[storage.Visibility]*storage.Bucket

	mu     sync.Mutex
	closed bool
}

// New wires a Service over the given storage backend. Call Start to launch
// the deletion consumers and TTL sweeper, and Close on shutdown.
func New(cfg Config, backend storage.Backend) (*Service, error) {
	st, err := store.New(cfg.resolveDBPath())
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	q := queue.New(queue.Config{
		Concurrency:  cfg.DeleteConcurrency,
		MaxAttempts:  cfg.DeleteMaxAttempts,
		RetryBackoff: cfg.DeleteRetryBackoff,
		Failures:     st,
	})
	q.RegisterBucket(cfg.Storage.PublicBucket, backend)
	q.RegisterBucket(cfg.Storage.PrivateBucket, backend)

	buckets := map[storage.Visibility]*storage.Bucket{
		storage.Public: storage.NewBucket(storage.BucketConfig{
			Name:             cfg.Storage.PublicBucket,
			Visibility:       storage.Public,
			Backend:          backend,
			TTL:              st,
			Deleter:          q,
			PublicBaseURL:    cfg.Storage.PublicBaseURL,
			DefaultUploadTTL: cfg.UploadTTL,
		}),
		storage.Private: storage.NewBucket(storage.BucketConfig{
			Name:             cfg.Storage.PrivateBucket,
			Visibility:       storage.Private,
			Backend:          backend,
			TTL:              st,
			Deleter:          q,
			DefaultUploadTTL: cfg.UploadTTL,
		}),
	}

	registry := parser.NewRegistry()

	// One pool per parser kind, shared across the extensions it serves.
	pools := make(map[string]*workerpool.Pool[*parser.ParseTask, *parser.ParseResult])
	byParser := make(map[parser.Parser]*workerpool.Pool[*parser.ParseTask, *parser.ParseResult])
	for _, ext := range registry.Extensions() {
		p, err := registry.Get(ext)
		if err != nil {
			continue
		}
		pool, ok := byParser[p]
		if !ok {
			pool = workerpool.New(
				"parse-"+p.SupportedFormats()[0],
				cfg.MaxWorkers,
				cfg.TaskTimeout,
				p.Parse,
			)
			byParser[p] = pool
		}
		pools[ext] = pool
	}

	return &Service{
		cfg:      cfg,
		registry: registry,
		pools:    pools,
		cache:    cache.New(cfg.CacheTTL, cfg.CacheCleanupInterval),
		store:    st,
		queue:    q,
		sweeper:  store.NewSweeper(st, q, cfg.SweepInterval),
		buckets:  buckets,
	}, nil
}

// Start launches the deletion queue consumers and the TTL sweeper. They
// stop when ctx is done.
func (s *Service) Start(ctx context.Context) {
	s.queue.Start(ctx)
	go s.sweeper.Run(ctx)
}

// ExtractText converts one document to normalized text. Unchanged sources
// hit the raw-text cache and perform no worker dispatch; misses run the
// matching parser in an isolated worker, upload any extracted images, and
// substitute their markers with access references.
func (s *Service) ExtractText(ctx context.Context, req ExtractRequest, opts ...ExtractOption) (*ExtractResult, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrServiceClosed
	}
	s.mu.Unlock()

	var o extractOptions
	for _, f := range opts {
		f(&o)
	}

	ext := strings.ToLower(strings.TrimPrefix(req.Extension, "."))
	if !s.registry.Supports(ext) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}

	variant := ""
	if o.customParse {
		variant = "custom"
	}
	cacheKey := cache.Key(req.SourceID, variant)
	if e, ok := s.cache.Get(cacheKey); ok {
		// The caller's display name wins over whatever the first extraction
		// recorded; the hint only fills in when the request carries none.
		filename := req.Filename
		if filename == "" {
			filename = e.FilenameHint
		}
		return &ExtractResult{Text: e.Text, Filename: filename, FromCache: true}, nil
	}

	task := &parser.ParseTask{
		SourceID:  req.SourceID,
		Extension: ext,
		Buffer:    req.Buffer,
		Encoding:  req.Encoding,
	}
	result, err := s.pools[ext].Submit(ctx, task)
	if err != nil {
		return nil, mapParseError(ext, err)
	}

	// Tabular formats carry two renderings; QA import wants the raw CSV
	// rows, normal ingestion the markdown tables.
	text := result.RawText
	if result.FormatText != "" && !o.qaImport {
		text = result.FormatText
	}

	if len(result.Images) > 0 {
		text, err = s.resolveImages(ctx, req, text, result.Images)
		if err != nil {
			return nil, err
		}
	}

	s.cache.Set(cacheKey, text, req.Filename)
	return &ExtractResult{Text: text, Filename: req.Filename}, nil
}

// resolveImages uploads extracted images under the source key's "-parsed"
// sibling prefix and replaces each marker with the stored asset reference.
func (s *Service) resolveImages(ctx context.Context, req ExtractRequest, text string, images []parser.ExtractedImage) (string, error) {
	bucket := s.buckets[storage.VisibilityFor(req.Source)]
	prefix := storage.ParsedPrefix(req.SourceID)

	for _, img := range images {
		key := prefix + "/" + uuid.NewString() + parser.ExtForMIME(img.MIMEType)
		if _, err := bucket.Upload(ctx, key, img.Data, img.MIMEType); err != nil {
			return "", fmt.Errorf("%w: uploading parsed image: %s", ErrStorageUnavailable, err)
		}
		// Derived assets live as long as their source; deleting the source
		// cascades to them, so they carry no TTL of their own.
		if err := bucket.Promote(ctx, key); err != nil {
			return "", fmt.Errorf("%w: promoting parsed image: %s", ErrStorageUnavailable, err)
		}
		text = strings.ReplaceAll(text, img.MarkerID, bucket.AccessRef(key))
	}
	return text, nil
}

func mapParseError(ext string, err error) error {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, workerpool.ErrTimeout):
		return fmt.Errorf("%w: parsing %s", ErrWorkerTimeout, ext)
	case errors.Is(err, workerpool.ErrClosed):
		return ErrServiceClosed
	}
	var crash *workerpool.CrashError
	if errors.As(err, &crash) {
		return fmt.Errorf("%w: parsing %s", ErrWorkerCrashed, ext)
	}
	return fmt.Errorf("%w: %s: %s", ErrParseFailed, ext, err)
}

// Bucket returns the bucket for a visibility class.
func (s *Service) Bucket(v storage.Visibility) *storage.Bucket {
	return s.buckets[v]
}

// Queue returns the deletion queue, e.g. for observing status updates.
func (s *Service) Queue() *queue.Queue {
	return s.queue
}

// Store returns the underlying durable store for diagnostic access.
func (s *Service) Store() *store.Store {
	return s.store
}

// SweepNow runs one TTL sweep immediately, returning the number of expired
// entries enqueued for deletion.
func (s *Service) SweepNow(ctx context.Context) (int, error) {
	return s.sweeper.SweepOnce(ctx)
}

// Close shuts down the worker pools and cache and closes the store. The
// deletion consumers stop via the Start context.
func (s *Service) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	seen := make(map[*workerpool.Pool[*parser.ParseTask, *parser.ParseResult]]bool)
	for _, pool := range s.pools {
		if !seen[pool] {
			seen[pool] = true
			pool.Close()
		}
	}
	s.cache.Close()
	return s.store.Close()
}
