// Package queue is the asynchronous, retrying deletion queue for object
// storage. Jobs target a single key, a key batch, or a whole prefix;
// single-key and prefix jobs are de-duplicated while in flight. Deleting a
// key cascades one level to its "-parsed" sibling prefix, which holds the
// images extracted while parsing that object.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/docpipe/docpipe/storage"
	"github.com/docpipe/docpipe/store"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Job is one deletion work item. Exactly one of Key, Keys, Prefix is set.
type Job struct {
	ID        string
	Bucket    string
	Key       string
	Keys      []string
	Prefix    string
	Attempts  int
	Status    Status
	LastError string
	CreatedAt time.Time
}

// dedupID returns the job's idempotency key: the key value itself for
// single-key jobs, bucket:prefix for prefix jobs, empty (no de-dup) for
// multi-key jobs.
func (j *Job) dedupID() string {
	switch {
	case j.Key != "":
		return j.Key
	case j.Prefix != "":
		return j.Bucket + ":" + j.Prefix
	default:
		return ""
	}
}

// Update is a job status change published to observers.
type Update struct {
	JobID     string    `json:"job_id"`
	Bucket    string    `json:"bucket"`
	Target    string    `json:"target"`
	Status    Status    `json:"status"`
	Attempts  int       `json:"attempts"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// FailureStore retains terminally failed jobs for operational inspection.
type FailureStore interface {
	RecordFailedDeletion(ctx context.Context, f store.FailedDeletion) error
}

// Config tunes a Queue.
type Config struct {
	Concurrency  int           // consumer goroutines (default 6)
	MaxAttempts  int           // per-job attempt budget (default 10)
	RetryBackoff time.Duration // first retry delay, doubled per attempt (default 2s)
	Failures     FailureStore  // optional
}

// Queue processes deletion jobs with bounded concurrency and exponential
// backoff. Failures never propagate to the operation that triggered the
// delete.
type Queue struct {
	concurrency int
	maxAttempts int
	backoff     time.Duration
	failures    FailureStore

	mu       sync.Mutex
	backends map[string]storage.Backend
	pending  []*Job
	inflight map[string]*Job // dedupID -> queued or processing job

	notify  chan struct{}
	updates chan Update
	wg      sync.WaitGroup
}

func New(cfg Config) *Queue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 6
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 2 * time.Second
	}
	return &Queue{
		concurrency: cfg.Concurrency,
		maxAttempts: cfg.MaxAttempts,
		backoff:     cfg.RetryBackoff,
		failures:    cfg.Failures,
		backends:    make(map[string]storage.Backend),
		inflight:    make(map[string]*Job),
		notify:      make(chan struct{}, 1),
		updates:     make(chan Update, 256),
	}
}

// RegisterBucket binds a bucket name to its storage backend. Jobs naming an
// unregistered bucket are logged and completed without retry.
func (q *Queue) RegisterBucket(name string, backend storage.Backend) {
	q.mu.Lock()
	q.backends[name] = backend
	q.mu.Unlock()
}

// EnqueueKey queues deletion of one object. Repeat requests for a key
// already queued collapse into the existing job.
func (q *Queue) EnqueueKey(bucket, key string) {
	q.enqueue(&Job{ID: uuid.NewString(), Bucket: bucket, Key: key})
}

// EnqueueKeys queues a bulk deletion. Multi-key jobs are not de-duplicated.
func (q *Queue) EnqueueKeys(bucket string, keys []string) {
	if len(keys) == 0 {
		return
	}
	q.enqueue(&Job{ID: uuid.NewString(), Bucket: bucket, Keys: keys})
}

// EnqueuePrefix queues deletion of everything under prefix.
func (q *Queue) EnqueuePrefix(bucket, prefix string) {
	q.enqueue(&Job{ID: uuid.NewString(), Bucket: bucket, Prefix: prefix})
}

func (q *Queue) enqueue(job *Job) {
	job.Status = StatusPending
	job.CreatedAt = time.Now()

	q.mu.Lock()
	if id := job.dedupID(); id != "" {
		if _, dup := q.inflight[id]; dup {
			q.mu.Unlock()
			return
		}
		q.inflight[id] = job
	}
	q.pending = append(q.pending, job)
	q.mu.Unlock()

	q.wake()
	q.publish(job)
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// Start launches the consumers. They exit when ctx is done; Wait blocks
// until then.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.concurrency; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			q.consume(ctx)
		}()
	}
}

// Wait blocks until all consumers have exited.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Updates returns the status stream. Slow receivers drop updates rather
// than stall the consumers.
func (q *Queue) Updates() <-chan Update {
	return q.updates
}

// PendingLen returns the number of queued jobs, for introspection.
func (q *Queue) PendingLen() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) consume(ctx context.Context) {
	for {
		job := q.dequeue(ctx)
		if job == nil {
			return
		}
		q.process(ctx, job)
	}
}

func (q *Queue) dequeue(ctx context.Context) *Job {
	for {
		q.mu.Lock()
		if len(q.pending) > 0 {
			job := q.pending[0]
			q.pending = q.pending[1:]
			job.Status = StatusProcessing
			q.mu.Unlock()
			q.publish(job)
			return job
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil
		case <-q.notify:
		}
	}
}

func (q *Queue) process(ctx context.Context, job *Job) {
	q.mu.Lock()
	backend, ok := q.backends[job.Bucket]
	q.mu.Unlock()

	if !ok {
		// No backend for this bucket: nothing retry could fix.
		slog.Error("deletion job for unknown bucket dropped",
			"job", job.ID, "bucket", job.Bucket, "target", job.target())
		q.finish(job, StatusCompleted)
		return
	}

	job.Attempts++
	err := q.execute(ctx, backend, job)
	if err == nil {
		q.finish(job, StatusCompleted)
		return
	}

	job.LastError = err.Error()
	if job.Attempts >= q.maxAttempts {
		slog.Error("deletion job failed permanently",
			"job", job.ID, "bucket", job.Bucket, "target", job.target(),
			"attempts", job.Attempts, "error", err)
		q.recordFailure(job)
		q.finish(job, StatusFailed)
		return
	}

	delay := q.backoff << (job.Attempts - 1)
	slog.Warn("deletion job failed, retrying",
		"job", job.ID, "bucket", job.Bucket, "target", job.target(),
		"attempt", job.Attempts, "backoff", delay, "error", err)

	job.Status = StatusRetrying
	q.publish(job)
	time.AfterFunc(delay, func() {
		q.mu.Lock()
		job.Status = StatusPending
		q.pending = append(q.pending, job)
		q.mu.Unlock()
		q.wake()
	})
}

// execute performs the storage deletion and cascades to "-parsed" sibling
// prefixes. Cascading goes exactly one level: prefix jobs never cascade,
// and keys already inside a parsed prefix do not spawn more jobs.
func (q *Queue) execute(ctx context.Context, backend storage.Backend, job *Job) error {
	switch {
	case job.Key != "":
		if err := backend.RemoveObject(ctx, job.Bucket, job.Key); err != nil {
			return err
		}
		if !storage.IsParsedKey(job.Key) {
			q.EnqueuePrefix(job.Bucket, storage.ParsedPrefix(job.Key))
		}
		return nil

	case len(job.Keys) > 0:
		if err := backend.RemoveObjects(ctx, job.Bucket, job.Keys); err != nil {
			return err
		}
		for _, key := range job.Keys {
			if !storage.IsParsedKey(key) {
				q.EnqueuePrefix(job.Bucket, storage.ParsedPrefix(key))
			}
		}
		return nil

	default:
		return backend.RemoveByPrefix(ctx, job.Bucket, job.Prefix)
	}
}

func (q *Queue) finish(job *Job, status Status) {
	q.mu.Lock()
	if id := job.dedupID(); id != "" {
		delete(q.inflight, id)
	}
	q.mu.Unlock()

	job.Status = status
	q.publish(job)
}

func (q *Queue) recordFailure(job *Job) {
	if q.failures == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := q.failures.RecordFailedDeletion(ctx, store.FailedDeletion{
		JobID:     job.ID,
		Bucket:    job.Bucket,
		ObjectKey: job.Key,
		Keys:      job.Keys,
		Prefix:    job.Prefix,
		Attempts:  job.Attempts,
		LastError: job.LastError,
	})
	if err != nil {
		slog.Error("recording failed deletion", "job", job.ID, "error", err)
	}
}

func (q *Queue) publish(job *Job) {
	u := Update{
		JobID:     job.ID,
		Bucket:    job.Bucket,
		Target:    job.target(),
		Status:    job.Status,
		Attempts:  job.Attempts,
		Error:     job.LastError,
		Timestamp: time.Now(),
	}
	select {
	case q.updates <- u:
	default:
	}
}

func (j *Job) target() string {
	switch {
	case j.Key != "":
		return j.Key
	case j.Prefix != "":
		return j.Prefix + "*"
	default:
		return "batch"
	}
}
