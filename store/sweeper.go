package store

import (
	"context"
	"log/slog"
	"time"
)

// Enqueuer is the slice of the deletion queue the sweeper needs.
type Enqueuer interface {
	EnqueueKey(bucket, key string)
}

const sweepBatch = 200

// Sweeper periodically expires TTL entries: each entry past its expiry gets
// a deletion job enqueued and its TTL row removed. Enqueueing is
// fire-and-forget; the queue's retry policy owns delivery, and a lost job
// only delays cleanup until an operator re-sweeps.
type Sweeper struct {
	store    *Store
	queue    Enqueuer
	interval time.Duration
}

func NewSweeper(s *Store, q Enqueuer, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{store: s, queue: q, interval: interval}
}

// Run blocks, sweeping on the configured interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				slog.Error("ttl sweep failed", "error", err)
			} else if n > 0 {
				slog.Info("ttl sweep expired objects", "count", n)
			}
		}
	}
}

// SweepOnce expires one batch and returns how many entries were processed.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	entries, err := s.store.ExpiredTTL(ctx, time.Now(), sweepBatch)
	if err != nil {
		return 0, err
	}

	for _, e := range entries {
		s.queue.EnqueueKey(e.Bucket, e.ObjectKey)
		if err := s.store.ClearTTL(ctx, e.Bucket, e.ObjectKey); err != nil {
			return 0, err
		}
	}
	return len(entries), nil
}
