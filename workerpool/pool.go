// Package workerpool provides a bounded pool of isolated execution units for
// CPU-heavy, crash-prone work. Each worker is a goroutine with its own
// message channel and services one task at a time; panics inside the
// executor are contained to the worker and surfaced as a CrashError. The
// pool itself is task-shape-agnostic: callers choose the payload and result
// types and supply the Executor.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrTimeout is returned when a task exceeds the pool's fixed execution
	// budget. The worker is left in place; its eventual reply is discarded.
	ErrTimeout = errors.New("workerpool: task timed out")

	// ErrClosed is returned when submitting to a closed pool.
	ErrClosed = errors.New("workerpool: pool is closed")

	// ErrWorkerGone is returned to queued tasks pinned to a worker that
	// crashed before servicing them.
	ErrWorkerGone = errors.New("workerpool: pinned worker no longer exists")
)

// CrashError reports that a worker terminated unexpectedly while running a
// task. The pool removes the worker; a later submit lazily creates a
// replacement.
type CrashError struct {
	WorkerID string
	Value    any
	Stack    []byte
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("workerpool: worker %s crashed: %v", e.WorkerID, e.Value)
}

// Executor runs one task inside a worker.
type Executor[T, R any] func(ctx context.Context, task T) (R, error)

type outcome[R any] struct {
	result R
	err    error
}

type pending[T, R any] struct {
	task     T
	workerID string // sticky routing, empty for any worker
	done     chan outcome[R]
}

type dispatchMsg[T any] struct {
	epoch uint64
	task  T
}

type worker[T, R any] struct {
	id        string
	tasks     chan dispatchMsg[T]
	running   bool
	epoch     uint64 // epoch of the most recent dispatch
	current   *pending[T, R]
	timer     *time.Timer
	startedAt time.Time
}

// Pool schedules tasks across at most maxWorkers isolated workers, queueing
// excess work FIFO. Worker creation is lazy.
type Pool[T, R any] struct {
	name     string
	executor Executor[T, R]
	max      int
	timeout  time.Duration

	baseCtx context.Context
	cancel  context.CancelFunc

	mu      sync.Mutex
	workers map[string]*worker[T, R]
	waiting []*pending[T, R]
	closed  bool
}

// New creates a pool. maxWorkers bounds concurrent tasks; timeout is the
// fixed per-task budget.
func New[T, R any](name string, maxWorkers int, timeout time.Duration, executor Executor[T, R]) *Pool[T, R] {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool[T, R]{
		name:     name,
		executor: executor,
		max:      maxWorkers,
		timeout:  timeout,
		baseCtx:  ctx,
		cancel:   cancel,
		workers:  make(map[string]*worker[T, R]),
	}
}

// SubmitOption configures a single submission.
type SubmitOption func(*submitOptions)

type submitOptions struct {
	workerID string
}

// WithWorker pins the task to a specific worker id, used to route related
// sub-calls to the worker holding their state. If the worker no longer
// exists, the task routes like any other.
func WithWorker(id string) SubmitOption {
	return func(o *submitOptions) { o.workerID = id }
}

// Submit schedules the task and blocks until it completes, times out, or ctx
// is done. Each worker services at most one task concurrently; waiting tasks
// run in submission order as capacity frees up.
func (p *Pool[T, R]) Submit(ctx context.Context, task T, opts ...SubmitOption) (R, error) {
	var zero R
	var o submitOptions
	for _, f := range opts {
		f(&o)
	}

	pend := &pending[T, R]{
		task:     task,
		workerID: o.workerID,
		done:     make(chan outcome[R], 1),
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrClosed
	}
	if o.workerID != "" {
		if _, ok := p.workers[o.workerID]; !ok {
			pend.workerID = ""
		}
	}
	if w := p.routeLocked(pend); w != nil {
		p.dispatchLocked(w, pend)
	} else {
		p.waiting = append(p.waiting, pend)
	}
	p.mu.Unlock()

	select {
	case out := <-pend.done:
		return out.result, out.err
	case <-ctx.Done():
		p.removeWaiting(pend)
		return zero, ctx.Err()
	}
}

// routeLocked picks a worker for pend: its pinned worker if idle, otherwise
// any idle worker, otherwise a fresh worker if below capacity. Returns nil
// when the task must wait.
func (p *Pool[T, R]) routeLocked(pend *pending[T, R]) *worker[T, R] {
	if pend.workerID != "" {
		w := p.workers[pend.workerID]
		if w != nil && !w.running {
			return w
		}
		return nil // pinned worker busy; wait for it
	}

	for _, w := range p.workers {
		if !w.running {
			return w
		}
	}

	if len(p.workers) < p.max {
		return p.spawnLocked()
	}
	return nil
}

func (p *Pool[T, R]) spawnLocked() *worker[T, R] {
	w := &worker[T, R]{
		id:    uuid.NewString(),
		tasks: make(chan dispatchMsg[T], 1),
	}
	p.workers[w.id] = w
	go p.runWorker(w)
	return w
}

// dispatchLocked hands pend to w and arms the timeout timer. The task
// channel is buffered for exactly one in-flight dispatch, so the send never
// blocks while the one-task-per-worker invariant holds.
func (p *Pool[T, R]) dispatchLocked(w *worker[T, R], pend *pending[T, R]) {
	w.running = true
	w.epoch++
	w.current = pend
	w.startedAt = time.Now()

	epoch := w.epoch
	w.timer = time.AfterFunc(p.timeout, func() {
		p.onTimeout(w.id, epoch)
	})

	w.tasks <- dispatchMsg[T]{epoch: epoch, task: pend.task}
}

func (p *Pool[T, R]) runWorker(w *worker[T, R]) {
	for msg := range w.tasks {
		res, err := p.safeExecute(w.id, msg.task)
		p.onReply(w.id, msg.epoch, res, err)
	}
}

func (p *Pool[T, R]) safeExecute(workerID string, task T) (res R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &CrashError{WorkerID: workerID, Value: r, Stack: debug.Stack()}
		}
	}()
	return p.executor(p.baseCtx, task)
}

// onReply handles a worker's completion message. Replies are correlated with
// the dispatch epoch: a reply for an abandoned (timed-out) task returns the
// worker to idle without resolving anything.
func (p *Pool[T, R]) onReply(workerID string, epoch uint64, res R, err error) {
	p.mu.Lock()

	w, ok := p.workers[workerID]
	if !ok {
		p.mu.Unlock()
		return
	}

	var crash *CrashError
	crashed := errors.As(err, &crash)

	var cur *pending[T, R]
	if epoch == w.epoch {
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		cur = w.current
		w.current = nil
	} else {
		// A newer dispatch owns this worker's state; never resolve
		// against an older epoch's reply.
		slog.Debug("workerpool: discarding reply with stale epoch",
			"pool", p.name, "worker", workerID, "epoch", epoch)
	}

	if crashed {
		delete(p.workers, workerID)
		close(w.tasks)
		slog.Warn("workerpool: worker crashed, removed from pool",
			"pool", p.name, "worker", workerID, "value", crash.Value)
	} else if epoch == w.epoch {
		w.running = false
	}

	if cur != nil {
		cur.done <- outcome[R]{result: res, err: err}
	} else if !crashed && err == nil {
		slog.Debug("workerpool: late reply for abandoned task discarded",
			"pool", p.name, "worker", workerID, "elapsed", time.Since(w.startedAt))
	}

	if crashed {
		p.failPinnedLocked(workerID, crash)
		p.drainCapacityLocked()
	} else {
		p.drainWorkerLocked(w)
	}
	p.mu.Unlock()
}

// onTimeout rejects the caller of the task dispatched at epoch. The worker
// is left in place and stays marked running until its own reply arrives;
// that reply is then discarded and the worker returned to the idle set.
func (p *Pool[T, R]) onTimeout(workerID string, epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	w, ok := p.workers[workerID]
	if !ok || w.epoch != epoch || w.current == nil {
		return
	}

	cur := w.current
	w.current = nil
	w.timer = nil

	slog.Warn("workerpool: task timed out, abandoning",
		"pool", p.name, "worker", workerID, "elapsed", time.Since(w.startedAt))
	cur.done <- outcome[R]{err: ErrTimeout}
}

// drainWorkerLocked dispatches the oldest waiting task eligible for w.
func (p *Pool[T, R]) drainWorkerLocked(w *worker[T, R]) {
	if w.running {
		return
	}
	for i, pend := range p.waiting {
		if pend.workerID != "" && pend.workerID != w.id {
			continue
		}
		p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
		p.dispatchLocked(w, pend)
		return
	}
}

// drainCapacityLocked spawns a worker for the oldest unpinned waiting task
// after a crash freed a pool slot.
func (p *Pool[T, R]) drainCapacityLocked() {
	if len(p.workers) >= p.max {
		return
	}
	for i, pend := range p.waiting {
		if pend.workerID != "" {
			continue
		}
		p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
		p.dispatchLocked(p.spawnLocked(), pend)
		return
	}
}

// failPinnedLocked rejects waiting tasks pinned to a crashed worker; the
// state they depended on is gone.
func (p *Pool[T, R]) failPinnedLocked(workerID string, crash *CrashError) {
	kept := p.waiting[:0]
	for _, pend := range p.waiting {
		if pend.workerID == workerID {
			pend.done <- outcome[R]{err: fmt.Errorf("%w: %v", ErrWorkerGone, crash)}
			continue
		}
		kept = append(kept, pend)
	}
	p.waiting = kept
}

func (p *Pool[T, R]) removeWaiting(pend *pending[T, R]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, q := range p.waiting {
		if q == pend {
			p.waiting = append(p.waiting[:i], p.waiting[i+1:]...)
			return
		}
	}
}

// WorkerCount returns the current number of workers (idle and running).
func (p *Pool[T, R]) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// RunningCount returns the number of workers currently servicing a task.
func (p *Pool[T, R]) RunningCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.workers {
		if w.running {
			n++
		}
	}
	return n
}

// QueueLen returns the number of waiting tasks.
func (p *Pool[T, R]) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.waiting)
}

// Close shuts the pool down. Waiting tasks are rejected with ErrClosed;
// running workers finish their current task and exit.
func (p *Pool[T, R]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true

	for _, pend := range p.waiting {
		pend.done <- outcome[R]{err: ErrClosed}
	}
	p.waiting = nil

	// In-flight tasks are abandoned; their workers' replies find the worker
	// removed and are dropped.
	for _, w := range p.workers {
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.current != nil {
			w.current.done <- outcome[R]{err: ErrClosed}
			w.current = nil
		}
	}

	// Closing the task channels lets idle workers exit immediately and
	// running workers exit after their current task; their final reply
	// finds the worker removed and is dropped.
	workers := p.workers
	p.workers = make(map[string]*worker[T, R])
	p.mu.Unlock()

	for _, w := range workers {
		close(w.tasks)
	}
	p.cancel()
}
