package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func echoExecutor(ctx context.Context, task string) (string, error) {
	return "echo:" + task, nil
}

func TestSubmitBasic(t *testing.T) {
	p := New("test", 2, time.Second, echoExecutor)
	defer p.Close()

	got, err := p.Submit(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != "echo:hello" {
		t.Errorf("result = %q", got)
	}
}

func TestLazyWorkerCreation(t *testing.T) {
	p := New("test", 4, time.Second, echoExecutor)
	defer p.Close()

	if n := p.WorkerCount(); n != 0 {
		t.Errorf("expected 0 workers before first submit, got %d", n)
	}
	if _, err := p.Submit(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if n := p.WorkerCount(); n != 1 {
		t.Errorf("expected 1 worker after one submit, got %d", n)
	}
}

func TestConcurrencyBoundedByMax(t *testing.T) {
	const max = 3
	var running, peak int64

	release := make(chan struct{})
	p := New("test", max, 5*time.Second, func(ctx context.Context, task int) (int, error) {
		n := atomic.AddInt64(&running, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		<-release
		atomic.AddInt64(&running, -1)
		return task, nil
	})
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < max*3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Submit(context.Background(), i)
		}(i)
	}

	// Let all submissions route; max run, the rest queue.
	deadline := time.After(2 * time.Second)
	for p.RunningCount() < max || p.QueueLen() < max*2 {
		select {
		case <-deadline:
			t.Fatalf("pool never saturated: running=%d queued=%d", p.RunningCount(), p.QueueLen())
		case <-time.After(5 * time.Millisecond):
		}
	}

	if n := p.WorkerCount(); n != max {
		t.Errorf("worker count = %d, want %d", n, max)
	}
	if q := p.QueueLen(); q != max*2 {
		t.Errorf("queue length = %d, want %d", q, max*2)
	}

	close(release)
	wg.Wait()

	if got := atomic.LoadInt64(&peak); got > max {
		t.Errorf("peak concurrency %d exceeded max %d", got, max)
	}
}

func TestWaitingTasksRunFIFO(t *testing.T) {
	var order []int
	var mu sync.Mutex

	gate := make(chan struct{})
	p := New("test", 1, 5*time.Second, func(ctx context.Context, task int) (int, error) {
		<-gate
		mu.Lock()
		order = append(order, task)
		mu.Unlock()
		return task, nil
	})
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p.Submit(context.Background(), i)
		}(i)
		// Serialize submission order so FIFO drain order is observable.
		deadline := time.Now().Add(time.Second)
		for p.RunningCount()+p.QueueLen() < i+1 && time.Now().Before(deadline) {
			time.Sleep(2 * time.Millisecond)
		}
	}

	for i := 0; i < 4; i++ {
		gate <- struct{}{}
	}
	wg.Wait()

	for i := 1; i < len(order); i++ {
		if order[i] < order[i-1] {
			t.Errorf("tasks ran out of order: %v", order)
			break
		}
	}
}

func TestCrashIsolation(t *testing.T) {
	p := New("test", 2, time.Second, func(ctx context.Context, task string) (string, error) {
		if task == "boom" {
			panic("executor exploded")
		}
		return "ok:" + task, nil
	})
	defer p.Close()

	_, err := p.Submit(context.Background(), "boom")
	var crash *CrashError
	if !errors.As(err, &crash) {
		t.Fatalf("expected CrashError, got %v", err)
	}
	if crash.Value != "executor exploded" {
		t.Errorf("crash value = %v", crash.Value)
	}
	if len(crash.Stack) == 0 {
		t.Error("crash should carry a stack trace")
	}

	// The crashed worker is gone; the pool keeps serving.
	if n := p.WorkerCount(); n != 0 {
		t.Errorf("crashed worker not removed, count = %d", n)
	}
	got, err := p.Submit(context.Background(), "next")
	if err != nil {
		t.Fatalf("Submit after crash: %v", err)
	}
	if got != "ok:next" {
		t.Errorf("result = %q", got)
	}
}

func TestTimeoutKeepsWorker(t *testing.T) {
	block := make(chan struct{})
	p := New("test", 1, 50*time.Millisecond, func(ctx context.Context, task string) (string, error) {
		if task == "slow" {
			<-block
		}
		return "done:" + task, nil
	})
	defer p.Close()

	_, err := p.Submit(context.Background(), "slow")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}

	// The worker is still occupied by the abandoned task.
	if n := p.WorkerCount(); n != 1 {
		t.Errorf("worker count after timeout = %d, want 1", n)
	}
	if n := p.RunningCount(); n != 1 {
		t.Errorf("running count after timeout = %d, want 1", n)
	}

	// Once the abandoned task finishes, its reply is discarded and the
	// worker serves new tasks again.
	close(block)
	got, err := p.Submit(context.Background(), "fast")
	if err != nil {
		t.Fatalf("Submit after timeout recovery: %v", err)
	}
	if got != "done:fast" {
		t.Errorf("result = %q", got)
	}
}

func TestSubmitContextCancelWhileQueued(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := New("test", 1, 5*time.Second, func(ctx context.Context, task string) (string, error) {
		<-block
		return task, nil
	})
	defer p.Close()

	go p.Submit(context.Background(), "occupier")
	deadline := time.Now().Add(time.Second)
	for p.RunningCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := p.Submit(ctx, "queued")
		errc <- err
	}()
	deadline = time.Now().Add(time.Second)
	for p.QueueLen() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errc:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("cancelled submission never returned")
	}
	if q := p.QueueLen(); q != 0 {
		t.Errorf("cancelled task left in queue, len = %d", q)
	}
}

func TestCloseRejectsSubmissions(t *testing.T) {
	p := New("test", 2, time.Second, echoExecutor)
	p.Close()

	if _, err := p.Submit(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	// Close is idempotent.
	p.Close()
}

func TestCloseRejectsWaiting(t *testing.T) {
	block := make(chan struct{})
	defer close(block)

	p := New("test", 1, 5*time.Second, func(ctx context.Context, task string) (string, error) {
		<-block
		return task, nil
	})

	go p.Submit(context.Background(), "occupier")
	deadline := time.Now().Add(time.Second)
	for p.RunningCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	errc := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "queued")
		errc <- err
	}()
	deadline = time.Now().Add(time.Second)
	for p.QueueLen() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	p.Close()
	select {
	case err := <-errc:
		if !errors.Is(err, ErrClosed) {
			t.Errorf("expected ErrClosed for waiting task, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("waiting task never rejected on close")
	}
}

// soleWorkerID returns the id of the pool's only worker.
func soleWorkerID[T, R any](t *testing.T, p *Pool[T, R]) string {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.workers) != 1 {
		t.Fatalf("expected exactly 1 worker, got %d", len(p.workers))
	}
	for id := range p.workers {
		return id
	}
	return ""
}

func TestStickyRoutingWaitsForPinnedWorker(t *testing.T) {
	gate := make(chan struct{})
	p := New("test", 2, 5*time.Second, func(ctx context.Context, task string) (string, error) {
		if task == "slow" {
			<-gate
		}
		return "done:" + task, nil
	})
	defer p.Close()

	go p.Submit(context.Background(), "slow")
	deadline := time.Now().Add(time.Second)
	for p.RunningCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	id := soleWorkerID(t, p)

	type result struct {
		got string
		err error
	}
	resc := make(chan result, 1)
	go func() {
		got, err := p.Submit(context.Background(), "pinned", WithWorker(id))
		resc <- result{got, err}
	}()
	deadline = time.Now().Add(time.Second)
	for p.QueueLen() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	// Capacity for a second worker exists, but the pinned task must wait
	// for its worker instead of taking it.
	if q := p.QueueLen(); q != 1 {
		t.Fatalf("pinned task not queued, queue = %d", q)
	}
	if n := p.WorkerCount(); n != 1 {
		t.Errorf("pinned task spawned a fresh worker, count = %d", n)
	}

	close(gate)
	select {
	case res := <-resc:
		if res.err != nil {
			t.Fatalf("pinned Submit: %v", res.err)
		}
		if res.got != "done:pinned" {
			t.Errorf("result = %q", res.got)
		}
	case <-time.After(time.Second):
		t.Fatal("pinned task never ran after its worker freed up")
	}
	if n := p.WorkerCount(); n != 1 {
		t.Errorf("worker count after pinned run = %d, want 1", n)
	}
}

func TestStickyRoutingUnknownWorkerRoutesNormally(t *testing.T) {
	p := New("test", 2, time.Second, echoExecutor)
	defer p.Close()

	got, err := p.Submit(context.Background(), "hello", WithWorker("no-such-worker"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got != "echo:hello" {
		t.Errorf("result = %q", got)
	}
	if n := p.WorkerCount(); n != 1 {
		t.Errorf("worker count = %d, want 1", n)
	}
}

func TestStickyRoutingRejectedWhenPinnedWorkerCrashes(t *testing.T) {
	gate := make(chan struct{})
	p := New("test", 1, 5*time.Second, func(ctx context.Context, task string) (string, error) {
		if task == "boom" {
			<-gate
			panic("worker state lost")
		}
		return task, nil
	})
	defer p.Close()

	crashc := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "boom")
		crashc <- err
	}()
	deadline := time.Now().Add(time.Second)
	for p.RunningCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	id := soleWorkerID(t, p)

	pinnedc := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), "pinned", WithWorker(id))
		pinnedc <- err
	}()
	deadline = time.Now().Add(time.Second)
	for p.QueueLen() < 1 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}

	close(gate)
	select {
	case err := <-pinnedc:
		if !errors.Is(err, ErrWorkerGone) {
			t.Errorf("expected ErrWorkerGone for task pinned to crashed worker, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("pinned task never rejected after its worker crashed")
	}

	var crash *CrashError
	if err := <-crashc; !errors.As(err, &crash) {
		t.Errorf("expected CrashError for the crashing task, got %v", err)
	}
	if q := p.QueueLen(); q != 0 {
		t.Errorf("rejected pinned task left in queue, len = %d", q)
	}
}

func TestGenericTaskShapes(t *testing.T) {
	// The pool carries arbitrary payload/result types, not just parse work.
	type wordCount struct {
		words int
	}
	p := New("count", 2, time.Second, func(ctx context.Context, s string) (wordCount, error) {
		n := 0
		inWord := false
		for _, r := range s {
			if r == ' ' || r == '\n' {
				inWord = false
				continue
			}
			if !inWord {
				n++
				inWord = true
			}
		}
		return wordCount{words: n}, nil
	})
	defer p.Close()

	got, err := p.Submit(context.Background(), "three word task")
	if err != nil {
		t.Fatal(err)
	}
	if got.words != 3 {
		t.Errorf("words = %d, want 3", got.words)
	}
}

func TestExecutorErrorPassthrough(t *testing.T) {
	wantErr := fmt.Errorf("parse exploded politely")
	p := New("test", 1, time.Second, func(ctx context.Context, task string) (string, error) {
		return "", wantErr
	})
	defer p.Close()

	_, err := p.Submit(context.Background(), "x")
	if !errors.Is(err, wantErr) {
		t.Errorf("expected executor error, got %v", err)
	}
	// A plain error is not a crash; the worker survives.
	if n := p.WorkerCount(); n != 1 {
		t.Errorf("worker count = %d, want 1", n)
	}
}
