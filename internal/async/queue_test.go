package async_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/async"
	"github.com/joseph-ayodele/requirements-intake/internal/pipeline"
	"github.com/joseph-ayodele/requirements-intake/internal/testsupport"
)

type countingTicker struct {
	calls   atomic.Int32
	backlog atomic.Int32 // ticks that report processed work
	block   chan struct{}
}

func (c *countingTicker) Tick(ctx context.Context) (pipeline.TickResult, error) {
	c.calls.Add(1)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
			return pipeline.TickResult{}, ctx.Err()
		}
	}
	if c.backlog.Add(-1) >= 0 {
		return pipeline.TickResult{Status: constants.TickProcessed, ProcessedBatches: 1}, nil
	}
	return pipeline.TickResult{Status: constants.TickIdle}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestTickQueueRunsJobs(t *testing.T) {
	tk := &countingTicker{}
	q := async.NewTickQueue(tk, testsupport.Logger(), async.WithWorkers(3), async.WithQueueSize(8))

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(context.Background(), async.Job{Reason: "trigger"}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Shutdown(context.Background())
	if got := tk.calls.Load(); got != 5 {
		t.Fatalf("expected 5 ticks, got %d", got)
	}
	if err := q.Enqueue(context.Background(), async.Job{}); !errors.Is(err, async.ErrQueueClosed) {
		t.Fatalf("expected closed queue error, got %v", err)
	}
	if q.TryEnqueue(async.Job{}) {
		t.Fatal("TryEnqueue should refuse after shutdown")
	}
}

func TestTickQueueContinuationDrainsBacklog(t *testing.T) {
	tk := &countingTicker{}
	tk.backlog.Store(3)
	q := async.NewTickQueue(tk, testsupport.Logger(), async.WithWorkers(1), async.WithContinuation(true))
	defer q.Shutdown(context.Background())

	if err := q.Enqueue(context.Background(), async.Job{Reason: "trigger"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	// three productive ticks, then one idle tick that stops the chain
	waitFor(t, func() bool { return tk.calls.Load() == 4 })
	time.Sleep(20 * time.Millisecond)
	if got := tk.calls.Load(); got != 4 {
		t.Fatalf("expected continuation to stop after idle tick, got %d calls", got)
	}
}

func TestTickQueueBackpressure(t *testing.T) {
	tk := &countingTicker{block: make(chan struct{})}
	q := async.NewTickQueue(tk, testsupport.Logger(), async.WithWorkers(1), async.WithQueueSize(1))

	_ = q.Enqueue(context.Background(), async.Job{})
	waitFor(t, func() bool { return tk.calls.Load() == 1 })
	_ = q.Enqueue(context.Background(), async.Job{}) // fills the buffer

	if q.TryEnqueue(async.Job{}) {
		t.Fatal("TryEnqueue should drop when the buffer is full")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, async.Job{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline while full, got %v", err)
	}

	close(tk.block)
	q.Shutdown(context.Background())
	if got := tk.calls.Load(); got != 2 {
		t.Fatalf("expected 2 ticks, got %d", got)
	}
}

func TestBlockedEnqueueDoesNotStallContinuation(t *testing.T) {
	tk := &countingTicker{block: make(chan struct{})}
	tk.backlog.Store(2)
	q := async.NewTickQueue(tk, testsupport.Logger(),
		async.WithWorkers(1), async.WithQueueSize(1), async.WithContinuation(true))

	if !q.TryEnqueue(async.Job{Reason: "trigger"}) {
		t.Fatal("first job refused")
	}
	waitFor(t, func() bool { return tk.calls.Load() == 1 })
	if !q.TryEnqueue(async.Job{Reason: "trigger"}) {
		t.Fatal("second job refused")
	}

	enqueued := make(chan error, 1)
	go func() { enqueued <- q.Enqueue(context.Background(), async.Job{Reason: "trigger"}) }()
	time.Sleep(20 * time.Millisecond)
	// the finishing worker queues a continuation while Enqueue is blocked
	close(tk.block)

	select {
	case err := <-enqueued:
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Enqueue still blocked after the worker finished; calls=%d pending=%d", tk.calls.Load(), q.Pending())
	}

	stopped := make(chan struct{})
	go func() { q.Shutdown(context.Background()); close(stopped) }()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Shutdown did not return")
	}
}

func TestShutdownReleasesBlockedEnqueue(t *testing.T) {
	tk := &countingTicker{block: make(chan struct{})}
	q := async.NewTickQueue(tk, testsupport.Logger(), async.WithWorkers(1), async.WithQueueSize(1))

	q.TryEnqueue(async.Job{})
	waitFor(t, func() bool { return tk.calls.Load() == 1 })
	q.TryEnqueue(async.Job{})

	enqueued := make(chan error, 1)
	go func() { enqueued <- q.Enqueue(context.Background(), async.Job{}) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q.Shutdown(ctx) // the worker is still blocked, so this returns on ctx
	select {
	case err := <-enqueued:
		if !errors.Is(err, async.ErrQueueClosed) {
			t.Fatalf("expected closed queue error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Enqueue not released by Shutdown")
	}
	close(tk.block)
}

func TestSchedulerFansOut(t *testing.T) {
	tk := &countingTicker{}
	q := async.NewTickQueue(tk, testsupport.Logger(), async.WithWorkers(2))
	s := async.NewScheduler(q, 10*time.Millisecond, 2, testsupport.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.Run(ctx)
	}()
	waitFor(t, func() bool { return tk.calls.Load() >= 4 })
	cancel()
	wg.Wait()
	q.Shutdown(context.Background())
}
