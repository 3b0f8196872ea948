package async

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/joseph-ayodele/requirements-intake/constants"
	"github.com/joseph-ayodele/requirements-intake/internal/pipeline"
)

var ErrQueueClosed = errors.New("tick queue is shutting down")

// Job asks a worker to run one tick.
type Job struct {
	Reason      string // scheduler, trigger, continuation
	SubmittedAt time.Time
	RequestID   string
}

// Ticker runs one processing tick. *pipeline.Processor satisfies it.
type Ticker interface {
	Tick(ctx context.Context) (pipeline.TickResult, error)
}

// TickQueue runs ticks on a fixed pool of workers. Workers tick concurrently;
// the page claim keeps them off each other's pages.
type TickQueue struct {
	ticker     Ticker
	logger     *slog.Logger
	workers    int
	timeout    time.Duration
	continuous bool

	// ch is never closed; done tells workers and blocked senders to stop.
	ch   chan Job
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	// mu guards closed and is never held across a blocking send.
	mu     sync.Mutex
	closed bool
}

type Option func(*TickQueue)

func WithWorkers(n int) Option {
	return func(q *TickQueue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) Option {
	return func(q *TickQueue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) Option {
	return func(q *TickQueue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// WithContinuation makes a worker queue a follow-up tick whenever a tick
// processed batches cleanly, so a backlog drains faster than the schedule.
func WithContinuation(on bool) Option {
	return func(q *TickQueue) { q.continuous = on }
}

func NewTickQueue(ticker Ticker, logger *slog.Logger, opts ...Option) *TickQueue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &TickQueue{
		ticker:  ticker,
		logger:  logger,
		workers: 2,
		timeout: 10 * time.Minute,
		ch:      make(chan Job, 64),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *TickQueue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				q.logger.Info("queue.worker.started", "worker_id", workerID)
				defer q.logger.Info("queue.worker.stopped", "worker_id", workerID)
				for {
					select {
					case job := <-q.ch:
						q.run(workerID, job)
					case <-q.done:
						q.drain(workerID)
						return
					}
				}
			}(i + 1)
		}
	})
}

func (q *TickQueue) run(workerID int, job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
	defer cancel()

	res, err := q.ticker.Tick(ctx)
	if err != nil {
		q.logger.Error("queue.tick.failed", "worker_id", workerID, "reason", job.Reason, "error", err)
		return
	}
	q.logger.Info("queue.tick.done",
		"worker_id", workerID,
		"reason", job.Reason,
		"status", res.Status,
		"batches", res.ProcessedBatches,
		"errors", len(res.Errors),
		"wait_ms", time.Since(job.SubmittedAt).Milliseconds(),
	)
	if q.continuous && res.Status == constants.TickProcessed && res.ProcessedBatches > 0 && len(res.Errors) == 0 {
		q.TryEnqueue(Job{Reason: "continuation", SubmittedAt: time.Now(), RequestID: job.RequestID})
	}
}

// drain runs the jobs still buffered at shutdown. Jobs that race the
// shutdown past this point are dropped; the next tick picks their work up.
func (q *TickQueue) drain(workerID int) {
	for {
		select {
		case job := <-q.ch:
			q.run(workerID, job)
		default:
			return
		}
	}
}

// Enqueue blocks while the queue is full, until ctx is done or the queue
// shuts down.
func (q *TickQueue) Enqueue(ctx context.Context, job Job) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		q.logger.Warn("queue.enqueue.closed", "reason", job.Reason)
		return ErrQueueClosed
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		q.logger.Debug("queue.enqueued", "reason", job.Reason)
		return nil
	default:
	}
	q.logger.Warn("queue.full.backpressure", "reason", job.Reason)
	select {
	case q.ch <- job:
		return nil
	case <-q.done:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryEnqueue drops the job when the queue is full or closed. Ticks are
// idempotent, so a dropped job only delays work until the next one.
func (q *TickQueue) TryEnqueue(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}
	select {
	case q.ch <- job:
		return true
	default:
		q.logger.Debug("queue.full.dropped", "reason", job.Reason)
		return false
	}
}

// Pending reports how many jobs wait for a worker.
func (q *TickQueue) Pending() int {
	return len(q.ch)
}

func (q *TickQueue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("queue.shutdown.interrupted")
	case <-done:
		q.logger.Info("queue.shutdown.drained")
	}
}
