package async

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler feeds a queue with ticks on a fixed interval, one per worker so
// the pool stays busy while pages are waiting.
type Scheduler struct {
	queue    *TickQueue
	interval time.Duration
	fanout   int
	logger   *slog.Logger
}

func NewScheduler(q *TickQueue, interval time.Duration, fanout int, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if fanout <= 0 {
		fanout = 1
	}
	return &Scheduler{queue: q, interval: interval, fanout: fanout, logger: logger}
}

// Run enqueues until ctx is done. The first round fires immediately.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler.started", "interval", s.interval.String(), "fanout", s.fanout)
	t := time.NewTicker(s.interval)
	defer t.Stop()

	for {
		s.fire()
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler.stopped")
			return nil
		case <-t.C:
		}
	}
}

func (s *Scheduler) fire() {
	queued := 0
	for i := 0; i < s.fanout; i++ {
		if s.queue.TryEnqueue(Job{Reason: "scheduler"}) {
			queued++
		}
	}
	if queued < s.fanout {
		s.logger.Debug("scheduler.skipped", "queued", queued, "pending", s.queue.Pending())
	}
}
