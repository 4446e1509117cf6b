package concurrency

import (
	"context"
	"time"
)

// ThrottledWorker runs queued jobs one at a time, no faster than one per
// interval. Enqueueing never blocks, a full queue drops the job.
type ThrottledWorker[T any] struct {
	jobCallback func(ctx context.Context, arg T) error
	jobs        chan T
	interval    time.Duration
	// called with every error a job returns
	OnError func(err error)
}

func NewThrottledWorker[T any](queueSize int, interval time.Duration, jobCallback func(ctx context.Context, arg T) error) *ThrottledWorker[T] {
	return &ThrottledWorker[T]{
		jobCallback: jobCallback,
		jobs:        make(chan T, queueSize),
		interval:    interval,
	}
}

// TryEnqueue reports false when the job was dropped
func (w *ThrottledWorker[T]) TryEnqueue(arg T) bool {
	select {
	case w.jobs <- arg:
		return true
	default:
		return false
	}
}

// Pending is the number of queued jobs
func (w *ThrottledWorker[T]) Pending() int {
	return len(w.jobs)
}

// Run processes jobs until ctx is done, queued jobs are then discarded
func (w *ThrottledWorker[T]) Run(ctx context.Context) {
	limiter := time.NewTicker(w.interval)
	defer limiter.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case arg := <-w.jobs:
			if err := w.jobCallback(ctx, arg); err != nil && w.OnError != nil {
				w.OnError(err)
			}
			select {
			case <-ctx.Done():
				return
			case <-limiter.C:
			}
		}
	}
}
