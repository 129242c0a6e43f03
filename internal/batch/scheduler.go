package batch

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Scheduler runs independent units of asynchronous work. Each scheduled
// unit is exactly one session's conversation; no unit is responsible for
// the whole batch's duration.
type Scheduler interface {
	Schedule(ctx context.Context, fn func(ctx context.Context))
	Wait()
}

// workerScheduler admits units through a weighted semaphore so at most
// maxWorkers sessions run concurrently.
type workerScheduler struct {
	sem *semaphore.Weighted
	wg  sync.WaitGroup
}

// NewScheduler builds a Scheduler with the given concurrency bound.
func NewScheduler(maxWorkers int) Scheduler {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &workerScheduler{sem: semaphore.NewWeighted(int64(maxWorkers))}
}

func (s *workerScheduler) Schedule(ctx context.Context, fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.sem.Acquire(ctx, 1); err != nil {
			// Context cancelled while queued; the unit still runs so it can
			// observe cancellation and record its own outcome.
			fn(ctx)
			return
		}
		defer s.sem.Release(1)
		fn(ctx)
	}()
}

func (s *workerScheduler) Wait() {
	s.wg.Wait()
}
