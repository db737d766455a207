package order

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrExecutorClosed is returned by Submit after Close.
var ErrExecutorClosed = errors.New("executor closed")

// AsyncExecutor runs submissions on a bounded worker pool so the decision
// loop never blocks on venue I/O.
type AsyncExecutor struct {
	submitter  Submitter
	workerPool chan struct{}
	log        zerolog.Logger

	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// ExecutionResult wraps a Result with timing.
type ExecutionResult struct {
	Result
	Latency   time.Duration
	Timestamp time.Time
}

// NewAsyncExecutor creates an async executor with the given worker count.
func NewAsyncExecutor(s Submitter, workers int, log zerolog.Logger) *AsyncExecutor {
	if workers <= 0 {
		workers = 4
	}
	return &AsyncExecutor{
		submitter:  s,
		workerPool: make(chan struct{}, workers),
		log:        log.With().Str("component", "async_executor").Logger(),
	}
}

// Submit schedules in for execution and calls done with the outcome from the
// worker goroutine. It blocks only while every worker slot is taken.
func (a *AsyncExecutor) Submit(ctx context.Context, in Intent, done func(ExecutionResult)) error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return ErrExecutorClosed
	}
	a.wg.Add(1)
	a.mu.Unlock()

	select {
	case a.workerPool <- struct{}{}:
	case <-ctx.Done():
		a.wg.Done()
		return ctx.Err()
	}

	go func() {
		defer a.wg.Done()
		defer func() { <-a.workerPool }()

		start := time.Now()
		res := a.submitter.Execute(ctx, in)
		out := ExecutionResult{Result: res, Latency: time.Since(start), Timestamp: time.Now()}
		if res.Err != nil {
			a.log.Debug().Err(res.Err).Str("intent_id", in.ID).Dur("latency", out.Latency).Msg("execution finished with error")
		} else {
			a.log.Debug().Str("intent_id", in.ID).Dur("latency", out.Latency).Msg("execution finished")
		}
		if done != nil {
			done(out)
		}
	}()
	return nil
}

// Pending returns the number of busy workers.
func (a *AsyncExecutor) Pending() int {
	return len(a.workerPool)
}

// WaitAll waits for in-flight executions until ctx ends. It reports whether
// everything finished.
func (a *AsyncExecutor) WaitAll(ctx context.Context) bool {
	finished := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return true
	case <-ctx.Done():
		return false
	}
}

// Close stops accepting submissions. In-flight work continues; use WaitAll
// to wait for it.
func (a *AsyncExecutor) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
}
