package hoard

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// backgroundTimeout bounds one background task. Copy-forward of a large
// object can legitimately take a while.
const backgroundTimeout = 15 * time.Minute

// runner executes fire-and-forget maintenance tasks (copy-forward, delayed
// staging cleanup) without blocking the triggering call.
//
// In-flight tasks are bounded by a semaphore so a read burst during
// migration cannot fan out an unbounded number of copies; when saturated,
// new triggers are dropped (the next read re-triggers). Tasks with the same
// key are deduplicated. Failures are logged and dropped.
type runner struct {
	sem   *semaphore.Weighted
	group singleflight.Group
	log   *zap.Logger
	wg    sync.WaitGroup
}

func newRunner(limit int64, log *zap.Logger) *runner {
	return &runner{
		sem: semaphore.NewWeighted(limit),
		log: log,
	}
}

// launch schedules fn on a fresh goroutine after an optional delay. The
// task runs under its own context; the triggering call never waits for it.
func (r *runner) launch(op, key string, delay time.Duration, fn func(ctx context.Context) error) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if delay > 0 {
			time.Sleep(delay)
		}
		// The bound applies to running tasks; a delayed task does not
		// hold a slot while it sleeps.
		if !r.sem.TryAcquire(1) {
			r.log.Warn("background task dropped, runner saturated",
				zap.String("op", op), zap.String("key", key))
			return
		}
		defer r.sem.Release(1)
		_, err, _ := r.group.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
			defer cancel()
			return nil, fn(ctx)
		})
		if err != nil {
			r.log.Warn("background task failed",
				zap.String("op", op), zap.String("key", key), zap.Error(err))
			return
		}
		r.log.Debug("background task done",
			zap.String("op", op), zap.String("key", key))
	}()
}

// wait blocks until all launched tasks have finished. Test hook.
func (r *runner) wait() {
	r.wg.Wait()
}
