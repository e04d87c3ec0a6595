package scheduler

import (
	"context"
	"time"

	"github.com/shaneisley/patience-gate/pkg/metrics"
)

// Operation is deferred work run by the scheduler. The context carries the
// per-attempt deadline; operations that honour it are cancelled on timeout.
type Operation[T any] func(ctx context.Context) (T, error)

// task is the scheduler's unit of work, exclusively owned by the Scheduler
type task[T any] struct {
	id         string
	op         Operation[T]
	future     *Future[T]
	scheduleAt time.Time
	createdAt  time.Time
	retryCount int
	dedupKey   string

	firstDispatchAt time.Time
	attempts        []metrics.AttemptMetric
}

// priority is the heap key: scheduleAt as epoch milliseconds
func (t *task[T]) priority() float64 {
	return float64(t.scheduleAt.UnixMicro()) / 1000
}

// attemptResult carries an operation's outcome across the timeout race
type attemptResult[T any] struct {
	value T
	err   error
}
