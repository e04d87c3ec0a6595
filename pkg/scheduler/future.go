package scheduler

import (
	"context"
	"sync"
)

// Future is the caller's handle on an enqueued task. It is settled exactly once,
// with a value on success or with the last error once retries are exhausted.
type Future[T any] struct {
	mu      sync.Mutex
	done    chan struct{}
	settled bool
	value   T
	err     error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Done is closed when the future settles
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Settled reports whether the future has a result
func (f *Future[T]) Settled() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future settles or ctx is done. Abandoning the wait
// does not cancel the task; it still runs to settlement.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Result returns the settled outcome without blocking; ok is false while pending
func (f *Future[T]) Result() (value T, ok bool, err error) {
	if !f.Settled() {
		var zero T
		return zero, false, nil
	}
	return f.value, true, f.err
}

func (f *Future[T]) resolve(value T) error {
	return f.settle(value, nil)
}

func (f *Future[T]) reject(err error) error {
	var zero T
	return f.settle(zero, err)
}

func (f *Future[T]) settle(value T, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.settled {
		return ErrAlreadySettled
	}
	f.settled = true
	f.value = value
	f.err = err
	close(f.done)
	return nil
}

// Rejected returns a future already settled with err
func Rejected[T any](err error) *Future[T] {
	f := newFuture[T]()
	_ = f.reject(err)
	return f
}

// Resolved returns a future already settled with value
func Resolved[T any](value T) *Future[T] {
	f := newFuture[T]()
	_ = f.resolve(value)
	return f
}
