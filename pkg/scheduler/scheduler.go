// Package scheduler throttles and orders calls to rate-limited backends.
//
// A Scheduler admits deferred operations into a min-heap keyed by their
// schedule time, dispatches them under a token bucket, coalesces identical
// in-flight requests by dedup key and retries failures with exponential
// backoff. Every state transition happens under one mutex; operations run in
// their own goroutines outside it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/shaneisley/patience-gate/pkg/backoff"
	"github.com/shaneisley/patience-gate/pkg/logging"
	"github.com/shaneisley/patience-gate/pkg/metrics"
	"github.com/shaneisley/patience-gate/pkg/pqueue"
)

// Option customises a Scheduler at construction
type Option func(*options)

type options struct {
	logger  *logging.Logger
	metrics *metrics.Collector
	clock   Clock
	random  backoff.RandomSource
}

// WithLogger sets the scheduler's logger
func WithLogger(logger *logging.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics attaches a metrics collector
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *options) { o.metrics = collector }
}

// WithClock replaces the wall clock used for scheduling decisions and wake timers
func WithClock(clock Clock) Option {
	return func(o *options) { o.clock = clock }
}

// WithRandom sets the jitter source for retry backoff
func WithRandom(source backoff.RandomSource) Option {
	return func(o *options) { o.random = source }
}

// Stats is a point-in-time view of scheduler state
type Stats struct {
	Pending    int     `json:"pending"`
	Executing  int     `json:"executing"`
	Tokens     float64 `json:"tokens"`
	Capacity   int     `json:"capacity"`
	TimerArmed bool    `json:"timer_armed"`
	Closed     bool    `json:"closed"`
}

// Scheduler is a rate-limited priority request scheduler
type Scheduler[T any] struct {
	cfg     Config
	clock   Clock
	backoff *backoff.BoundedJitter
	logger  *logging.Logger
	metrics *metrics.Collector

	mu             sync.Mutex
	pending        *pqueue.Queue[*task[T]]
	pendingByKey   map[string]*task[T]
	executing      map[string]*task[T] // by task id
	executingByKey map[string]*task[T]
	bucket         *TokenBucket
	timer          Timer
	timerGen       uint64
	closed         bool
}

// New creates a Scheduler, failing fast on invalid configuration
func New[T any](cfg Config, opts ...Option) (*Scheduler[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler configuration: %w", err)
	}

	o := options{clock: realClock{}}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.Nop()
	}

	strategy := backoff.NewBoundedJitter(cfg.BaseRetryDelay)
	if o.random != nil {
		strategy.Rand = o.random
	}

	return &Scheduler[T]{
		cfg:            cfg,
		clock:          o.clock,
		backoff:        strategy,
		logger:         o.logger,
		metrics:        o.metrics,
		pending:        pqueue.New[*task[T]](nil),
		pendingByKey:   make(map[string]*task[T]),
		executing:      make(map[string]*task[T]),
		executingByKey: make(map[string]*task[T]),
		bucket:         NewTokenBucket(cfg.Rate, cfg.Capacity),
	}, nil
}

// Config returns the scheduler's configuration
func (s *Scheduler[T]) Config() Config {
	return s.cfg
}

// Enqueue admits op for dispatch no earlier than scheduleAt and returns its
// future immediately. A non-empty dedupKey that matches a pending or executing
// task returns that task's future instead of admitting new work.
func (s *Scheduler[T]) Enqueue(op Operation[T], scheduleAt time.Time, dedupKey string) *Future[T] {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return Rejected[T](ErrClosed)
	}

	if dedupKey != "" {
		if existing, ok := s.pendingByKey[dedupKey]; ok {
			s.metrics.RecordDedupHit()
			s.logger.Debug("dedup hit on pending task", "task_id", existing.id, "dedup_key", dedupKey)
			return existing.future
		}
		if existing, ok := s.executingByKey[dedupKey]; ok {
			s.metrics.RecordDedupHit()
			s.logger.Debug("dedup hit on executing task", "task_id", existing.id, "dedup_key", dedupKey)
			return existing.future
		}
	}

	t := &task[T]{
		id:         uuid.NewString(),
		op:         op,
		future:     newFuture[T](),
		scheduleAt: scheduleAt,
		createdAt:  s.clock.Now(),
		dedupKey:   dedupKey,
	}
	s.admitLocked(t)
	s.metrics.RecordEnqueue()
	s.logger.Debug("task enqueued", "task_id", t.id, "dedup_key", dedupKey, "schedule_at", scheduleAt)

	s.dispatchLocked()
	return t.future
}

// Stats returns the current queue, execution and token levels
func (s *Scheduler[T]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Pending:    s.pending.Len(),
		Executing:  len(s.executing),
		Tokens:     s.bucket.Tokens(s.clock.Now()),
		Capacity:   s.cfg.Capacity,
		TimerArmed: s.timer != nil,
		Closed:     s.closed,
	}
}

// Close stops the wake timer, rejects pending tasks with ErrClosed and refuses
// new work. Executing tasks run to settlement but are not retried.
func (s *Scheduler[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.stopTimerLocked()

	for !s.pending.IsEmpty() {
		t, _ := s.pending.Pop()
		delete(s.pendingByKey, t.dedupKey)
		s.settleLocked(t, func() error { return t.future.reject(ErrClosed) })
	}
	s.logger.Info("scheduler closed", "executing", len(s.executing))
}

func (s *Scheduler[T]) admitLocked(t *task[T]) {
	s.pending.Push(t, t.priority())
	if t.dedupKey != "" {
		s.pendingByKey[t.dedupKey] = t
	}
}

// dispatchLocked moves every eligible task into execution, then re-arms the
// single wake timer. It is the only place the timer is touched while open.
func (s *Scheduler[T]) dispatchLocked() {
	if s.closed {
		return
	}
	now := s.clock.Now()

	for {
		next, ok := s.pending.Peek()
		if !ok || next.scheduleAt.After(now) {
			break
		}
		if !s.bucket.Take(now) {
			break
		}

		s.pending.Pop()
		if next.dedupKey != "" {
			delete(s.pendingByKey, next.dedupKey)
			s.executingByKey[next.dedupKey] = next
		}
		s.executing[next.id] = next
		if next.firstDispatchAt.IsZero() {
			next.firstDispatchAt = now
		}

		s.metrics.RecordDispatch()
		s.logger.Debug("task dispatched", "task_id", next.id, "retry_count", next.retryCount)
		go s.execute(next)
	}

	s.stopTimerLocked()
	if delay, ok := s.nextWakeLocked(now); ok {
		s.armTimerLocked(delay)
	}
}

// nextWakeLocked computes when dispatch could next make progress
func (s *Scheduler[T]) nextWakeLocked(now time.Time) (time.Duration, bool) {
	next, ok := s.pending.Peek()
	if !ok {
		return 0, false
	}
	delay := max(0, next.scheduleAt.Sub(now), s.bucket.UntilNextToken(now))
	return delay, true
}

func (s *Scheduler[T]) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerGen++
}

func (s *Scheduler[T]) armTimerLocked(delay time.Duration) {
	gen := s.timerGen
	s.timer = s.clock.AfterFunc(delay, func() { s.wake(gen) })
}

// wake runs dispatch for the timer generation that armed it; stale fires are ignored
func (s *Scheduler[T]) wake(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.timerGen {
		return
	}
	s.timer = nil
	s.dispatchLocked()
}

// execute runs one attempt outside the lock and applies its outcome
func (s *Scheduler[T]) execute(t *task[T]) {
	start := time.Now()
	value, err := s.runAttempt(t.op)
	elapsed := time.Since(start)

	s.mu.Lock()
	defer s.mu.Unlock()

	attempt := metrics.AttemptMetric{Duration: elapsed, Success: err == nil}
	if err != nil {
		attempt.Error = err.Error()
		attempt.TimedOut = errors.Is(err, ErrTimeout)
		if attempt.TimedOut {
			s.metrics.RecordTimeout()
		}
	}
	t.attempts = append(t.attempts, attempt)

	delete(s.executing, t.id)
	if t.dedupKey != "" {
		delete(s.executingByKey, t.dedupKey)
	}

	switch {
	case err == nil:
		s.settleLocked(t, func() error { return t.future.resolve(value) })
	case t.retryCount < s.cfg.MaxRetries && !s.closed:
		t.retryCount++
		delay := s.backoff.Delay(t.retryCount)
		t.scheduleAt = s.clock.Now().Add(delay)
		s.admitLocked(t)
		s.metrics.RecordRetry()
		s.logger.Warn("task attempt failed, retrying",
			"task_id", t.id, "retry_count", t.retryCount, "max_retries", s.cfg.MaxRetries,
			"delay", delay, "error", err)
	default:
		s.logger.Error("task failed permanently",
			"task_id", t.id, "attempts", len(t.attempts), "error", err)
		s.settleLocked(t, func() error { return t.future.reject(err) })
	}

	s.dispatchLocked()
}

// runAttempt races op against the per-attempt timeout
func (s *Scheduler[T]) runAttempt(op Operation[T]) (T, error) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	results := make(chan attemptResult[T], 1)
	go func() {
		var r attemptResult[T]
		defer func() {
			if p := recover(); p != nil {
				r = attemptResult[T]{err: &PanicError{Value: p}}
			}
			results <- r
		}()
		r.value, r.err = op(ctx)
	}()

	var zero T
	select {
	case r := <-results:
		if r.err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, &TimeoutError{Timeout: s.cfg.Timeout}
		}
		return r.value, r.err
	case <-ctx.Done():
		return zero, &TimeoutError{Timeout: s.cfg.Timeout}
	}
}

// settleLocked settles the task's future and records its terminal metrics
func (s *Scheduler[T]) settleLocked(t *task[T], settle func() error) {
	if err := settle(); err != nil {
		s.logger.LogError("settle_future", err, "task_id", t.id)
		return
	}

	var wait time.Duration
	if !t.firstDispatchAt.IsZero() {
		wait = t.firstDispatchAt.Sub(t.createdAt)
	}
	outcome := metrics.NewTaskMetrics(t.id, t.dedupKey, t.future.err == nil,
		s.clock.Now().Sub(t.createdAt), wait, t.attempts)
	if err := s.metrics.RecordOutcome(outcome); err != nil {
		s.logger.LogError("record_outcome", err, "task_id", t.id)
	}
}
