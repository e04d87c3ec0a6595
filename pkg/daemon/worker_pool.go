package daemon

import (
	"context"
	"net"
	"sync"

	"github.com/shaneisley/patience-gate/pkg/logging"
)

// ConnHandler serves one accepted connection until it closes or ctx ends
type ConnHandler func(ctx context.Context, conn net.Conn, workerID int)

// WorkerPool manages a fixed-size pool of workers for handling connections
type WorkerPool struct {
	workers  int
	jobQueue chan net.Conn
	handler  ConnHandler
	workerWg sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *logging.Logger
	started  bool
	stopped  bool
	mu       sync.RWMutex
}

// WorkerPoolStats describes pool occupancy
type WorkerPoolStats struct {
	Workers       int  `json:"workers"`
	QueueCapacity int  `json:"queue_capacity"`
	QueueLength   int  `json:"queue_length"`
	Started       bool `json:"started"`
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int, handler ConnHandler, logger *logging.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 8
	}
	if workers > 1024 {
		workers = 1024
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers:  workers,
		jobQueue: make(chan net.Conn, workers*2),
		handler:  handler,
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// Start starts the worker goroutines
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.started {
		return
	}
	wp.started = true

	for i := 0; i < wp.workers; i++ {
		wp.workerWg.Add(1)
		go wp.worker(i)
	}

	wp.logger.Info("worker pool started", "workers", wp.workers, "queue_size", cap(wp.jobQueue))
}

// Stop cancels in-flight handlers and waits for the workers to exit
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.started || wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.cancel()
	close(wp.jobQueue)
	wp.mu.Unlock()

	wp.logger.Info("stopping worker pool")
	wp.workerWg.Wait()

	// connections queued but never picked up
	for conn := range wp.jobQueue {
		conn.Close()
	}
	wp.logger.Info("worker pool stopped")
}

// SubmitConnection queues conn for a worker. It returns false, closing conn,
// when the pool is not running or its queue is full.
func (wp *WorkerPool) SubmitConnection(conn net.Conn) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.started || wp.stopped {
		conn.Close()
		return false
	}

	select {
	case wp.jobQueue <- conn:
		return true
	default:
		wp.logger.Warn("worker pool queue full, rejecting connection",
			"queue_size", cap(wp.jobQueue), "workers", wp.workers)
		conn.Close()
		return false
	}
}

func (wp *WorkerPool) worker(id int) {
	defer wp.workerWg.Done()

	wp.logger.Debug("worker started", "worker_id", id)
	defer wp.logger.Debug("worker stopped", "worker_id", id)

	for {
		select {
		case conn, ok := <-wp.jobQueue:
			if !ok {
				return
			}
			wp.serve(conn, id)

		case <-wp.ctx.Done():
			return
		}
	}
}

func (wp *WorkerPool) serve(conn net.Conn, workerID int) {
	defer conn.Close()
	defer func() {
		if p := recover(); p != nil {
			wp.logger.Error("connection handler panicked", "worker_id", workerID, "panic", p)
		}
	}()
	wp.handler(wp.ctx, conn, workerID)
}

// GetStats returns worker pool statistics
func (wp *WorkerPool) GetStats() WorkerPoolStats {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	return WorkerPoolStats{
		Workers:       wp.workers,
		QueueCapacity: cap(wp.jobQueue),
		QueueLength:   len(wp.jobQueue),
		Started:       wp.started && !wp.stopped,
	}
}
