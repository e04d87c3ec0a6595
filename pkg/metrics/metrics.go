package metrics

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// AttemptMetric represents metrics for a single task attempt
type AttemptMetric struct {
	Duration time.Duration `json:"-"`
	Success  bool          `json:"success"`
	TimedOut bool          `json:"timed_out,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// DurationSeconds returns the duration in seconds as a float64
func (a *AttemptMetric) DurationSeconds() float64 {
	return float64(a.Duration) / float64(time.Second)
}

// MarshalJSON implements custom JSON marshaling for AttemptMetric
func (a *AttemptMetric) MarshalJSON() ([]byte, error) {
	type Alias AttemptMetric
	return json.Marshal(&struct {
		DurationSeconds float64 `json:"duration_seconds"`
		*Alias
	}{
		DurationSeconds: a.DurationSeconds(),
		Alias:           (*Alias)(a),
	})
}

// TaskMetrics represents metrics for a task that reached terminal settlement
type TaskMetrics struct {
	TaskID               string          `json:"task_id"`
	DedupKey             string          `json:"dedup_key,omitempty"`
	FinalStatus          string          `json:"final_status"` // "succeeded" or "failed"
	TotalDurationSeconds float64         `json:"total_duration_seconds"`
	QueueWaitSeconds     float64         `json:"queue_wait_seconds"`
	TotalAttempts        int             `json:"total_attempts"`
	SuccessfulAttempts   int             `json:"successful_attempts"`
	FailedAttempts       int             `json:"failed_attempts"`
	TimedOutAttempts     int             `json:"timed_out_attempts"`
	Attempts             []AttemptMetric `json:"attempts"`
	Timestamp            int64           `json:"timestamp"` // Unix timestamp
}

// NewTaskMetrics creates a new TaskMetrics instance
func NewTaskMetrics(taskID, dedupKey string, success bool, totalDuration, queueWait time.Duration, attempts []AttemptMetric) *TaskMetrics {
	finalStatus := "failed"
	if success {
		finalStatus = "succeeded"
	}

	m := &TaskMetrics{
		TaskID:               taskID,
		DedupKey:             dedupKey,
		FinalStatus:          finalStatus,
		TotalDurationSeconds: float64(totalDuration) / float64(time.Second),
		QueueWaitSeconds:     float64(queueWait) / float64(time.Second),
		TotalAttempts:        len(attempts),
		Attempts:             attempts,
		Timestamp:            time.Now().Unix(),
	}
	for _, attempt := range attempts {
		if attempt.Success {
			m.SuccessfulAttempts++
		} else {
			m.FailedAttempts++
		}
		if attempt.TimedOut {
			m.TimedOutAttempts++
		}
	}
	return m
}

// Succeeded reports whether the task settled with a value
func (m *TaskMetrics) Succeeded() bool {
	return m.FinalStatus == "succeeded"
}

// Sink receives settled task metrics
type Sink interface {
	Store(metric *TaskMetrics) error
}

// Counters is a point-in-time copy of the collector's counters
type Counters struct {
	Enqueued   int64 `json:"enqueued"`
	DedupHits  int64 `json:"dedup_hits"`
	Dispatched int64 `json:"dispatched"`
	Retries    int64 `json:"retries"`
	Timeouts   int64 `json:"timeouts"`
	Succeeded  int64 `json:"succeeded"`
	Failed     int64 `json:"failed"`
}

// Collector counts scheduler events and forwards settled task metrics to an
// optional sink. A nil *Collector is valid and records nothing.
type Collector struct {
	enqueued   atomic.Int64
	dedupHits  atomic.Int64
	dispatched atomic.Int64
	retries    atomic.Int64
	timeouts   atomic.Int64
	succeeded  atomic.Int64
	failed     atomic.Int64

	sink Sink
}

// NewCollector creates a collector; sink may be nil
func NewCollector(sink Sink) *Collector {
	return &Collector{sink: sink}
}

// RecordEnqueue counts a newly admitted task
func (c *Collector) RecordEnqueue() {
	if c != nil {
		c.enqueued.Add(1)
	}
}

// RecordDedupHit counts an enqueue coalesced onto an existing task
func (c *Collector) RecordDedupHit() {
	if c != nil {
		c.dedupHits.Add(1)
	}
}

// RecordDispatch counts a task moved into execution
func (c *Collector) RecordDispatch() {
	if c != nil {
		c.dispatched.Add(1)
	}
}

// RecordRetry counts a failed attempt that was rescheduled
func (c *Collector) RecordRetry() {
	if c != nil {
		c.retries.Add(1)
	}
}

// RecordTimeout counts an attempt that exceeded its budget
func (c *Collector) RecordTimeout() {
	if c != nil {
		c.timeouts.Add(1)
	}
}

// RecordOutcome counts a terminal settlement and stores its metrics.
// Sink failures are returned so the caller can log them.
func (c *Collector) RecordOutcome(m *TaskMetrics) error {
	if c == nil || m == nil {
		return nil
	}
	if m.Succeeded() {
		c.succeeded.Add(1)
	} else {
		c.failed.Add(1)
	}
	if c.sink == nil {
		return nil
	}
	return c.sink.Store(m)
}

// Snapshot returns the current counter values
func (c *Collector) Snapshot() Counters {
	if c == nil {
		return Counters{}
	}
	return Counters{
		Enqueued:   c.enqueued.Load(),
		DedupHits:  c.dedupHits.Load(),
		Dispatched: c.dispatched.Load(),
		Retries:    c.retries.Load(),
		Timeouts:   c.timeouts.Load(),
		Succeeded:  c.succeeded.Load(),
		Failed:     c.failed.Load(),
	}
}
