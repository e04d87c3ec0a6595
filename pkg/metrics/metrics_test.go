package metrics

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	stored []*TaskMetrics
	err    error
}

func (s *recordingSink) Store(m *TaskMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stored = append(s.stored, m)
	return s.err
}

func TestMetrics_CreateTaskMetrics(t *testing.T) {
	// Given a task that failed once, timed out once, then succeeded
	attempts := []AttemptMetric{
		{Duration: 1 * time.Second, Success: false, Error: "boom"},
		{Duration: 500 * time.Millisecond, Success: false, TimedOut: true},
		{Duration: 800 * time.Millisecond, Success: true},
	}

	// When creating task metrics
	m := NewTaskMetrics("task-1", "fp-1", true, 2500*time.Millisecond, 250*time.Millisecond, attempts)

	// Then it should have correct values
	assert.Equal(t, "task-1", m.TaskID)
	assert.Equal(t, "fp-1", m.DedupKey)
	assert.Equal(t, "succeeded", m.FinalStatus)
	assert.True(t, m.Succeeded())
	assert.Equal(t, 2.5, m.TotalDurationSeconds)
	assert.Equal(t, 0.25, m.QueueWaitSeconds)
	assert.Equal(t, 3, m.TotalAttempts)
	assert.Equal(t, 1, m.SuccessfulAttempts)
	assert.Equal(t, 2, m.FailedAttempts)
	assert.Equal(t, 1, m.TimedOutAttempts)
	assert.True(t, m.Timestamp > 0)
}

func TestMetrics_AttemptJSON(t *testing.T) {
	attempt := &AttemptMetric{Duration: 1500 * time.Millisecond, Success: true}

	data, err := json.Marshal(attempt)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, 1.5, decoded["duration_seconds"])
	assert.Equal(t, true, decoded["success"])
	assert.NotContains(t, decoded, "error")
}

func TestCollector_CountsEvents(t *testing.T) {
	// Given a collector with a sink
	sink := &recordingSink{}
	c := NewCollector(sink)

	// When recording a mix of events
	c.RecordEnqueue()
	c.RecordEnqueue()
	c.RecordDedupHit()
	c.RecordDispatch()
	c.RecordDispatch()
	c.RecordDispatch()
	c.RecordRetry()
	c.RecordTimeout()
	require.NoError(t, c.RecordOutcome(NewTaskMetrics("a", "", true, time.Second, 0, nil)))
	require.NoError(t, c.RecordOutcome(NewTaskMetrics("b", "", false, time.Second, 0, nil)))

	// Then the snapshot reflects them
	assert.Equal(t, Counters{
		Enqueued:   2,
		DedupHits:  1,
		Dispatched: 3,
		Retries:    1,
		Timeouts:   1,
		Succeeded:  1,
		Failed:     1,
	}, c.Snapshot())
	assert.Len(t, sink.stored, 2)
}

func TestCollector_SinkErrorIsReturned(t *testing.T) {
	sink := &recordingSink{err: errors.New("full")}
	c := NewCollector(sink)

	err := c.RecordOutcome(NewTaskMetrics("a", "", true, 0, 0, nil))

	assert.EqualError(t, err, "full")
	assert.Equal(t, int64(1), c.Snapshot().Succeeded)
}

func TestCollector_NilIsSafe(t *testing.T) {
	var c *Collector

	c.RecordEnqueue()
	c.RecordDispatch()
	assert.NoError(t, c.RecordOutcome(NewTaskMetrics("a", "", true, 0, 0, nil)))
	assert.Equal(t, Counters{}, c.Snapshot())
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := NewCollector(nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RecordEnqueue()
			c.RecordDispatch()
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	assert.Equal(t, int64(50), snap.Enqueued)
	assert.Equal(t, int64(50), snap.Dispatched)
}
