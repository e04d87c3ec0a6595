package storage

import (
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/shaneisley/patience-gate/pkg/metrics"
)

// MetricsStorage provides thread-safe storage and aggregation of settled task metrics
type MetricsStorage struct {
	mu          sync.RWMutex
	metrics     []StoredMetric
	maxSize     int
	maxAge      time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

// StoredMetric represents a stored metrics entry with timestamp
type StoredMetric struct {
	Timestamp time.Time            `json:"timestamp"`
	Metrics   *metrics.TaskMetrics `json:"metrics"`
}

// AggregatedStats represents aggregated statistics over a time period
type AggregatedStats struct {
	TimeRange       TimeRange     `json:"time_range"`
	TotalTasks      int           `json:"total_tasks"`
	SucceededTasks  int           `json:"succeeded_tasks"`
	FailedTasks     int           `json:"failed_tasks"`
	SuccessRate     float64       `json:"success_rate"`
	AverageAttempts float64       `json:"average_attempts"`
	AverageDuration time.Duration `json:"average_duration"`
	AverageWait     time.Duration `json:"average_wait"`
	TimedOutTasks   int           `json:"timed_out_tasks"`
	TopKeys         []KeyStats    `json:"top_keys"`
}

// TimeRange represents a time range for aggregation
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// KeyStats represents statistics for tasks sharing a dedup key
type KeyStats struct {
	Key         string        `json:"key"`
	Count       int           `json:"count"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// NewMetricsStorage creates a new metrics storage instance
func NewMetricsStorage(maxSize int, maxAge time.Duration) *MetricsStorage {
	return &MetricsStorage{
		metrics:     make([]StoredMetric, 0, maxSize),
		maxSize:     maxSize,
		maxAge:      maxAge,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

// Store adds a new metrics entry to storage
func (s *MetricsStorage) Store(metric *metrics.TaskMetrics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = append(s.metrics, StoredMetric{
		Timestamp: s.now(),
		Metrics:   metric,
	})

	s.cleanupIfNeeded()
	return nil
}

// GetRecent returns the most recent N metrics
func (s *MetricsStorage) GetRecent(limit int) []StoredMetric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 || limit > len(s.metrics) {
		limit = len(s.metrics)
	}

	start := len(s.metrics) - limit
	result := make([]StoredMetric, limit)
	copy(result, s.metrics[start:])

	return result
}

// GetAggregatedStats returns aggregated statistics for a time range
func (s *MetricsStorage) GetAggregatedStats(start, end time.Time) *AggregatedStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &AggregatedStats{
		TimeRange: TimeRange{Start: start, End: end},
	}

	var totalDuration, totalWait time.Duration
	var totalAttempts int
	keyStats := make(map[string]*KeyStats)

	for _, stored := range s.metrics {
		if !stored.Timestamp.After(start) || !stored.Timestamp.Before(end) {
			continue
		}
		metric := stored.Metrics
		stats.TotalTasks++

		success := metric.Succeeded()
		if success {
			stats.SucceededTasks++
		} else {
			stats.FailedTasks++
		}
		if metric.TimedOutAttempts > 0 {
			stats.TimedOutTasks++
		}

		duration := time.Duration(metric.TotalDurationSeconds * float64(time.Second))
		totalDuration += duration
		totalWait += time.Duration(metric.QueueWaitSeconds * float64(time.Second))
		totalAttempts += metric.TotalAttempts

		if metric.DedupKey == "" {
			continue
		}
		ks, exists := keyStats[metric.DedupKey]
		if !exists {
			ks = &KeyStats{Key: metric.DedupKey}
			keyStats[metric.DedupKey] = ks
		}
		ks.Count++
		hit := 0.0
		if success {
			hit = 1.0
		}
		// running averages
		ks.SuccessRate = (ks.SuccessRate*float64(ks.Count-1) + hit) / float64(ks.Count)
		ks.AvgDuration = (ks.AvgDuration*time.Duration(ks.Count-1) + duration) / time.Duration(ks.Count)
	}

	if stats.TotalTasks > 0 {
		stats.SuccessRate = float64(stats.SucceededTasks) / float64(stats.TotalTasks)
		stats.AverageAttempts = float64(totalAttempts) / float64(stats.TotalTasks)
		stats.AverageDuration = totalDuration / time.Duration(stats.TotalTasks)
		stats.AverageWait = totalWait / time.Duration(stats.TotalTasks)
	}
	stats.TopKeys = sortKeyStats(keyStats)

	return stats
}

// GetStats returns current storage statistics
func (s *MetricsStorage) GetStats() map[string]interface{} {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]interface{}{
		"total_metrics": len(s.metrics),
		"max_size":      s.maxSize,
		"max_age":       s.maxAge.String(),
		"last_cleanup":  s.lastCleanup,
	}
}

// ExportJSON exports all metrics as JSON
func (s *MetricsStorage) ExportJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return json.MarshalIndent(s.metrics, "", "  ")
}

// Clear removes all stored metrics
func (s *MetricsStorage) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics = s.metrics[:0]
}

// cleanupIfNeeded trims by size on every store and by age at most every 5 minutes
func (s *MetricsStorage) cleanupIfNeeded() {
	if len(s.metrics) > s.maxSize && s.maxSize > 0 {
		excess := len(s.metrics) - s.maxSize
		s.metrics = append(s.metrics[:0], s.metrics[excess:]...)
	}

	now := s.now()
	if now.Sub(s.lastCleanup) < 5*time.Minute {
		return
	}
	s.lastCleanup = now

	if s.maxAge <= 0 {
		return
	}
	cutoff := now.Add(-s.maxAge)
	kept := s.metrics[:0]
	for _, metric := range s.metrics {
		if metric.Timestamp.After(cutoff) {
			kept = append(kept, metric)
		}
	}
	s.metrics = kept
}

// sortKeyStats converts the key stats map to a slice, busiest first, top 10
func sortKeyStats(keyStats map[string]*KeyStats) []KeyStats {
	stats := make([]KeyStats, 0, len(keyStats))
	for _, stat := range keyStats {
		stats = append(stats, *stat)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Count != stats[j].Count {
			return stats[i].Count > stats[j].Count
		}
		return stats[i].Key < stats[j].Key
	})

	if len(stats) > 10 {
		stats = stats[:10]
	}
	return stats
}
