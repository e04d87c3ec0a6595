// Package monitoring samples process resources for the daemon's health checks.
package monitoring

import (
	"fmt"
	"runtime"
	"time"
)

// ResourceMonitor compares process resource usage against soft limits
type ResourceMonitor struct {
	maxMemoryMB   float64
	maxGoroutines int
}

// ResourceSnapshot represents resource usage at a point in time
type ResourceSnapshot struct {
	Timestamp    time.Time `json:"timestamp"`
	AllocMB      float64   `json:"alloc_mb"`
	SysMB        float64   `json:"sys_mb"`
	NumGoroutine int       `json:"goroutines"`
	HeapObjects  uint64    `json:"heap_objects"`
}

// NewResourceMonitor creates a monitor; a zero limit is not enforced
func NewResourceMonitor(maxMemoryMB float64, maxGoroutines int) *ResourceMonitor {
	return &ResourceMonitor{
		maxMemoryMB:   maxMemoryMB,
		maxGoroutines: maxGoroutines,
	}
}

// Snapshot returns current resource usage
func (rm *ResourceMonitor) Snapshot() ResourceSnapshot {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ResourceSnapshot{
		Timestamp:    time.Now(),
		AllocMB:      float64(m.Alloc) / 1024 / 1024,
		SysMB:        float64(m.Sys) / 1024 / 1024,
		NumGoroutine: runtime.NumGoroutine(),
		HeapObjects:  m.HeapObjects,
	}
}

// Check validates snapshot against the configured limits
func (rm *ResourceMonitor) Check(snapshot ResourceSnapshot) error {
	if rm == nil {
		return nil
	}
	if rm.maxMemoryMB > 0 && snapshot.AllocMB > rm.maxMemoryMB {
		return fmt.Errorf("memory limit exceeded: %.2f MB > %.2f MB",
			snapshot.AllocMB, rm.maxMemoryMB)
	}
	if rm.maxGoroutines > 0 && snapshot.NumGoroutine > rm.maxGoroutines {
		return fmt.Errorf("goroutine limit exceeded: %d > %d",
			snapshot.NumGoroutine, rm.maxGoroutines)
	}
	return nil
}

// CheckLimits samples current usage and validates it
func (rm *ResourceMonitor) CheckLimits() error {
	return rm.Check(rm.Snapshot())
}
