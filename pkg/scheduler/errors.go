package scheduler

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTimeout matches any *TimeoutError via errors.Is
	ErrTimeout = errors.New("operation timed out")

	// ErrClosed is returned for work submitted to, or still pending in, a closed scheduler
	ErrClosed = errors.New("scheduler closed")

	// ErrAlreadySettled is returned when a future is settled a second time
	ErrAlreadySettled = errors.New("future already settled")
)

// TimeoutError reports an attempt that exceeded its budget
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Timeout)
}

// Is makes errors.Is(err, ErrTimeout) succeed
func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// PanicError carries the value recovered from a panicking operation
type PanicError struct {
	Value interface{}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}
