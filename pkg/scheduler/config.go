package scheduler

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config holds the immutable scheduler settings
type Config struct {
	Rate           float64       `mapstructure:"rate"`             // tokens added per second
	Capacity       int           `mapstructure:"capacity"`         // bucket ceiling, maximum burst
	Timeout        time.Duration `mapstructure:"timeout"`          // per-attempt budget
	MaxRetries     int           `mapstructure:"max_retries"`      // retries after the first failure
	BaseRetryDelay time.Duration `mapstructure:"base_retry_delay"` // backoff base
}

// DefaultConfig returns settings suitable for a typical translation backend
func DefaultConfig() Config {
	return Config{
		Rate:           5,
		Capacity:       10,
		Timeout:        30 * time.Second,
		MaxRetries:     3,
		BaseRetryDelay: time.Second,
	}
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("invalid %s value '%v': %s", e.Field, e.Value, e.Message)
}

// Problems lists every invalid field
func (c Config) Problems() []ValidationError {
	var errs []ValidationError

	if c.Rate <= 0 || math.IsNaN(c.Rate) || math.IsInf(c.Rate, 0) {
		errs = append(errs, ValidationError{Field: "rate", Value: c.Rate, Message: "must be a finite number greater than 0"})
	}
	if c.Capacity < 1 {
		errs = append(errs, ValidationError{Field: "capacity", Value: c.Capacity, Message: "must be at least 1"})
	}
	if c.Timeout <= 0 {
		errs = append(errs, ValidationError{Field: "timeout", Value: c.Timeout, Message: "must be greater than 0"})
	}
	if c.MaxRetries < 0 {
		errs = append(errs, ValidationError{Field: "max_retries", Value: c.MaxRetries, Message: "must be non-negative"})
	}
	if c.BaseRetryDelay <= 0 {
		errs = append(errs, ValidationError{Field: "base_retry_delay", Value: c.BaseRetryDelay, Message: "must be greater than 0"})
	}
	return errs
}

// Validate reports every invalid field at once
func (c Config) Validate() error {
	errs := c.Problems()
	if len(errs) == 0 {
		return nil
	}
	messages := make([]string, 0, len(errs))
	for _, err := range errs {
		messages = append(messages, err.Error())
	}
	return fmt.Errorf("validation errors:\n  - %s", strings.Join(messages, "\n  - "))
}
