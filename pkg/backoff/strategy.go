package backoff

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// Strategy defines the interface for retry backoff strategies
type Strategy interface {
	// Delay returns the duration to wait before the next attempt
	// attempt is 1-based (1 for first retry, 2 for second retry, etc.)
	Delay(attempt int) time.Duration
}

// RandomSource yields uniform floats in [0, 1)
type RandomSource interface {
	Float64() float64
}

// lockedRand makes a *rand.Rand safe to share between goroutines
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func (l *lockedRand) Float64() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64()
}

// NewRandomSource returns a goroutine-safe source seeded with seed
func NewRandomSource(seed int64) RandomSource {
	return &lockedRand{rng: rand.New(rand.NewSource(seed))}
}

// globalSource uses the package-level math/rand functions
type globalSource struct{}

func (globalSource) Float64() float64 { return rand.Float64() }

// Exponential implements an exponential backoff strategy
type Exponential struct {
	BaseDelay  time.Duration
	Multiplier float64
	MaxDelay   time.Duration
}

// NewExponential creates a new Exponential backoff strategy
// baseDelay is the initial delay, multiplier is the factor to increase by each attempt
// maxDelay is the maximum delay (0 means no limit)
func NewExponential(baseDelay time.Duration, multiplier float64, maxDelay time.Duration) *Exponential {
	return &Exponential{
		BaseDelay:  baseDelay,
		Multiplier: multiplier,
		MaxDelay:   maxDelay,
	}
}

// Delay returns the exponentially increasing delay for the given attempt
func (e *Exponential) Delay(attempt int) time.Duration {
	return exponentialDelay(e.BaseDelay, e.Multiplier, e.MaxDelay, attempt)
}

// DefaultJitterFraction is the largest fraction BoundedJitter adds on top of the
// exponential delay
const DefaultJitterFraction = 0.1

// BoundedJitter doubles the base delay on each attempt and stretches the
// result by a uniform factor in [1, 1+Fraction]:
//
//	delay(n) = BaseDelay × 2^(n−1) × (1 + U[0, Fraction])
type BoundedJitter struct {
	BaseDelay time.Duration
	Fraction  float64
	MaxDelay  time.Duration
	Rand      RandomSource
}

// NewBoundedJitter creates a doubling strategy with up to 10% jitter
func NewBoundedJitter(baseDelay time.Duration) *BoundedJitter {
	return &BoundedJitter{
		BaseDelay: baseDelay,
		Fraction:  DefaultJitterFraction,
		Rand:      globalSource{},
	}
}

// Delay returns the jittered exponential delay for the given attempt
func (b *BoundedJitter) Delay(attempt int) time.Duration {
	d := float64(exponentialDelay(b.BaseDelay, 2.0, 0, attempt))
	d *= 1 + source(b.Rand).Float64()*b.Fraction

	result := saturate(d)
	if b.MaxDelay > 0 && result > b.MaxDelay {
		result = b.MaxDelay
	}
	return result
}

// Bounds returns the inclusive range Delay can produce for attempt
func (b *BoundedJitter) Bounds(attempt int) (time.Duration, time.Duration) {
	low := exponentialDelay(b.BaseDelay, 2.0, 0, attempt)
	high := saturate(float64(low) * (1 + b.Fraction))
	if b.MaxDelay > 0 {
		low = min(low, b.MaxDelay)
		high = min(high, b.MaxDelay)
	}
	return low, high
}

// exponentialDelay computes baseDelay * multiplier^(attempt-1), capped at maxDelay when set
func exponentialDelay(baseDelay time.Duration, multiplier float64, maxDelay time.Duration, attempt int) time.Duration {
	if attempt <= 0 {
		return baseDelay
	}

	delay := float64(baseDelay) * math.Pow(multiplier, float64(attempt-1))
	if maxDelay > 0 && delay > float64(maxDelay) {
		return maxDelay
	}
	return saturate(delay)
}

// saturate converts nanoseconds to a Duration, clamping at the largest Duration
// instead of wrapping negative
func saturate(nanos float64) time.Duration {
	if nanos >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(nanos)
}

func source(r RandomSource) RandomSource {
	if r == nil {
		return globalSource{}
	}
	return r
}
