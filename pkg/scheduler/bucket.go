package scheduler

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket is the scheduler's admission control. Tokens refill at rate per
// second up to capacity and each dispatch takes exactly one. The bucket starts
// full. Arithmetic is delegated to rate.Limiter, evaluated at explicit times so
// the scheduler's clock stays authoritative.
type TokenBucket struct {
	limiter  *rate.Limiter
	rate     float64
	capacity int
}

// NewTokenBucket creates a full bucket
func NewTokenBucket(perSecond float64, capacity int) *TokenBucket {
	return &TokenBucket{
		limiter:  rate.NewLimiter(rate.Limit(perSecond), capacity),
		rate:     perSecond,
		capacity: capacity,
	}
}

// Tokens returns the refilled token level at now, in [0, capacity]
func (b *TokenBucket) Tokens(now time.Time) float64 {
	return min(max(b.limiter.TokensAt(now), 0), float64(b.capacity))
}

// Take removes one token if at least one whole token is available at now.
// AllowN alone also grants a token when the deficit is under a nanosecond of
// refill, so the level is checked first.
func (b *TokenBucket) Take(now time.Time) bool {
	if b.limiter.TokensAt(now) < 1 {
		return false
	}
	return b.limiter.AllowN(now, 1)
}

// UntilNextToken returns how long until a whole token is available, 0 if one is now
func (b *TokenBucket) UntilNextToken(now time.Time) time.Duration {
	tokens := b.Tokens(now)
	if tokens >= 1 {
		return 0
	}
	// round up so a timer armed for this delay never observes 0.999... tokens
	nanos := math.Ceil((1 - tokens) / b.rate * float64(time.Second))
	return time.Duration(nanos)
}

// Capacity returns the bucket ceiling
func (b *TokenBucket) Capacity() int {
	return b.capacity
}

// Rate returns the refill rate in tokens per second
func (b *TokenBucket) Rate() float64 {
	return b.rate
}
