// Package admission implements overload rejection and byte-rate shaping.
package admission

import (
	"time"

	"golang.org/x/time/rate"
)

// TokenBucket rejects work above a sustained rate. Safe for concurrent use.
type TokenBucket struct {
	l        *rate.Limiter
	capacity int
}

// NewTokenBucket returns a bucket that starts full with capacity tokens and
// refills at ratePerSec tokens per second. A zero rate never refills.
func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return &TokenBucket{rate.NewLimiter(rate.Limit(ratePerSec), capacity), capacity}
}

// Consume takes n tokens if available.
func (b *TokenBucket) Consume(n int) bool {
	return b.consumeAt(time.Now(), n)
}

func (b *TokenBucket) consumeAt(now time.Time, n int) bool {
	return b.l.AllowN(now, n)
}

func (b *TokenBucket) Rate() float64 { return float64(b.l.Limit()) }
func (b *TokenBucket) Capacity() int { return b.capacity }
