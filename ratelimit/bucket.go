package ratelimit

import (
	"time"
)

// Bucket is a continuously refilled token bucket. Capacity bounds burst,
// fill rate bounds sustained throughput. Bucket is not safe for concurrent
// use on its own; Limiter serializes access.
type Bucket struct {
	capacity   float64
	tokens     float64
	fillRate   float64
	lastRefill time.Time
}

func NewBucket(capacity, fillRate float64, now time.Time) *Bucket {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &Bucket{
		capacity:   capacity,
		tokens:     capacity,
		fillRate:   fillRate,
		lastRefill: now,
	}
}

// Consume refills the bucket up to now, then debits cost if the balance
// covers it. A false return means the caller should surface a "try later"
// response; the bucket never retries on its own.
func (b *Bucket) Consume(cost float64, now time.Time) bool {
	b.refill(now)
	if cost > b.tokens {
		return false
	}
	b.tokens -= cost
	return true
}

func (b *Bucket) refill(now time.Time) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		// Clock went backwards or stood still; never rewind lastRefill,
		// or the next refill would double-count the window.
		return
	}
	b.tokens += elapsed * b.fillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Tokens reports the balance as of the last refill.
func (b *Bucket) Tokens() float64 { return b.tokens }

// LastRefill reports when the bucket last observed the clock. The idle
// sweep uses it to reclaim abandoned per-user buckets.
func (b *Bucket) LastRefill() time.Time { return b.lastRefill }

func (b *Bucket) setTokens(tokens float64) {
	if tokens > b.capacity {
		tokens = b.capacity
	}
	if tokens < 0 {
		tokens = 0
	}
	b.tokens = tokens
}
