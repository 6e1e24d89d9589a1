package tokenbucket

import (
	"math/bits"
	"sync"
)

const nsPerSecond = 1_000_000_000

// Bucket is a byte-granular token bucket. Tokens never exceed capacity and a failed
// admission never consumes anything.
type Bucket struct {
	mu             sync.Mutex
	capacity       uint64
	tokens         uint64
	refillRate     uint64 // bytes per second
	lastRefillTime uint64
	// remainder carries sub-token progress between refills (units: bytes*ns).
	remainder uint64
}

// NewBucket returns a full bucket.
func NewBucket(capacity, refillRate, now uint64) *Bucket {
	return &Bucket{
		capacity:       capacity,
		tokens:         capacity,
		refillRate:     refillRate,
		lastRefillTime: now,
	}
}

// Refill adds refillRate*Δt tokens, saturating at capacity.
func (b *Bucket) Refill(now uint64) {
	b.mu.Lock()
	b.refillLocked(now)
	b.mu.Unlock()
}

func (b *Bucket) refillLocked(now uint64) {
	if now <= b.lastRefillTime {
		return
	}
	dt := now - b.lastRefillTime
	b.lastRefillTime = now
	if b.tokens >= b.capacity || b.refillRate == 0 {
		b.tokens = min(b.tokens, b.capacity)
		b.remainder = 0
		return
	}
	hi, lo := bits.Mul64(b.refillRate, dt)
	var carry uint64
	lo, carry = bits.Add64(lo, b.remainder, 0)
	hi += carry
	if hi >= nsPerSecond {
		b.tokens = b.capacity
		b.remainder = 0
		return
	}
	add, rem := bits.Div64(hi, lo, nsPerSecond)
	if add >= b.capacity-b.tokens {
		b.tokens = b.capacity
		b.remainder = 0
		return
	}
	b.tokens += add
	b.remainder = rem
}

// Admit consumes n tokens if available.
func (b *Bucket) Admit(n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.admitLocked(n)
}

// AdmitAt refills up to now, then tries to consume n tokens.
func (b *Bucket) AdmitAt(now, n uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked(now)
	return b.admitLocked(n)
}

func (b *Bucket) admitLocked(n uint64) bool {
	if b.tokens < n {
		return false
	}
	b.tokens -= n
	return true
}

// Tokens returns the current token level.
func (b *Bucket) Tokens() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tokens
}

// Capacity returns the bucket size.
func (b *Bucket) Capacity() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// Reconfigure changes capacity and rate, clamping the current level.
func (b *Bucket) Reconfigure(capacity, refillRate uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.capacity = capacity
	b.refillRate = refillRate
	b.tokens = min(b.tokens, capacity)
	b.remainder = 0
}
