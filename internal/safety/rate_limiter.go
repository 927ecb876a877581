package safety

import (
	"context"
	"math"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled continuously at rate tokens per second
type RateLimiter struct {
	name     string
	capacity float64
	rate     float64

	mu         sync.Mutex
	tokens     float64
	lastRefill time.Time
	allowed    int64
	rejected   int64

	now func() time.Time
}

// RateLimiterStats is a point-in-time view of a limiter
type RateLimiterStats struct {
	Name            string  `json:"name"`
	Capacity        int     `json:"capacity"`
	AvailableTokens float64 `json:"available_tokens"`
	RefillRate      float64 `json:"refill_rate"`
	Allowed         int64   `json:"allowed"`
	Rejected        int64   `json:"rejected"`
}

// NewRateLimiter creates a full bucket of capacity tokens
func NewRateLimiter(name string, capacity int, perSecond float64) *RateLimiter {
	if capacity < 1 {
		capacity = 1
	}
	if perSecond <= 0 {
		perSecond = 1
	}
	return &RateLimiter{
		name:       name,
		capacity:   float64(capacity),
		rate:       perSecond,
		tokens:     float64(capacity),
		lastRefill: time.Now(),
		now:        time.Now,
	}
}

// WithClock overrides the time source; the bucket restarts full at the new clock
func (rl *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
	rl.lastRefill = now()
	rl.tokens = rl.capacity
	return rl
}

// Allow takes one token if available
func (rl *RateLimiter) Allow() bool {
	return rl.AllowN(1)
}

// AllowN takes n tokens if all are available
func (rl *RateLimiter) AllowN(n int) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens >= float64(n) {
		rl.tokens -= float64(n)
		rl.allowed++
		return true
	}
	rl.rejected++
	return false
}

// Wait blocks until a token is available or ctx is done
func (rl *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait := rl.reserve()
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token and returns 0, or returns how long until one is available
func (rl *RateLimiter) reserve() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		rl.allowed++
		return 0
	}
	missing := 1 - rl.tokens
	return time.Duration(math.Ceil(missing / rl.rate * float64(time.Second)))
}

func (rl *RateLimiter) refillLocked() {
	now := rl.now()
	elapsed := now.Sub(rl.lastRefill)
	if elapsed <= 0 {
		return
	}
	rl.tokens = math.Min(rl.capacity, rl.tokens+elapsed.Seconds()*rl.rate)
	rl.lastRefill = now
}

// GetStats returns the limiter counters
func (rl *RateLimiter) GetStats() RateLimiterStats {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refillLocked()
	return RateLimiterStats{
		Name:            rl.name,
		Capacity:        int(rl.capacity),
		AvailableTokens: rl.tokens,
		RefillRate:      rl.rate,
		Allowed:         rl.allowed,
		Rejected:        rl.rejected,
	}
}

// KeyedRateLimiter keeps one bucket per key, e.g. per client address
type KeyedRateLimiter struct {
	name     string
	capacity int
	rate     float64
	idleTTL  time.Duration

	mu       sync.Mutex
	limiters map[string]*keyedEntry
	now      func() time.Time
}

type keyedEntry struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewKeyedRateLimiter creates per-key buckets; idle buckets are dropped after idleTTL
func NewKeyedRateLimiter(name string, capacity int, perSecond float64, idleTTL time.Duration) *KeyedRateLimiter {
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &KeyedRateLimiter{
		name:     name,
		capacity: capacity,
		rate:     perSecond,
		idleTTL:  idleTTL,
		limiters: make(map[string]*keyedEntry),
		now:      time.Now,
	}
}

// WithClock overrides the time source for all buckets created afterwards
func (k *KeyedRateLimiter) WithClock(now func() time.Time) *KeyedRateLimiter {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.now = now
	return k
}

// Allow takes one token from the bucket for key
func (k *KeyedRateLimiter) Allow(key string) bool {
	k.mu.Lock()
	now := k.now()
	entry, ok := k.limiters[key]
	if !ok {
		entry = &keyedEntry{limiter: NewRateLimiter(k.name+":"+key, k.capacity, k.rate).WithClock(k.now)}
		k.limiters[key] = entry
	}
	entry.lastSeen = now
	k.mu.Unlock()

	return entry.limiter.Allow()
}

// Prune drops buckets idle for longer than the TTL and returns how many were removed
func (k *KeyedRateLimiter) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	removed := 0
	for key, entry := range k.limiters {
		if now.Sub(entry.lastSeen) > k.idleTTL {
			delete(k.limiters, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys
func (k *KeyedRateLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
