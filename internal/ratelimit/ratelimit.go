// Package ratelimit provides per-endpoint token buckets for the moderation API.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Limit configures one endpoint. A non-positive Burst defaults to RequestsPerSecond.
type Limit struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" json:"requestsPerSecond"`
	Burst             int     `yaml:"burst" json:"burst"`
}

// Limiter holds one bucket per endpoint. Endpoints without a limit are never throttled.
type Limiter struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
	now     func() time.Time
}

// New creates a limiter. Limits with a non-positive rate are ignored.
func New(limits map[string]Limit) *Limiter {
	l := &Limiter{buckets: make(map[string]*bucket), now: time.Now}
	l.Configure(limits)
	return l
}

// Configure replaces the limits. Buckets of endpoints that keep a limit retain
// their current tokens, capped at the new burst.
func (l *Limiter) Configure(limits map[string]Limit) {
	l.mu.Lock()
	defer l.mu.Unlock()

	next := make(map[string]*bucket, len(limits))
	for endpoint, limit := range limits {
		if limit.RequestsPerSecond <= 0 {
			continue
		}
		if b, ok := l.buckets[endpoint]; ok {
			b.configure(limit)
			next[endpoint] = b
			continue
		}
		next[endpoint] = newBucket(limit, l.now())
	}
	l.buckets = next
}

// Allow consumes a token for endpoint. It also reports the bucket state for
// response headers; ok is false when no limit applies.
func (l *Limiter) Allow(endpoint string) (allowed bool, state State, ok bool) {
	l.mu.RLock()
	b, exists := l.buckets[endpoint]
	l.mu.RUnlock()
	if !exists {
		return true, State{}, false
	}
	allowed, state = b.take(l.now())
	return allowed, state, true
}

// State is a bucket snapshot after a take.
type State struct {
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// WriteHeaders sets the X-RateLimit-* headers, plus Retry-After when throttled.
func (s State) WriteHeaders(w http.ResponseWriter, allowed bool) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(s.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(s.Remaining))
	if !allowed {
		secs := int(math.Ceil(s.RetryAfter.Seconds()))
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}

type bucket struct {
	mu         sync.Mutex
	rate       float64
	capacity   float64
	tokens     float64
	lastRefill time.Time
}

func newBucket(limit Limit, now time.Time) *bucket {
	b := &bucket{lastRefill: now}
	b.configure(limit)
	b.tokens = b.capacity
	return b
}

func (b *bucket) configure(limit Limit) {
	b.mu.Lock()
	defer b.mu.Unlock()

	burst := limit.Burst
	if burst <= 0 {
		burst = int(math.Ceil(limit.RequestsPerSecond))
	}
	b.rate = limit.RequestsPerSecond
	b.capacity = float64(burst)
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
}

func (b *bucket) take(now time.Time) (bool, State) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefill).Seconds(); elapsed > 0 {
		b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
		b.lastRefill = now
	}

	state := State{Limit: int(b.capacity)}
	if b.tokens >= 1 {
		b.tokens--
		state.Remaining = int(b.tokens)
		return true, state
	}
	state.RetryAfter = time.Duration((1 - b.tokens) / b.rate * float64(time.Second))
	return false, state
}
