package ratelimit

import (
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestLimiter(limits map[string]Limit) (*Limiter, *fakeClock) {
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	l := &Limiter{buckets: make(map[string]*bucket), now: clock.Now}
	l.Configure(limits)
	return l, clock
}

func TestAllow_UnlimitedEndpoint(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{"moderate": {RequestsPerSecond: 1}})

	for i := 0; i < 10; i++ {
		allowed, _, ok := l.Allow("tables")
		assert.True(t, allowed)
		assert.False(t, ok)
	}
}

func TestAllow_BurstThenRefill(t *testing.T) {
	l, clock := newTestLimiter(map[string]Limit{"moderate": {RequestsPerSecond: 2, Burst: 3}})

	for i := 0; i < 3; i++ {
		allowed, state, ok := l.Allow("moderate")
		require.True(t, ok)
		require.True(t, allowed, "request %d", i)
		assert.Equal(t, 3, state.Limit)
		assert.Equal(t, 2-i, state.Remaining)
	}

	allowed, state, _ := l.Allow("moderate")
	assert.False(t, allowed)
	assert.Equal(t, 500*time.Millisecond, state.RetryAfter)

	clock.Advance(500 * time.Millisecond)
	allowed, _, _ = l.Allow("moderate")
	assert.True(t, allowed)
}

func TestConfigure_DefaultsBurstAndDropsDisabled(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{
		"moderate": {RequestsPerSecond: 2},
		"batch":    {RequestsPerSecond: 0, Burst: 5},
	})

	_, state, ok := l.Allow("moderate")
	require.True(t, ok)
	assert.Equal(t, 2, state.Limit)

	_, _, ok = l.Allow("batch")
	assert.False(t, ok)
}

func TestConfigure_KeepsTokensCappedAtNewBurst(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{"moderate": {RequestsPerSecond: 1, Burst: 10}})
	l.Allow("moderate")

	l.Configure(map[string]Limit{"moderate": {RequestsPerSecond: 1, Burst: 2}})
	_, state, _ := l.Allow("moderate")
	assert.Equal(t, 2, state.Limit)
	assert.Equal(t, 1, state.Remaining)
}

func TestWriteHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	State{Limit: 5, Remaining: 0, RetryAfter: 1500 * time.Millisecond}.WriteHeaders(rec, false)

	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))

	rec = httptest.NewRecorder()
	State{Limit: 5, Remaining: 4}.WriteHeaders(rec, true)
	assert.Empty(t, rec.Header().Get("Retry-After"))
}

func TestAllow_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(map[string]Limit{"moderate": {RequestsPerSecond: 1, Burst: 50}})

	var granted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _, _ := l.Allow("moderate"); allowed {
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), granted.Load())
}
