package gateway

import (
	"sync"
	"sync/atomic"
	"time"
)

// Limiter is a fixed-window request counter keyed by an arbitrary string
// (client address or route name). Every window gets its own bucket, so a
// rollover can never erase requests counted concurrently.
type Limiter struct {
	window time.Duration
	limit  int64

	buckets sync.Map // map[string]*bucket

	// now is swappable for tests.
	now func() time.Time
}

// bucket counts requests for a single window. start never changes; the
// rollover swaps the whole bucket instead.
type bucket struct {
	start int64 // unix nanos
	count atomic.Int64
}

// NewLimiter creates a limiter allowing limit requests per key per window.
// A non-positive limit or window disables the limiter.
func NewLimiter(limit int64, window time.Duration) *Limiter {
	return &Limiter{
		window: window,
		limit:  limit,
		now:    time.Now,
	}
}

// Allow records one request for key and reports whether it is within
// quota.
func (l *Limiter) Allow(key string) bool {
	if l.limit <= 0 || l.window <= 0 {
		return true
	}

	now := l.now().UnixNano()
	for {
		v, _ := l.buckets.LoadOrStore(key, &bucket{start: now})
		b := v.(*bucket)
		if now-b.start < int64(l.window) {
			return b.count.Add(1) <= l.limit
		}
		// Window over. Losing this swap means another caller already
		// installed the fresh bucket; reload and count there.
		l.buckets.CompareAndSwap(key, v, &bucket{start: now})
	}
}
