package httpapi

import (
	"sync"
	"time"
)

// SlidingWindowLimiter enforces a maximum number of route computations within
// a rolling time window. A zero window or limit disables the limiter.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu   sync.Mutex
	hits []time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit requests
// per window.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{window: window, limit: limit, now: timeSource}
}

// Allow reports whether the caller may proceed under the current rate limits.
func (l *SlidingWindowLimiter) Allow() bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	//1.- Drop hits that aged out of the window before counting.
	expired := 0
	for expired < len(l.hits) && !l.hits[expired].After(cutoff) {
		expired++
	}
	l.hits = l.hits[expired:]

	if len(l.hits) >= l.limit {
		return false
	}
	l.hits = append(l.hits, l.now())
	return true
}
