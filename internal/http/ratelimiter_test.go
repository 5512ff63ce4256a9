package httpapi

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiterBoundsRouteBurst(t *testing.T) {
	start := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	//1.- Staggered hits fill the window without tripping the limit.
	if !limiter.Allow() {
		t.Fatal("first request must pass")
	}
	now = start.Add(20 * time.Second)
	if !limiter.Allow() {
		t.Fatal("second request must pass")
	}
	now = start.Add(30 * time.Second)
	if limiter.Allow() {
		t.Fatal("request past the burst must be denied")
	}

	//2.- The window slides: only the first hit has aged out here, so exactly
	// one slot frees up.
	now = start.Add(61 * time.Second)
	if !limiter.Allow() {
		t.Fatal("expired hit must free one slot")
	}
	now = start.Add(70 * time.Second)
	if limiter.Allow() {
		t.Fatal("the second hit is still inside the window")
	}
	now = start.Add(81 * time.Second)
	if !limiter.Allow() {
		t.Fatal("the second hit aged out, another slot must free up")
	}
}

func TestSlidingWindowLimiterDisabledConfigurations(t *testing.T) {
	cases := []struct {
		name   string
		window time.Duration
		limit  int
	}{
		{"zero window", 0, 5},
		{"zero limit", time.Minute, 0},
		{"both zero", 0, 0},
	}
	for _, tc := range cases {
		limiter := NewSlidingWindowLimiter(tc.window, tc.limit, nil)
		for i := 0; i < 10; i++ {
			if !limiter.Allow() {
				t.Fatalf("%s: limiter must be disabled", tc.name)
			}
		}
	}
}

func TestSlidingWindowLimiterNilReceiver(t *testing.T) {
	var limiter *SlidingWindowLimiter
	if !limiter.Allow() {
		t.Fatal("nil limiter must allow")
	}
}
