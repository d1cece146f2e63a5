package api

import (
	"sync"
	"time"
)

// SlidingWindowLimiter enforces "N events per window" per key, used for the
// per-account payment-intent limiter and the per-agent claim limiter of
// spec §5 ("Backpressure").
type SlidingWindowLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	events map[string][]time.Time
}

func NewSlidingWindowLimiter(limit int, window time.Duration) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		limit:  limit,
		window: window,
		events: make(map[string][]time.Time),
	}
}

// Allow records an event for key at now and reports whether it stayed
// within the limit. Rejected events are not recorded, so a caller can
// retry once earlier events age out.
func (l *SlidingWindowLimiter) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	kept := l.events[key][:0]
	for _, t := range l.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= l.limit {
		l.events[key] = kept
		return false
	}
	l.events[key] = append(kept, now)
	return true
}
