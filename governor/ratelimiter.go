package governor

import (
	"sync"
	"time"

	"github.com/tasknet-io/tasknet/types"
)

// RateLimiter is a fixed-window admission counter. A window opens on the
// first admission and every admission within it increments the count until
// the limit is reached; once elapsed time exceeds the window, the next
// admission opens a fresh window with count 1.
type RateLimiter struct {
	mu          sync.Mutex
	limit       *int
	window      time.Duration
	count       int
	windowStart time.Time
	now         func() time.Time
}

// NewRateLimiter creates a limiter admitting at most limit calls per
// window. A nil limit always admits, used where admission is instead gated
// by a concurrent in-flight ceiling rather than a time quota.
func NewRateLimiter(limit *int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, now: time.Now}
}

// Admit reports whether a call may proceed, returning a RATE_LIMITED error
// when the current window's quota is exhausted.
func (l *RateLimiter) Admit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limit == nil {
		return nil
	}

	now := l.now()
	if l.windowStart.IsZero() || now.Sub(l.windowStart) > l.window {
		l.windowStart = now
		l.count = 1
		return nil
	}

	if l.count < *l.limit {
		l.count++
		return nil
	}

	return types.Errorf(types.ErrRateLimited, "rate limit %d per %s exceeded", *l.limit, l.window).
		WithRetryable(true)
}

// Snapshot returns the limiter's current window state.
func (l *RateLimiter) Snapshot() RateLimiterState {
	l.mu.Lock()
	defer l.mu.Unlock()

	state := RateLimiterState{Window: l.window, Count: l.count}
	if l.limit != nil {
		limit := *l.limit
		state.Limit = &limit
	}
	if !l.windowStart.IsZero() {
		start := l.windowStart
		state.WindowStart = &start
	}
	return state
}

// RateLimiterState is a point-in-time view of a RateLimiter.
type RateLimiterState struct {
	Limit       *int          `json:"limit,omitempty"`
	Window      time.Duration `json:"window"`
	Count       int           `json:"count"`
	WindowStart *time.Time    `json:"window_start,omitempty"`
}
