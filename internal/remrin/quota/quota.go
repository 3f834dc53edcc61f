// Package quota enforces the per-user daily message quota.
package quota

import (
	"sync"
	"time"

	"github.com/bdobrica/Remrin/internal/remrin/cache"
)

const (
	// DefaultDailyQuota is the number of turns a user may start per window.
	DefaultDailyQuota = 50
	// DefaultWindow is the sliding window length.
	DefaultWindow = 24 * time.Hour

	// Message is the reply sent to a user over quota.
	Message = "You've reached today's message limit. Come back tomorrow."
)

// Limiter is a sliding-window counter keyed by user. It holds at most limit
// timestamps per active user and prunes stale ones on every call.
// Safe for concurrent use.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	clock    cache.Clock
	counters map[string][]time.Time
}

// NewLimiter returns a Limiter allowing limit turns per window. Non-positive
// values take the defaults; a nil clock uses the wall clock.
func NewLimiter(limit int, window time.Duration, clock cache.Clock) *Limiter {
	if limit <= 0 {
		limit = DefaultDailyQuota
	}
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = cache.SystemClock
	}
	return &Limiter{limit: limit, window: window, clock: clock, counters: make(map[string][]time.Time)}
}

// Allow records a turn for userID and reports whether it is within quota.
// Refused turns are not recorded.
func (l *Limiter) Allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	valid := l.prune(userID, now)
	if len(valid) >= l.limit {
		return false
	}
	l.counters[userID] = append(valid, now)
	return true
}

// Refund removes the most recent turn recorded for userID, for turns that
// ended without a reply from the model.
func (l *Limiter) Refund(userID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := l.counters[userID]
	if len(ts) == 0 {
		return
	}
	l.counters[userID] = ts[:len(ts)-1]
}

// Remaining returns how many turns userID may still start in the window.
func (l *Limiter) Remaining(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return max(l.limit-len(l.prune(userID, l.clock.Now())), 0)
}

// Limit is the configured quota.
func (l *Limiter) Limit() int { return l.limit }

func (l *Limiter) prune(userID string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	existing := l.counters[userID]
	valid := existing[:0]
	for _, t := range existing {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	if len(valid) == 0 {
		delete(l.counters, userID)
		return nil
	}
	l.counters[userID] = valid
	return valid
}
