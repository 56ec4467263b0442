package ratelimit

import (
	"sync"
	"time"
)

// Limiter is a sliding-window submission limiter keyed by client identifier
// (normally the source address). The check-and-increment is one atomic step
// per key, so two requests racing at the window boundary cannot both slip
// through.
type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

// New creates a limiter allowing max submissions per key within window.
func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow records a submission attempt for key and reports whether it is
// within the window limit. Rejected attempts are not recorded.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	live := l.pruneLocked(key, now)
	if len(live) >= l.max {
		return false
	}
	l.hits[key] = append(live, now)
	return true
}

// Remaining returns how many submissions key has left in the current window.
func (l *Limiter) Remaining(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	live := l.pruneLocked(key, l.now())
	if left := l.max - len(live); left > 0 {
		return left
	}
	return 0
}

// Evict drops keys whose entire window has lapsed, bounding memory for
// inactive clients. Called periodically by the janitor.
func (l *Limiter) Evict() {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key := range l.hits {
		if live := l.pruneLocked(key, now); len(live) == 0 {
			delete(l.hits, key)
		}
	}
}

// pruneLocked drops hits older than the window and stores the survivors.
func (l *Limiter) pruneLocked(key string, now time.Time) []time.Time {
	all := l.hits[key]
	live := all[:0]
	for _, t := range all {
		if now.Sub(t) < l.window {
			live = append(live, t)
		}
	}
	if len(live) == 0 && len(all) > 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = live
	return live
}
