// Package limits provides the admission-control rate limiters used by the
// request layer: a sliding-window limiter keyed by caller identity, and a
// token-bucket connection-attempt limiter for burst flood protection.
package limits

import (
	"sync"
	"time"
)

// SlidingWindow counts requests per key over a trailing time window.
// Timestamps older than the window are pruned before each decision, so the
// per-key sequence never holds more than limit entries after a decision.
// Absence of a key is equivalent to an empty, freshly initialized window.
type SlidingWindow struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	byKey  map[string][]time.Time
}

// NewSlidingWindow creates a limiter allowing limit requests per key within
// the trailing window.
func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:  limit,
		window: window,
		byKey:  make(map[string][]time.Time),
	}
}

// Allow decides one admission for key at the given instant. Denials are not
// recorded, so a flood of rejected requests cannot extend its own penalty.
func (l *SlidingWindow) Allow(key string, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	seq := l.byKey[key]

	// Prune in place; entries are appended in time order.
	kept := seq[:0]
	for _, t := range seq {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= l.limit {
		l.byKey[key] = kept
		return false
	}

	l.byKey[key] = append(kept, now)
	return true
}

// Sweep drops keys whose entire window is stale. Safe to skip: a missing
// key behaves exactly like an empty window, so sweeping only reclaims
// memory.
func (l *SlidingWindow) Sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	for key, seq := range l.byKey {
		if len(seq) == 0 || !seq[len(seq)-1].After(cutoff) {
			delete(l.byKey, key)
		}
	}
}

// Pending returns the number of recorded timestamps still inside the window
// for key. Intended for tests and diagnostics.
func (l *SlidingWindow) Pending(key string, now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := now.Add(-l.window)
	n := 0
	for _, t := range l.byKey[key] {
		if t.After(cutoff) {
			n++
		}
	}
	return n
}
