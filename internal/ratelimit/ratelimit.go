// Package ratelimit implements the per-identity sliding-window limiter that
// guards payment initiation against repeated attempts.
package ratelimit

import (
	"fmt"
	"sync"
	"time"
)

var ErrLimited = fmt.Errorf("too many payment attempts")

// LimitError is returned when an identity has exhausted its attempt budget.
// RetryAfter is how long until the oldest recorded attempt leaves the window.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("too many payment attempts, retry in %s", e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return ErrLimited }

// Limiter counts attempts per identity over a sliding window. The window is
// evaluated relative to now on every call, not on a periodic reset.
type Limiter struct {
	window time.Duration
	max    int

	mu       sync.Mutex
	attempts map[string][]time.Time

	now func() time.Time
}

func New(window time.Duration, max int) *Limiter {
	return &Limiter{
		window:   window,
		max:      max,
		attempts: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Allow records an attempt for identity, or returns a LimitError without
// recording when the window already holds max attempts.
func (l *Limiter) Allow(identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	recent := l.attempts[identity][:0]
	for _, at := range l.attempts[identity] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= l.max {
		l.attempts[identity] = recent
		return &LimitError{RetryAfter: recent[0].Sub(cutoff)}
	}

	l.attempts[identity] = append(recent, now)
	return nil
}

// Sweep drops identities whose every attempt has aged out of the window, so
// the map does not grow with each phone number ever seen.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-l.window)
	for identity, attempts := range l.attempts {
		stale := true
		for _, at := range attempts {
			if at.After(cutoff) {
				stale = false
				break
			}
		}
		if stale {
			delete(l.attempts, identity)
		}
	}
}
