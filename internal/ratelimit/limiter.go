// Package ratelimit gates how many state-changing events a session may emit.
package ratelimit

import (
	"sync"
	"time"
)

// Window is the per-session counter state. It lives on the session and is
// reset lazily.
type Window struct {
	mu    sync.Mutex
	count int
	reset time.Time
}

// Count returns the number of events counted in the current window.
func (w *Window) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Limiter allows up to Capacity events per Period for each window.
type Limiter struct {
	capacity int
	period   time.Duration
}

// NewLimiter builds a limiter; non-positive arguments fall back to 60/min.
func NewLimiter(capacity int, period time.Duration) *Limiter {
	if capacity <= 0 {
		capacity = 60
	}
	if period <= 0 {
		period = time.Minute
	}
	return &Limiter{capacity: capacity, period: period}
}

// Capacity returns the number of events allowed per window.
func (l *Limiter) Capacity() int { return l.capacity }

// Allow counts one event against w at now and reports whether it is within
// capacity. When now is past the window boundary the counter restarts and a
// new boundary is set.
func (l *Limiter) Allow(w *Window, now time.Time) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.reset.IsZero() || now.After(w.reset) {
		w.count = 0
		w.reset = now.Add(l.period)
	}
	w.count++
	return w.count <= l.capacity
}
