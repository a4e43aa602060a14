// Package ratelimit holds the sliding-window admission check and the
// shared exponential backoff used by the fetch paths.
package ratelimit

import (
	"sync"
	"time"
)

// Window admits at most limit attempts in any trailing period of length span.
type Window struct {
	mu     sync.Mutex
	limit  int
	span   time.Duration
	stamps []time.Time
	now    func() time.Time
}

// NewWindow creates a limiter admitting limit attempts per span.
func NewWindow(limit int, span time.Duration) *Window {
	return &Window{
		limit: limit,
		span:  span,
		now:   time.Now,
	}
}

// Admit records an attempt and reports true, or reports false without
// recording when the window is already full.
func (w *Window) Admit() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.trim(now)
	if len(w.stamps) >= w.limit {
		return false
	}
	w.stamps = append(w.stamps, now)
	return true
}

// Len returns the number of attempts inside the current window.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.trim(w.now())
	return len(w.stamps)
}

// Limit returns the ceiling.
func (w *Window) Limit() int {
	return w.limit
}

// Span returns the length of the trailing window.
func (w *Window) Span() time.Duration {
	return w.span
}

func (w *Window) trim(now time.Time) {
	cutoff := now.Add(-w.span)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}
