package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultBackoffFloor = 1 * time.Second
	DefaultBackoffMax   = 60 * time.Second
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff is an exponential delay shared by every caller of one fetch path.
// The delay doubles on each throttle signal up to max and resets to floor
// on success.
type Backoff struct {
	mu      sync.Mutex
	floor   time.Duration
	max     time.Duration
	current time.Duration
	sleep   SleepFunc
}

// NewBackoff creates a controller starting at floor. Zero values select
// the defaults.
func NewBackoff(floor, max time.Duration) *Backoff {
	if floor <= 0 {
		floor = DefaultBackoffFloor
	}
	if max < floor {
		max = DefaultBackoffMax
		if max < floor {
			max = floor
		}
	}
	return &Backoff{
		floor:   floor,
		max:     max,
		current: floor,
		sleep:   Sleep,
	}
}

// WithSleep replaces the blocking function. Used by tests.
func (b *Backoff) WithSleep(fn SleepFunc) *Backoff {
	b.sleep = fn
	return b
}

// OnThrottled doubles the delay and blocks the caller for it. It returns
// early with the context error when ctx ends.
func (b *Backoff) OnThrottled(ctx context.Context) error {
	b.mu.Lock()
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	d := b.current
	b.mu.Unlock()

	return b.sleep(ctx, d)
}

// OnSuccess resets the delay to the floor.
func (b *Backoff) OnSuccess() {
	b.mu.Lock()
	b.current = b.floor
	b.mu.Unlock()
}

// Current returns the delay the next throttle would build on.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.current
}
