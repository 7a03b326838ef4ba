// Package timer computes attempt deadlines from the wall-clock start time
// and fires a one-shot forced submission when the deadline passes.
package timer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Deadline is the absolute instant an attempt started at startedAt expires.
func Deadline(startedAt time.Time, duration time.Duration) time.Time {
	return startedAt.Add(duration)
}

// Remaining returns max(0, duration - (now - startedAt)), rounded up to
// whole seconds so it only reaches zero once the deadline has passed.
func Remaining(startedAt time.Time, duration time.Duration, now time.Time) time.Duration {
	left := duration - now.Sub(startedAt)
	if left <= 0 {
		return 0
	}
	return (left + time.Second - 1).Truncate(time.Second)
}

// ClampElapsed returns the elapsed wall-clock seconds since startedAt,
// capped at duration and never negative.
func ClampElapsed(startedAt time.Time, duration time.Duration, now time.Time) int {
	elapsed := now.Sub(startedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	if elapsed > duration {
		elapsed = duration
	}
	return int(elapsed / time.Second)
}

// Countdown tracks one attempt's deadline and calls onExpire exactly once
// when Tick observes that no time remains.
type Countdown struct {
	startedAt time.Time
	duration  time.Duration
	onExpire  func()

	once  sync.Once
	fired bool
	mu    sync.Mutex
}

// NewCountdown creates a Countdown anchored at startedAt.
func NewCountdown(startedAt time.Time, duration time.Duration, onExpire func()) *Countdown {
	return &Countdown{startedAt: startedAt, duration: duration, onExpire: onExpire}
}

// Deadline returns the absolute expiry instant.
func (c *Countdown) Deadline() time.Time {
	return Deadline(c.startedAt, c.duration)
}

// Tick recomputes the remaining time at now and fires the expiry callback
// the first time it reaches zero. It is safe to call from many goroutines.
func (c *Countdown) Tick(now time.Time) time.Duration {
	left := Remaining(c.startedAt, c.duration, now)
	if left == 0 {
		c.once.Do(func() {
			c.mu.Lock()
			c.fired = true
			c.mu.Unlock()
			if c.onExpire != nil {
				c.onExpire()
			}
		})
	}
	return left
}

// Fired reports whether the expiry callback has run.
func (c *Countdown) Fired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fired
}

// Run ticks every interval until the deadline fires or ctx is done.
// now supplies the wall clock; pass time.Now outside tests.
func (c *Countdown) Run(ctx context.Context, interval time.Duration, now func() time.Time) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	if c.Tick(now()) == 0 {
		return
	}
	for {
		select {
		case <-ctx.Done():
			slog.Debug("countdown stopped", "reason", ctx.Err())
			return
		case <-ticker.C:
			if c.Tick(now()) == 0 {
				return
			}
		}
	}
}
