// Package countdown provides a deadline shared by every step of one
// conversion, so a sequence of driver calls cannot collectively run past the
// caller's budget.
package countdown

import (
	"context"
	"time"
)

// Timer is a monotonic deadline. A nil *Timer never expires.
type Timer struct {
	start    time.Time
	deadline time.Time
}

// New starts a timer that expires after d. A non-positive d yields a timer
// that is already expired.
func New(d time.Duration) *Timer {
	now := time.Now()
	return &Timer{start: now, deadline: now.Add(d)}
}

// Remaining returns the time left, never negative.
func (t *Timer) Remaining() time.Duration {
	if t == nil {
		return time.Duration(1<<63 - 1)
	}
	r := time.Until(t.deadline)
	if r < 0 {
		return 0
	}
	return r
}

// RemainingMillis returns the remaining budget in whole milliseconds.
func (t *Timer) RemainingMillis() int64 {
	return t.Remaining().Milliseconds()
}

// Expired reports whether the budget has run out.
func (t *Timer) Expired() bool {
	if t == nil {
		return false
	}
	return t.RemainingMillis() <= 0
}

// Elapsed returns how long the timer has been running.
func (t *Timer) Elapsed() time.Duration {
	if t == nil {
		return 0
	}
	return time.Since(t.start)
}

// Deadline returns the absolute deadline; ok is false for a nil timer.
func (t *Timer) Deadline() (deadline time.Time, ok bool) {
	if t == nil {
		return time.Time{}, false
	}
	return t.deadline, true
}

// Context bounds parent by the timer's current remaining budget. With a nil
// timer the parent is returned unchanged (with a no-op cancel).
func (t *Timer) Context(parent context.Context) (context.Context, context.CancelFunc) {
	if t == nil {
		return context.WithCancel(parent)
	}
	return context.WithDeadline(parent, t.deadline)
}
