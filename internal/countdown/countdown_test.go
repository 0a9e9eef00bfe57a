package countdown

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNilTimerNeverExpires(t *testing.T) {
	var tm *Timer
	if tm.Expired() {
		t.Error("nil timer should not expire")
	}
	if _, ok := tm.Deadline(); ok {
		t.Error("nil timer should have no deadline")
	}
	ctx, cancel := tm.Context(context.Background())
	defer cancel()
	if _, ok := ctx.Deadline(); ok {
		t.Error("nil timer context should carry no deadline")
	}
}

func TestZeroBudgetIsExpired(t *testing.T) {
	tm := New(0)
	if !tm.Expired() {
		t.Error("zero budget should be expired")
	}
	if got := tm.RemainingMillis(); got != 0 {
		t.Errorf("RemainingMillis() = %d, want 0", got)
	}
}

func TestRemainingDecreases(t *testing.T) {
	tm := New(time.Second)
	first := tm.Remaining()
	time.Sleep(5 * time.Millisecond)
	if second := tm.Remaining(); second >= first {
		t.Errorf("remaining did not decrease: %v then %v", first, second)
	}
	if tm.Elapsed() <= 0 {
		t.Error("elapsed should be positive")
	}
}

func TestContextUsesSharedDeadline(t *testing.T) {
	tm := New(20 * time.Millisecond)
	ctx, cancel := tm.Context(context.Background())
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("context did not expire with the timer")
	}
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		t.Errorf("ctx.Err() = %v, want deadline exceeded", ctx.Err())
	}
	if !tm.Expired() {
		t.Error("timer should report expired after its context did")
	}
}
