// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestAfterFuncFires checks the scheduler runs the callback.
func TestAfterFuncFires(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	New().AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback did not fire")
	}
}

// TestAfterFuncStop verifies a stopped timer never runs.
func TestAfterFuncStop(t *testing.T) {
	t.Parallel()

	fired := make(chan struct{}, 1)
	timer := New().AfterFunc(time.Hour, func() { fired <- struct{}{} })
	if !timer.Stop() {
		t.Fatal("expected Stop to report a pending timer")
	}
	select {
	case <-fired:
		t.Fatal("stopped timer fired")
	default:
	}
}
