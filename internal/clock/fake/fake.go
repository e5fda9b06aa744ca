// Package fake provides a manually advanced clock and scheduler for tests.
package fake

import (
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

// Clock is a poster.Clock and poster.Scheduler whose time only moves when
// Advance is called.
type Clock struct {
	mu      sync.Mutex
	now     time.Time
	seq     uint64
	pending []*timer
}

type timer struct {
	c       *Clock
	at      time.Time
	seq     uint64
	f       func()
	stopped bool
	fired   bool
}

// New returns a fake clock starting at start.
func New(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run when the clock is advanced past d.
func (c *Clock) AfterFunc(d time.Duration, f func()) poster.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{c: c, at: c.now.Add(d), seq: c.seq, f: f}
	c.pending = append(c.pending, t)
	return t
}

// Stop cancels the timer.
func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward by d and runs every due callback synchronously,
// in deadline order, outside the clock's lock.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due, keep []*timer
	for _, t := range c.pending {
		switch {
		case t.stopped:
		case !t.at.After(c.now):
			t.fired = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.pending = keep
	c.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].at.Equal(due[j].at) {
			return due[i].seq < due[j].seq
		}
		return due[i].at.Before(due[j].at)
	})
	for _, t := range due {
		t.f()
	}
}

// Pending returns the number of armed timers.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.pending {
		if !t.stopped {
			n++
		}
	}
	return n
}

var (
	_ poster.Clock     = (*Clock)(nil)
	_ poster.Scheduler = (*Clock)(nil)
)
