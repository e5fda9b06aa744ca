// Package system provides the real clock and timer scheduler.
package system

import (
	"time"

	"github.com/JakeFAU/posterwatch/internal/poster"
)

// Clock implements poster.Clock and poster.Scheduler on top of the runtime
// timer wheel.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// AfterFunc runs f in its own goroutine after d.
func (Clock) AfterFunc(d time.Duration, f func()) poster.Timer {
	return time.AfterFunc(d, f)
}

var (
	_ poster.Clock     = Clock{}
	_ poster.Scheduler = Clock{}
)
