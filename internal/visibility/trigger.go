// Package visibility provides single-shot signals that tell a loader its
// poster has become eligible to load.
package visibility

import "sync"

// Trigger fires at most once. The returned channel is closed when it fires.
type Trigger interface {
	Signal() <-chan struct{}
}

var fired = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

type immediate struct{}

func (immediate) Signal() <-chan struct{} { return fired }

// Immediate returns a Trigger that has already fired. Eager resources use it.
func Immediate() Trigger {
	return immediate{}
}

// Latch is a manually fired Trigger. The zero value is ready to use.
type Latch struct {
	once sync.Once
	mu   sync.Mutex
	ch   chan struct{}
}

// NewLatch returns an unfired Latch.
func NewLatch() *Latch {
	return &Latch{}
}

func (l *Latch) chanLocked() chan struct{} {
	if l.ch == nil {
		l.ch = make(chan struct{})
	}
	return l.ch
}

// Signal implements Trigger.
func (l *Latch) Signal() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chanLocked()
}

// Fire fires the latch. Subsequent calls are no-ops.
func (l *Latch) Fire() {
	l.once.Do(func() {
		l.mu.Lock()
		close(l.chanLocked())
		l.mu.Unlock()
	})
}

// Fired reports whether Fire has been called.
func (l *Latch) Fired() bool {
	select {
	case <-l.Signal():
		return true
	default:
		return false
	}
}
