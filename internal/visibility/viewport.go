package visibility

import "sync"

// DefaultMargin extends the viewport on both edges so posters start loading
// shortly before they scroll into view.
const DefaultMargin = 200

// Viewport is a one-dimensional region observer. Elements are tracked by their
// vertical extent; scrolling fires every element that intersects the visible
// window expanded by Margin.
type Viewport struct {
	mu      sync.Mutex
	height  int
	margin  int
	offset  int
	pending map[*Latch]span
	closed  bool
}

type span struct {
	top, bottom int
}

// NewViewport returns a viewport of the given height scrolled to offset 0. A
// negative margin selects DefaultMargin.
func NewViewport(height, margin int) *Viewport {
	if margin < 0 {
		margin = DefaultMargin
	}
	if height < 0 {
		height = 0
	}
	return &Viewport{
		height:  height,
		margin:  margin,
		pending: make(map[*Latch]span),
	}
}

// Track registers an element occupying [top, top+height) and returns its
// trigger. An element already in range fires immediately.
func (v *Viewport) Track(top, height int) Trigger {
	l := NewLatch()
	if height < 1 {
		height = 1
	}
	s := span{top: top, bottom: top + height}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return l
	}
	if v.intersectsLocked(s) {
		l.Fire()
		return l
	}
	v.pending[l] = s
	return l
}

// ScrollTo moves the window and fires every pending element that now
// intersects it. Fired elements are no longer tracked.
func (v *Viewport) ScrollTo(offset int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.offset = offset
	for l, s := range v.pending {
		if v.intersectsLocked(s) {
			l.Fire()
			delete(v.pending, l)
		}
	}
}

// Pending returns how many tracked elements have not fired yet.
func (v *Viewport) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.pending)
}

// Close stops observing. Pending triggers never fire.
func (v *Viewport) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	clear(v.pending)
}

func (v *Viewport) intersectsLocked(s span) bool {
	lo := v.offset - v.margin
	hi := v.offset + v.height + v.margin
	return s.bottom > lo && s.top < hi
}
