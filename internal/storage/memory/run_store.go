package memory

import (
	"sync"

	"github.com/JakeFAU/posterwatch/internal/scanner"
)

// RunStore keeps the most recent scan run. Each new run replaces the previous
// one; no history is retained. It is a scanner observer, so the stored run is
// live while a scan progresses.
type RunStore struct {
	mu     sync.RWMutex
	latest *scanner.Run
}

// NewRunStore creates an empty RunStore.
func NewRunStore() *RunStore {
	return &RunStore{}
}

// RunStarted replaces the stored run with the freshly started one.
func (s *RunStore) RunStarted(run scanner.Run) {
	s.put(run)
}

// Observe records the snapshot published after an entry changed.
func (s *RunStore) Observe(run scanner.Run, _ int) {
	s.put(run)
}

// RunFinished records the final run.
func (s *RunStore) RunFinished(run scanner.Run) {
	s.put(run)
}

func (s *RunStore) put(run scanner.Run) {
	run = run.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &run
}

// Latest returns a copy of the most recent run.
func (s *RunStore) Latest() (scanner.Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return scanner.Run{}, false
	}
	return s.latest.Clone(), true
}

var (
	_ scanner.Observer    = (*RunStore)(nil)
	_ scanner.RunStarter  = (*RunStore)(nil)
	_ scanner.RunFinisher = (*RunStore)(nil)
)
