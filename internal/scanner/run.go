// Package scanner audits poster origin URLs in bulk, probing each with a
// bounded single-stage check and publishing live progress.
package scanner

import (
	"time"
)

// Status is the lifecycle of one scan entry: Pending, Testing, then Ok or
// Error.
type Status string

// Entry statuses.
const (
	StatusPending Status = "pending"
	StatusTesting Status = "testing"
	StatusOk      Status = "ok"
	StatusError   Status = "error"
)

// Terminal reports whether the status is final for the run.
func (s Status) Terminal() bool {
	return s == StatusOk || s == StatusError
}

// Entry is the scan state of one resource.
type Entry struct {
	ResourceID string        `json:"resource_id"`
	Title      string        `json:"title,omitempty"`
	URL        string        `json:"url"`
	Status     Status        `json:"status"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ns,omitempty"`
}

// Run is one pass over a resource list. Entries keep input order.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Entries    []Entry   `json:"entries"`
	// Canceled is set when the run stopped before every entry resolved.
	Canceled bool `json:"canceled,omitempty"`
}

// Clone returns a deep copy safe to hand to observers.
func (r Run) Clone() Run {
	r.Entries = append([]Entry(nil), r.Entries...)
	return r
}

// Done reports whether the run has finished.
func (r Run) Done() bool {
	return !r.FinishedAt.IsZero()
}

// ErrorCount returns how many entries resolved Error.
func (r Run) ErrorCount() int {
	return r.Counts()[StatusError]
}

// Counts tallies entries by status. Every status is present in the result.
func (r Run) Counts() map[Status]int {
	counts := map[Status]int{
		StatusPending: 0,
		StatusTesting: 0,
		StatusOk:      0,
		StatusError:   0,
	}
	for _, e := range r.Entries {
		counts[e.Status]++
	}
	return counts
}

// Observer receives a read-only snapshot of the run and the index of the
// entry that changed after every publish.
type Observer interface {
	Observe(run Run, index int)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(run Run, index int)

// Observe calls f(run, index).
func (f ObserverFunc) Observe(run Run, index int) { f(run, index) }
