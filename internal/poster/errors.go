package poster

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrTransport classifies failed or non-success remote fetches.
	ErrTransport = errors.New("transport error")
	// ErrTimeout classifies bounded waits that expired without a resolution.
	ErrTimeout = errors.New("timeout")
	// ErrEmptyReference is returned when a resource has no origin URL.
	ErrEmptyReference = errors.New("empty resource reference")
)

// TransportError describes a fetch that failed or returned a non-success
// response.
type TransportError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s failed", e.URL)
	}
}

// Unwrap exposes both ErrTransport and the underlying cause to errors.Is.
func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

// TimeoutError reports that a probe did not resolve within its bound.
type TimeoutError struct {
	URL   string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("probe %s: no response after %s", e.URL, e.After)
}

// Unwrap lets errors.Is match ErrTimeout.
func (e *TimeoutError) Unwrap() error {
	return ErrTimeout
}

// Classify maps an error onto the taxonomy label used in logs, metrics, and
// reports.
func Classify(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrEmptyReference):
		return "empty_reference"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	default:
		return "transport"
	}
}
