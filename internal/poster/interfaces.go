package poster

import (
	"context"
	"io"
	"time"
)

// Prober issues a single load attempt for a URL. A nil error means the
// resource loaded; any error means it did not.
type Prober interface {
	Probe(ctx context.Context, url string) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, url string) error

// Probe calls f(ctx, url).
func (f ProberFunc) Probe(ctx context.Context, url string) error {
	return f(ctx, url)
}

// Catalog exposes the read-only list of posters known to the application.
type Catalog interface {
	ListResources(ctx context.Context) ([]ResourceRef, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Timer is a pending scheduled callback.
type Timer interface {
	// Stop prevents the callback from firing. It reports whether the call
	// stopped the timer before it fired.
	Stop() bool
}

// Scheduler schedules callbacks after a delay. Loaders and scanners receive it
// explicitly so tests can fire timeouts deterministically.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// IDGenerator produces scan run IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// BlobStore writes report artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}
