// Package progress defines the event structures emitted by loaders and scans.
package progress

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Kind denotes the milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindScanStart    Kind = "SCAN_START"
	KindScanTesting  Kind = "SCAN_TESTING"
	KindScanResolved Kind = "SCAN_RESOLVED"
	KindScanDone     Kind = "SCAN_DONE"

	KindLoaderStage  Kind = "LOADER_STAGE"
	KindLoaderLoaded Kind = "LOADER_LOADED"
	KindLoaderFailed Kind = "LOADER_FAILED"
	KindLoaderRetry  Kind = "LOADER_RETRY"
)

// Event captures a single step of a scan run or a loader's lifecycle.
type Event struct {
	// RunID identifies the scan run in 16-byte UUID form. Loader events leave
	// it zero.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	Kind Kind
	// ResourceID is the catalog identifier of the poster, when known.
	ResourceID string
	// URL is the address being probed or displayed.
	URL string
	// Site is the lowercase host of URL.
	Site string
	// Status carries the scan entry status or the loader stage.
	Status string
	// Index is the entry position within a scan run.
	Index int
	// Dur captures probe latency or total run time.
	Dur time.Duration
	// Note lets emitters attach low-volume context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindScanStart, KindScanDone:
		if e.RunID == [16]byte{} {
			return errors.New("scan events require run id")
		}
	case KindScanTesting, KindScanResolved:
		if e.RunID == [16]byte{} {
			return errors.New("scan events require run id")
		}
		if e.Index < 0 {
			return errors.New("entry index must be >= 0")
		}
		if e.Kind == KindScanResolved && e.Status == "" {
			return errors.New("resolved entry requires status")
		}
	case KindLoaderStage:
		if e.Status == "" {
			return errors.New("loader stage event requires stage")
		}
	case KindLoaderLoaded, KindLoaderFailed, KindLoaderRetry:
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// ParseRunID decodes a string run ID. Malformed IDs yield the zero value.
func ParseRunID(id string) [16]byte {
	u, err := uuid.Parse(id)
	if err != nil {
		return [16]byte{}
	}
	return UUIDToBytes(u)
}

// SiteOf returns the lowercase host of rawURL, or "" when it has none.
func SiteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
