// Package progress provides the event primitives, non-blocking hub, and emitter
// interfaces that loaders and the bulk scanner use to report what they are
// doing. The hub batches events on a background goroutine and fans them out to
// pluggable sinks such as structured logs or Prometheus metrics.
package progress
