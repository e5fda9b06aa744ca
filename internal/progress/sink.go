package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls, honor ctx deadlines, and may be invoked concurrently.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so loaders
// and scanners stay agnostic about how events are buffered.
type Emitter interface {
	Emit(evt Event)
}

// Nop discards every event.
type Nop struct{}

// Emit implements Emitter.
func (Nop) Emit(Event) {}

// EmitterFunc adapts a function to the Emitter interface.
type EmitterFunc func(Event)

// Emit calls f(evt).
func (f EmitterFunc) Emit(evt Event) { f(evt) }
