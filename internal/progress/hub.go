package progress

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Config controls buffering and batching for the Hub.
//   - BufferSize: size of the internal channel (default 1024).
//   - MaxBatchEvents: flush once this many events queue (default 256).
//   - MaxBatchWait: flush after this duration even if the batch is small (default 250ms).
//   - SinkTimeout: per-sink timeout while flushing (default 5s).
//   - Now: timestamp source for events emitted without TS (defaults to UTC wall time).
//   - Logger: optional structured logger used for warnings.
type Config struct {
	BufferSize     int
	MaxBatchEvents int
	MaxBatchWait   time.Duration
	SinkTimeout    time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
}

const (
	defaultBufferSize     = 1024
	defaultMaxBatchEvents = 256
	defaultMaxBatchWait   = 250 * time.Millisecond
	defaultSinkTimeout    = 5 * time.Second
	dropLogInterval       = 5 * time.Second
)

// Stats reports hub throughput counters.
type Stats struct {
	Accepted int64
	Dropped  int64
	Flushes  int64
}

// Hub aggregates Event streams and fans them out to registered sinks. It is
// safe for concurrent use and never blocks callers.
type Hub struct {
	cfg      Config
	sinks    []Sink
	events   chan Event
	stopCh   chan struct{}
	doneCh   chan struct{}
	logger   *zap.Logger
	lastDrop atomic.Int64

	accepted      atomic.Int64
	dropped       atomic.Int64
	droppedSince  atomic.Int64
	flushes       atomic.Int64
	closed        atomic.Bool
	closeOnce     sync.Once
	closeDeadline context.Context
}

// NewHub initializes a Hub and starts the background batching goroutine.
func NewHub(cfg Config, sinks ...Sink) *Hub {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.MaxBatchEvents <= 0 {
		cfg.MaxBatchEvents = defaultMaxBatchEvents
	}
	if cfg.MaxBatchWait <= 0 {
		cfg.MaxBatchWait = defaultMaxBatchWait
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		cfg:    cfg,
		events: make(chan Event, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: logger,
	}
	for _, s := range sinks {
		if s != nil {
			h.sinks = append(h.sinks, s)
		}
	}
	go h.run()
	return h
}

// Emit enqueues an Event for batching. Events without a timestamp are stamped
// here. If the buffer is full the event is dropped and a rate-limited warning
// is logged.
func (h *Hub) Emit(evt Event) {
	if h == nil || h.closed.Load() {
		return
	}
	if evt.TS.IsZero() {
		evt.TS = h.cfg.Now()
	}
	if err := evt.Validate(); err != nil {
		h.logger.Debug("discarding invalid progress event", zap.Error(err))
		return
	}
	select {
	case h.events <- evt:
		h.accepted.Add(1)
	default:
		h.dropped.Add(1)
		h.droppedSince.Add(1)
		h.warnDropped()
	}
}

func (h *Hub) warnDropped() {
	now := time.Now().UnixNano()
	last := h.lastDrop.Load()
	if now-last < dropLogInterval.Nanoseconds() || !h.lastDrop.CompareAndSwap(last, now) {
		return
	}
	h.logger.Warn("progress events dropped due to backpressure",
		zap.Int64("dropped", h.droppedSince.Swap(0)))
}

// Stats returns a snapshot of the hub counters.
func (h *Hub) Stats() Stats {
	if h == nil {
		return Stats{}
	}
	return Stats{
		Accepted: h.accepted.Load(),
		Dropped:  h.dropped.Load(),
		Flushes:  h.flushes.Load(),
	}
}

// Close drains remaining events, flushes and closes sinks, and blocks until
// the background goroutine exits. Repeated calls only wait.
func (h *Hub) Close(ctx context.Context) error {
	if h == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	h.closeOnce.Do(func() {
		h.closed.Store(true)
		h.closeDeadline = ctx
		close(h.stopCh)
	})
	select {
	case <-h.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("progress hub close wait: %w", ctx.Err())
	}
}

func (h *Hub) run() {
	defer close(h.doneCh)
	batch := make([]Event, 0, h.cfg.MaxBatchEvents)
	ticker := time.NewTicker(h.cfg.MaxBatchWait)
	defer ticker.Stop()
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		case <-ticker.C:
			batch = h.flush(batch)
		case <-h.stopCh:
			h.drain(batch)
			return
		}
	}
}

func (h *Hub) drain(batch []Event) {
	for {
		select {
		case evt := <-h.events:
			batch = append(batch, evt)
			if len(batch) >= h.cfg.MaxBatchEvents {
				batch = h.flush(batch)
			}
		default:
			h.flush(batch)
			h.closeSinks()
			return
		}
	}
}

// flush hands a copy of batch to every sink and returns batch truncated for
// reuse.
func (h *Hub) flush(batch []Event) []Event {
	if len(batch) == 0 {
		return batch
	}
	h.flushes.Add(1)
	out := append([]Event(nil), batch...)
	for _, sink := range h.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), h.cfg.SinkTimeout)
		if err := sink.Consume(ctx, out); err != nil {
			h.logger.Warn("progress sink consume failed", zap.Error(err))
		}
		cancel()
	}
	return batch[:0]
}

func (h *Hub) closeSinks() {
	ctx := h.closeDeadline
	if ctx == nil {
		ctx = context.Background()
	}
	for _, sink := range h.sinks {
		if err := sink.Close(ctx); err != nil {
			h.logger.Warn("progress sink close failed", zap.Error(err))
		}
	}
}
