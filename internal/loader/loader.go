package loader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/posterwatch/internal/clock/system"
	"github.com/JakeFAU/posterwatch/internal/imageurl"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/progress"
	"github.com/JakeFAU/posterwatch/internal/visibility"
)

// ErrClosed is returned by Await once the loader has been closed before
// reaching a terminal phase.
var ErrClosed = errors.New("loader closed")

// Listener receives every state the loader moves through.
type Listener func(State)

// Config holds the collaborators of a Loader. Prober is required.
type Config struct {
	Prober       poster.Prober
	Transformer  imageurl.Transformer
	StageTimeout time.Duration
	Scheduler    poster.Scheduler
	Clock        poster.Clock
	Emitter      progress.Emitter
	Logger       *zap.Logger
	Listeners    []Listener
}

// Loader drives one Machine. All transitions run on a single goroutine; the
// prober and timer only post events to it.
type Loader struct {
	machine   Machine
	prober    poster.Prober
	scheduler poster.Scheduler
	clock     poster.Clock
	emitter   progress.Emitter
	logger    *zap.Logger
	listeners []Listener

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	state   State
	changed chan struct{}

	// Owned by the run goroutine.
	fetches    map[uint64]context.CancelFunc
	timer      poster.Timer
	stageStart time.Time
}

// New constructs a Loader for ref and starts its event loop. Eager resources
// are marked visible immediately.
func New(ref poster.ResourceRef, cfg Config) (*Loader, error) {
	if cfg.Prober == nil {
		return nil, errors.New("loader: prober is required")
	}
	sys := system.New()
	if cfg.Scheduler == nil {
		cfg.Scheduler = sys
	}
	if cfg.Clock == nil {
		cfg.Clock = sys
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	m := NewMachine(ref, cfg.Transformer)
	if cfg.StageTimeout > 0 {
		m.StageTimeout = cfg.StageTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &Loader{
		machine:   m,
		prober:    cfg.Prober,
		scheduler: cfg.Scheduler,
		clock:     cfg.Clock,
		emitter:   cfg.Emitter,
		logger:    cfg.Logger.With(zap.String("resource_id", ref.ID)),
		listeners: append([]Listener(nil), cfg.Listeners...),
		events:    make(chan Event, 16),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     m.Initial(),
		changed:   make(chan struct{}),
		fetches:   make(map[uint64]context.CancelFunc),
	}
	if l.state.Phase == PhaseFailed {
		l.logger.Debug("resource has no origin url", zap.Error(poster.ErrEmptyReference))
		l.emit(progress.Event{Kind: progress.KindLoaderFailed, Status: string(poster.StageFailed), Note: poster.ErrEmptyReference.Error()})
	}
	go l.run()
	if ref.Eager {
		l.Watch(visibility.Immediate())
	}
	return l, nil
}

// Ref returns the resource this loader serves.
func (l *Loader) Ref() poster.ResourceRef {
	return l.machine.Ref
}

// Watch marks the loader visible once trigger fires.
func (l *Loader) Watch(trigger visibility.Trigger) {
	go func() {
		select {
		case <-trigger.Signal():
			l.post(Visible{})
		case <-l.ctx.Done():
		}
	}()
}

// Retry restarts the full stage sequence. It only has an effect from Failed.
func (l *Loader) Retry() {
	l.post(Retry{})
}

// Snapshot returns the current state.
func (l *Loader) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Await blocks until the loader reaches Loaded or Failed, ctx ends, or the
// loader is closed.
func (l *Loader) Await(ctx context.Context) (State, error) {
	return l.wait(ctx, func(s State) bool { return s.Phase.Terminal() })
}

// AwaitAttempt blocks until the loader has moved past attempt. Pair it with
// Retry to know the restart was applied before awaiting its outcome.
func (l *Loader) AwaitAttempt(ctx context.Context, attempt uint64) (State, error) {
	return l.wait(ctx, func(s State) bool { return s.Attempt != attempt })
}

func (l *Loader) wait(ctx context.Context, ready func(State) bool) (State, error) {
	for {
		l.mu.Lock()
		s, ch := l.state, l.changed
		l.mu.Unlock()
		if ready(s) {
			return s, nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return s, fmt.Errorf("await loader: %w", ctx.Err())
		case <-l.done:
			return l.Snapshot(), ErrClosed
		}
	}
}

// Close stops the event loop, aborting any in-flight fetch and pending timer.
func (l *Loader) Close() {
	l.cancel()
	<-l.done
}

func (l *Loader) post(evt Event) {
	select {
	case l.events <- evt:
	case <-l.ctx.Done():
	}
}

func (l *Loader) run() {
	defer close(l.done)
	defer l.teardown()
	for {
		select {
		case evt := <-l.events:
			l.apply(evt)
		case <-l.ctx.Done():
			return
		}
	}
}

func (l *Loader) teardown() {
	for attempt, cancel := range l.fetches {
		cancel()
		delete(l.fetches, attempt)
	}
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
}

func (l *Loader) apply(evt Event) {
	l.mu.Lock()
	prev := l.state
	l.mu.Unlock()

	next, effects := l.machine.Transition(prev, evt)
	if _, ok := evt.(Retry); ok && next.Attempt != prev.Attempt {
		l.emit(progress.Event{Kind: progress.KindLoaderRetry, URL: l.machine.Ref.OriginURL})
	}
	for _, eff := range effects {
		l.execute(eff)
	}
	if next == prev {
		return
	}

	// A Visible that lands on a loader already past Idle only flips the flag;
	// hosts render nothing new, so it is stored without being reported.
	if rendered(prev) != rendered(next) {
		l.report(prev, next, evt)
		for _, fn := range l.listeners {
			fn(next)
		}
	}

	l.mu.Lock()
	l.state = next
	close(l.changed)
	l.changed = make(chan struct{})
	l.mu.Unlock()
}

func rendered(s State) State {
	s.Visible = false
	return s
}

func (l *Loader) execute(eff Effect) {
	switch e := eff.(type) {
	case StartFetch:
		ctx, cancel := context.WithCancel(l.ctx)
		l.fetches[e.Attempt] = cancel
		l.stageStart = l.clock.Now()
		go l.fetch(ctx, e)
	case AbortFetch:
		if cancel, ok := l.fetches[e.Attempt]; ok {
			cancel()
			delete(l.fetches, e.Attempt)
		}
	case ArmTimeout:
		if l.timer != nil {
			l.timer.Stop()
		}
		attempt := e.Attempt
		l.timer = l.scheduler.AfterFunc(e.After, func() {
			l.post(StageTimeout{Attempt: attempt})
		})
	case CancelTimeout:
		if l.timer != nil {
			l.timer.Stop()
			l.timer = nil
		}
	}
}

func (l *Loader) fetch(ctx context.Context, req StartFetch) {
	err := l.prober.Probe(ctx, req.URL)
	if ctx.Err() != nil {
		// Aborted by a timeout or Close; the machine has already moved on.
		return
	}
	if err != nil {
		l.post(LoadFailed{Attempt: req.Attempt, Err: err})
		return
	}
	l.post(LoadSucceeded{Attempt: req.Attempt})
}

func (l *Loader) report(prev, next State, evt Event) {
	elapsed := l.clock.Now().Sub(l.stageStart)
	if elapsed < 0 {
		elapsed = 0
	}
	// Completed fetches no longer need their cancel funcs.
	switch e := evt.(type) {
	case LoadSucceeded:
		delete(l.fetches, e.Attempt)
	case LoadFailed:
		delete(l.fetches, e.Attempt)
	}

	switch next.Phase {
	case PhaseLoadingProxied, PhaseLoadingDirect:
		if prev.Stage == next.Stage && prev.Phase == next.Phase {
			return
		}
		fields := []zap.Field{zap.String("stage", string(next.Stage)), zap.String("active_url", next.ActiveURL)}
		switch e := evt.(type) {
		case StageTimeout:
			fields = append(fields, zap.String("reason", "timeout"))
		case LoadFailed:
			fields = append(fields, zap.String("reason", poster.Classify(e.Err)), zap.Error(e.Err))
		}
		l.logger.Debug("loader stage", fields...)
		l.emit(progress.Event{Kind: progress.KindLoaderStage, URL: next.ActiveURL, Status: string(next.Stage)})
	case PhaseLoaded:
		l.logger.Debug("poster loaded", zap.String("stage", string(next.Stage)), zap.Duration("elapsed", elapsed))
		l.emit(progress.Event{Kind: progress.KindLoaderLoaded, URL: next.ActiveURL, Status: string(next.Stage), Dur: elapsed})
	case PhaseFailed:
		note := ""
		if e, ok := evt.(LoadFailed); ok && e.Err != nil {
			note = e.Err.Error()
		}
		l.logger.Info("poster unavailable", zap.String("origin_url", l.machine.Ref.OriginURL), zap.String("cause", note))
		l.emit(progress.Event{Kind: progress.KindLoaderFailed, URL: l.machine.Ref.OriginURL, Status: string(next.Stage), Dur: elapsed, Note: note})
	}
}

func (l *Loader) emit(evt progress.Event) {
	evt.ResourceID = l.machine.Ref.ID
	if evt.TS.IsZero() {
		evt.TS = l.clock.Now()
	}
	if evt.URL != "" {
		evt.Site = progress.SiteOf(evt.URL)
	}
	l.emitter.Emit(evt)
}
