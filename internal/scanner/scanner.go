package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/posterwatch/internal/clock/system"
	"github.com/JakeFAU/posterwatch/internal/id/uuid"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/progress"
)

// DefaultProbeTimeout bounds each single-stage probe.
const DefaultProbeTimeout = 5 * time.Second

// ErrScanInProgress is returned when Scan is called while another scan on the
// same Scanner has not finished.
var ErrScanInProgress = errors.New("scan already in progress")

// RunStarter is implemented by observers that want the all-Pending run before
// the first probe.
type RunStarter interface {
	RunStarted(run Run)
}

// RunFinisher is implemented by observers that want the final run.
type RunFinisher interface {
	RunFinished(run Run)
}

// Config holds the collaborators of a Scanner. Prober is required.
type Config struct {
	Prober       poster.Prober
	Scheduler    poster.Scheduler
	Clock        poster.Clock
	IDs          poster.IDGenerator
	Emitter      progress.Emitter
	Logger       *zap.Logger
	ProbeTimeout time.Duration
	// Concurrency above 1 probes several entries at once. Events then stay
	// paired per entry but are no longer in strict list order.
	Concurrency int
	Observers   []Observer
}

// Scanner runs bulk health scans. One scan runs at a time.
type Scanner struct {
	cfg     Config
	logger  *zap.Logger
	running atomic.Bool

	cancelMu sync.Mutex
	cancel   context.CancelFunc
}

// New validates cfg and fills defaults.
func New(cfg Config) (*Scanner, error) {
	if cfg.Prober == nil {
		return nil, errors.New("scanner: prober is required")
	}
	sys := system.New()
	if cfg.Scheduler == nil {
		cfg.Scheduler = sys
	}
	if cfg.Clock == nil {
		cfg.Clock = sys
	}
	if cfg.IDs == nil {
		cfg.IDs = uuid.NewUUIDGenerator()
	}
	if cfg.Emitter == nil {
		cfg.Emitter = progress.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Scanner{cfg: cfg, logger: cfg.Logger}, nil
}

// Running reports whether a scan is in flight.
func (s *Scanner) Running() bool {
	return s.running.Load()
}

// Cancel aborts the in-flight scan, if any. The entry being probed resolves
// Error and the rest stay Pending.
func (s *Scanner) Cancel() bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	return true
}

// scan holds the mutable state of one run.
type scan struct {
	s         *Scanner
	runID     [16]byte
	observers []Observer

	mu       sync.Mutex
	run      Run
	canceled bool
}

// Scan probes the origin URL of every ref and returns the finished run.
// Probe failures never surface as errors; they become Error entries. Extra
// observers apply to this run only.
func (s *Scanner) Scan(ctx context.Context, refs []poster.ResourceRef, observers ...Observer) (Run, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Run{}, ErrScanInProgress
	}
	defer s.running.Store(false)

	id, err := s.cfg.IDs.NewID()
	if err != nil {
		return Run{}, fmt.Errorf("new scan id: %w", err)
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancel = cancel
	s.cancelMu.Unlock()
	defer func() {
		s.cancelMu.Lock()
		s.cancel = nil
		s.cancelMu.Unlock()
		cancel()
	}()

	sc := &scan{
		s:         s,
		runID:     progress.ParseRunID(id),
		observers: append(append([]Observer(nil), s.cfg.Observers...), observers...),
		run: Run{
			ID:        id,
			StartedAt: s.cfg.Clock.Now(),
			Entries:   make([]Entry, len(refs)),
		},
	}
	for i, ref := range refs {
		sc.run.Entries[i] = Entry{
			ResourceID: ref.ID,
			Title:      ref.Title,
			URL:        ref.OriginURL,
			Status:     StatusPending,
		}
	}

	logger := s.logger.With(zap.String("run_id", id))
	logger.Info("scan started", zap.Int("resources", len(refs)), zap.Int("concurrency", s.cfg.Concurrency))
	sc.emit(progress.Event{Kind: progress.KindScanStart, Note: fmt.Sprintf("%d resources", len(refs))})
	for _, o := range sc.observers {
		if st, ok := o.(RunStarter); ok {
			st.RunStarted(sc.run.Clone())
		}
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i := range refs {
		if ctx.Err() != nil {
			sc.markCanceled()
			break
		}
		g.Go(func() error {
			sc.probe(ctx, i)
			return nil
		})
	}
	_ = g.Wait()

	sc.mu.Lock()
	sc.run.FinishedAt = s.cfg.Clock.Now()
	sc.run.Canceled = sc.canceled
	final := sc.run.Clone()
	sc.mu.Unlock()

	result := "completed"
	if final.Canceled {
		result = "canceled"
	}
	counts := final.Counts()
	logger.Info("scan finished",
		zap.String("result", result),
		zap.Int("ok", counts[StatusOk]),
		zap.Int("errors", counts[StatusError]),
		zap.Int("pending", counts[StatusPending]),
		zap.Duration("elapsed", final.FinishedAt.Sub(final.StartedAt)),
	)
	sc.emit(progress.Event{Kind: progress.KindScanDone, Status: result, Dur: nonNegative(final.FinishedAt.Sub(final.StartedAt))})
	for _, o := range sc.observers {
		if f, ok := o.(RunFinisher); ok {
			f.RunFinished(final.Clone())
		}
	}
	return final, nil
}

func (sc *scan) markCanceled() {
	sc.mu.Lock()
	sc.canceled = true
	sc.mu.Unlock()
}

// probe runs the Testing -> Ok|Error lifecycle of entry i.
func (sc *scan) probe(ctx context.Context, i int) {
	s := sc.s
	if ctx.Err() != nil {
		sc.markCanceled()
		return
	}
	url := sc.transition(i, func(e *Entry) { e.Status = StatusTesting })
	sc.emit(progress.Event{Kind: progress.KindScanTesting, Index: i, URL: url, ResourceID: sc.entryID(i)})

	start := s.cfg.Clock.Now()
	err := sc.race(ctx, url)
	elapsed := nonNegative(s.cfg.Clock.Now().Sub(start))
	if err != nil && ctx.Err() != nil {
		sc.markCanceled()
	}

	sc.transition(i, func(e *Entry) {
		e.Duration = elapsed
		if err != nil {
			e.Status = StatusError
			e.Error = err.Error()
			return
		}
		e.Status = StatusOk
	})
	evt := progress.Event{Kind: progress.KindScanResolved, Index: i, URL: url, ResourceID: sc.entryID(i), Status: string(StatusOk), Dur: elapsed}
	if err != nil {
		evt.Status = string(StatusError)
		evt.Note = err.Error()
		s.logger.Debug("poster unreachable", zap.String("url", url), zap.String("class", poster.Classify(err)), zap.Error(err))
	}
	sc.emit(evt)
}

// race resolves a single probe of url against the probe timeout and ctx.
func (sc *scan) race(ctx context.Context, url string) error {
	s := sc.s
	if strings.TrimSpace(url) == "" {
		return poster.ErrEmptyReference
	}
	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- s.cfg.Prober.Probe(pctx, url) }()

	expired := make(chan struct{})
	timer := s.cfg.Scheduler.AfterFunc(s.cfg.ProbeTimeout, func() { close(expired) })
	defer timer.Stop()

	select {
	case err := <-result:
		if err != nil && !errors.Is(err, poster.ErrTransport) && !errors.Is(err, poster.ErrTimeout) {
			err = &poster.TransportError{URL: url, Err: err}
		}
		return err
	case <-expired:
		return &poster.TimeoutError{URL: url, After: s.cfg.ProbeTimeout}
	case <-ctx.Done():
		return fmt.Errorf("scan canceled: %w", ctx.Err())
	}
}

// transition mutates entry i and publishes the snapshot while holding the run
// lock, so observers see changes in the order they happened. It returns the
// entry URL.
func (sc *scan) transition(i int, mutate func(*Entry)) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	mutate(&sc.run.Entries[i])
	for _, o := range sc.observers {
		o.Observe(sc.run.Clone(), i)
	}
	return sc.run.Entries[i].URL
}

func (sc *scan) entryID(i int) string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.run.Entries[i].ResourceID
}

func (sc *scan) emit(evt progress.Event) {
	evt.RunID = sc.runID
	evt.TS = sc.s.cfg.Clock.Now()
	if evt.URL != "" {
		evt.Site = progress.SiteOf(evt.URL)
	}
	sc.s.cfg.Emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
