package loader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/posterwatch/internal/clock/fake"
	"github.com/JakeFAU/posterwatch/internal/imageurl"
	"github.com/JakeFAU/posterwatch/internal/poster"
	"github.com/JakeFAU/posterwatch/internal/progress"
	"github.com/JakeFAU/posterwatch/internal/visibility"
)

type recorder struct {
	mu     sync.Mutex
	states []State
	events []progress.Event
}

func (r *recorder) listen(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *recorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) States() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func (r *recorder) Kinds() []progress.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]progress.Kind, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestLoader(t *testing.T, ref poster.ResourceRef, p poster.Prober) (*Loader, *fake.Clock, *recorder) {
	t.Helper()
	clk := fake.New(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	rec := &recorder{}
	l, err := New(ref, Config{
		Prober:    p,
		Scheduler: clk,
		Clock:     clk,
		Emitter:   rec,
		Listeners: []Listener{rec.listen},
	})
	require.NoError(t, err)
	t.Cleanup(l.Close)
	return l, clk, rec
}

func awaitTerminal(t *testing.T, l *Loader) State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := l.Await(ctx)
	require.NoError(t, err)
	return s
}

func TestLoaderReachesLoadedOnProxiedURL(t *testing.T) {
	t.Parallel()

	ref := poster.ResourceRef{ID: "ok", OriginURL: "https://img/ok.jpg", Eager: true}
	want := imageurl.Transformer{}.Optimize(ref.OriginURL, ref.Hint)

	var probed atomic.Value
	l, clk, rec := newTestLoader(t, ref, poster.ProberFunc(func(_ context.Context, url string) error {
		probed.Store(url)
		return nil
	}))

	s := awaitTerminal(t, l)
	require.Equal(t, PhaseLoaded, s.Phase)
	require.Equal(t, poster.StageProxied, s.Stage)
	require.Equal(t, want, s.ActiveURL)
	require.Equal(t, want, probed.Load())

	// The stage timer was cancelled; firing time forward changes nothing.
	require.Zero(t, clk.Pending())
	clk.Advance(5 * time.Second)
	require.Equal(t, s, l.Snapshot())
	require.Equal(t, []progress.Kind{progress.KindLoaderStage, progress.KindLoaderLoaded}, rec.Kinds())
}

func TestLoaderDegradesThroughDirectToFailed(t *testing.T) {
	t.Parallel()

	ref := poster.ResourceRef{ID: "dead", OriginURL: "https://img/dead.jpg"}
	l, _, rec := newTestLoader(t, ref, poster.ProberFunc(func(_ context.Context, url string) error {
		return &poster.TransportError{URL: url, StatusCode: 404}
	}))
	l.Watch(visibility.Immediate())

	s := awaitTerminal(t, l)
	require.Equal(t, PhaseFailed, s.Phase)
	require.Empty(t, s.ActiveURL)

	states := rec.States()
	require.Len(t, states, 3)
	require.Equal(t, PhaseLoadingProxied, states[0].Phase)
	require.NotEqual(t, ref.OriginURL, states[0].ActiveURL)
	require.Equal(t, PhaseLoadingDirect, states[1].Phase)
	require.Equal(t, ref.OriginURL, states[1].ActiveURL)
	require.Equal(t, PhaseFailed, states[2].Phase)
	require.Equal(t, progress.KindLoaderFailed, rec.Kinds()[len(rec.Kinds())-1])
}

func TestLoaderStageTimeoutFallsBackToOrigin(t *testing.T) {
	t.Parallel()

	ref := poster.ResourceRef{ID: "slow", OriginURL: "https://img/slow.jpg", Eager: true}
	var proxiedAborted atomic.Bool
	l, clk, _ := newTestLoader(t, ref, poster.ProberFunc(func(ctx context.Context, url string) error {
		if url == ref.OriginURL {
			return nil
		}
		<-ctx.Done()
		proxiedAborted.Store(true)
		return ctx.Err()
	}))

	require.Eventually(t, func() bool { return clk.Pending() == 1 }, time.Second, time.Millisecond)
	clk.Advance(DefaultStageTimeout - time.Millisecond)
	require.Equal(t, PhaseLoadingProxied, l.Snapshot().Phase)
	clk.Advance(time.Millisecond)

	s := awaitTerminal(t, l)
	require.Equal(t, PhaseLoaded, s.Phase)
	require.Equal(t, poster.StageDirect, s.Stage)
	require.Equal(t, ref.OriginURL, s.ActiveURL)
	require.Eventually(t, proxiedAborted.Load, time.Second, time.Millisecond)
}

func TestLoaderEmptyOriginFailsWithoutFetching(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	l, clk, rec := newTestLoader(t, poster.ResourceRef{ID: "none", Eager: true}, poster.ProberFunc(func(context.Context, string) error {
		calls.Add(1)
		return nil
	}))

	s := awaitTerminal(t, l)
	require.Equal(t, PhaseFailed, s.Phase)
	l.Retry()
	time.Sleep(10 * time.Millisecond)
	require.Equal(t, PhaseFailed, l.Snapshot().Phase)
	require.Zero(t, calls.Load())
	require.Zero(t, clk.Pending())
	require.Empty(t, rec.States())
	require.Equal(t, []progress.Kind{progress.KindLoaderFailed}, rec.Kinds())
}

func TestLoaderEmptyOriginReportsFailureOnce(t *testing.T) {
	t.Parallel()

	l, _, rec := newTestLoader(t, poster.ResourceRef{ID: "none"}, poster.ProberFunc(func(context.Context, string) error {
		return nil
	}))

	latch := visibility.NewLatch()
	l.Watch(latch)
	latch.Fire()
	require.Eventually(t, func() bool { return l.Snapshot().Visible }, time.Second, time.Millisecond)

	require.Equal(t, PhaseFailed, l.Snapshot().Phase)
	require.Empty(t, rec.States())
	require.Equal(t, []progress.Kind{progress.KindLoaderFailed}, rec.Kinds())
}

func TestLoaderAwaitAttemptObservesRestart(t *testing.T) {
	t.Parallel()

	ref := poster.ResourceRef{ID: "flaky", OriginURL: "https://img/flaky.jpg", Eager: true}
	var calls atomic.Int32
	l, _, _ := newTestLoader(t, ref, poster.ProberFunc(func(context.Context, string) error {
		if calls.Add(1) <= 4 {
			return errors.New("connection refused")
		}
		return nil
	}))

	failed := awaitTerminal(t, l)
	require.Equal(t, PhaseFailed, failed.Phase)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := l.AwaitAttempt(ctx, failed.Attempt)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	l.Retry()
	s, err := l.AwaitAttempt(context.Background(), failed.Attempt)
	require.NoError(t, err)
	require.Greater(t, s.Attempt, failed.Attempt)

	// The restarted sequence fails again; Await must not return the stale
	// failure it started from.
	again := awaitTerminal(t, l)
	require.Equal(t, PhaseFailed, again.Phase)
	require.Greater(t, again.Attempt, failed.Attempt)
}

func TestLoaderWaitsForVisibility(t *testing.T) {
	t.Parallel()

	ref := poster.ResourceRef{ID: "lazy", OriginURL: "https://img/ok.jpg"}
	l, _, _ := newTestLoader(t, ref, poster.ProberFunc(func(context.Context, string) error { return nil }))

	latch := visibility.NewLatch()
	l.Watch(latch)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s, err := l.Await(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, PhaseIdle, s.Phase)

	latch.Fire()
	require.Equal(t, PhaseLoaded, awaitTerminal(t, l).Phase)
}

func TestLoaderManualRetryRestartsSequence(t *testing.T) {
	t.Parallel()

	ref := poster.ResourceRef{ID: "flaky", OriginURL: "https://img/flaky.jpg", Eager: true}
	var calls atomic.Int32
	l, _, rec := newTestLoader(t, ref, poster.ProberFunc(func(_ context.Context, url string) error {
		if calls.Add(1) <= 2 {
			return errors.New("connection refused")
		}
		return nil
	}))

	require.Equal(t, PhaseFailed, awaitTerminal(t, l).Phase)
	l.Retry()
	require.Eventually(t, func() bool { return l.Snapshot().Phase == PhaseLoaded }, time.Second, time.Millisecond)

	s := l.Snapshot()
	require.Equal(t, poster.StageProxied, s.Stage)
	require.Equal(t, imageurl.Transformer{}.Optimize(ref.OriginURL, ref.Hint), s.ActiveURL)
	require.Contains(t, rec.Kinds(), progress.KindLoaderRetry)
}

func TestLoaderCloseAbortsInFlightFetch(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	aborted := make(chan struct{})
	ref := poster.ResourceRef{ID: "hang", OriginURL: "https://img/hang.jpg", Eager: true}
	l, err := New(ref, Config{
		Prober: poster.ProberFunc(func(ctx context.Context, _ string) error {
			close(started)
			<-ctx.Done()
			close(aborted)
			return ctx.Err()
		}),
		Scheduler: fake.New(time.Time{}),
	})
	require.NoError(t, err)

	<-started
	l.Close()
	select {
	case <-aborted:
	case <-time.After(time.Second):
		t.Fatal("fetch was not aborted")
	}
	_, err = l.Await(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestNewRequiresProber(t *testing.T) {
	t.Parallel()

	_, err := New(poster.ResourceRef{OriginURL: "https://img/a.jpg"}, Config{})
	require.Error(t, err)
}
