// Package loader implements the per-poster resilient loader: a pure state
// machine that degrades from the optimizing proxy to the origin URL, plus an
// event-loop driver that executes its effects against a transport and timer.
package loader

import (
	"time"

	"github.com/JakeFAU/posterwatch/internal/imageurl"
	"github.com/JakeFAU/posterwatch/internal/poster"
)

// DefaultStageTimeout bounds the proxied stage before falling back to the
// origin URL.
const DefaultStageTimeout = 1500 * time.Millisecond

// Phase is the loader's lifecycle position.
type Phase string

// Loader phases.
const (
	PhaseIdle           Phase = "idle"
	PhaseLoadingProxied Phase = "loading_proxied"
	PhaseLoadingDirect  Phase = "loading_direct"
	PhaseLoaded         Phase = "loaded"
	PhaseFailed         Phase = "failed"
)

// Terminal reports whether p is Loaded or Failed.
func (p Phase) Terminal() bool {
	return p == PhaseLoaded || p == PhaseFailed
}

// State is everything a host needs to render a poster.
type State struct {
	Phase     Phase
	Stage     poster.LoadStage
	Visible   bool
	Loaded    bool
	ActiveURL string
	// Attempt identifies the fetch (and its timer) currently authoritative.
	// Signals carrying any other attempt are stale.
	Attempt uint64
}

// Event is an input to Machine.Transition.
type Event interface{ isEvent() }

// Visible reports that the poster became eligible to load.
type Visible struct{}

// LoadSucceeded reports a successful fetch for Attempt.
type LoadSucceeded struct{ Attempt uint64 }

// LoadFailed reports a failed fetch for Attempt.
type LoadFailed struct {
	Attempt uint64
	Err     error
}

// StageTimeout reports that the stage timer armed for Attempt fired.
type StageTimeout struct{ Attempt uint64 }

// Retry is the manual retry action.
type Retry struct{}

func (Visible) isEvent()       {}
func (LoadSucceeded) isEvent() {}
func (LoadFailed) isEvent()    {}
func (StageTimeout) isEvent()  {}
func (Retry) isEvent()         {}

// Effect is an instruction for the driver.
type Effect interface{ isEffect() }

// StartFetch asks the driver to load URL and report the outcome with Attempt.
type StartFetch struct {
	URL     string
	Attempt uint64
}

// AbortFetch cancels the in-flight fetch started for Attempt.
type AbortFetch struct{ Attempt uint64 }

// ArmTimeout schedules a StageTimeout for Attempt after After.
type ArmTimeout struct {
	After   time.Duration
	Attempt uint64
}

// CancelTimeout stops the pending stage timer, if any.
type CancelTimeout struct{}

func (StartFetch) isEffect()    {}
func (AbortFetch) isEffect()    {}
func (ArmTimeout) isEffect()    {}
func (CancelTimeout) isEffect() {}

// Machine holds the immutable inputs of one loader. Transition is pure.
type Machine struct {
	Ref          poster.ResourceRef
	Transformer  imageurl.Transformer
	StageTimeout time.Duration
}

// NewMachine returns a Machine for ref using the default stage timeout.
func NewMachine(ref poster.ResourceRef, t imageurl.Transformer) Machine {
	return Machine{Ref: ref, Transformer: t, StageTimeout: DefaultStageTimeout}
}

// Initial returns the starting state. A resource without an origin URL starts
// Failed and never fetches.
func (m Machine) Initial() State {
	if !m.Ref.HasOrigin() {
		return State{Phase: PhaseFailed, Stage: poster.StageFailed}
	}
	return State{Phase: PhaseIdle, Stage: poster.StageProxied}
}

// URLFor derives the URL displayed at stage. Idle shows a placeholder, so
// callers only consult it for loading or loaded phases.
func (m Machine) URLFor(stage poster.LoadStage) string {
	switch stage {
	case poster.StageProxied:
		return m.Transformer.Optimize(m.Ref.OriginURL, m.Ref.Hint)
	case poster.StageDirect:
		return m.Ref.OriginURL
	default:
		return ""
	}
}

// Transition applies evt to s and returns the next state and the effects the
// driver must run, in order. Stale or inapplicable events return s unchanged
// and no effects.
func (m Machine) Transition(s State, evt Event) (State, []Effect) {
	switch e := evt.(type) {
	case Visible:
		if s.Visible {
			return s, nil
		}
		s.Visible = true
		if s.Phase != PhaseIdle {
			return s, nil
		}
		return m.enterProxied(s, nil)

	case LoadSucceeded:
		if e.Attempt != s.Attempt {
			return s, nil
		}
		switch s.Phase {
		case PhaseLoadingProxied:
			s.Phase = PhaseLoaded
			s.Loaded = true
			return s, []Effect{CancelTimeout{}}
		case PhaseLoadingDirect:
			s.Phase = PhaseLoaded
			s.Loaded = true
			return s, nil
		}
		return s, nil

	case LoadFailed:
		if e.Attempt != s.Attempt {
			return s, nil
		}
		switch s.Phase {
		case PhaseLoadingProxied:
			return m.enterDirect(s, []Effect{CancelTimeout{}})
		case PhaseLoadingDirect:
			s.Phase = PhaseFailed
			s.Stage = poster.StageFailed
			s.Loaded = false
			s.ActiveURL = m.URLFor(poster.StageFailed)
			return s, nil
		}
		return s, nil

	case StageTimeout:
		if e.Attempt != s.Attempt || s.Phase != PhaseLoadingProxied {
			return s, nil
		}
		return m.enterDirect(s, []Effect{AbortFetch{Attempt: s.Attempt}})

	case Retry:
		if s.Phase != PhaseFailed || !m.Ref.HasOrigin() {
			return s, nil
		}
		s.Visible = true
		return m.enterProxied(s, []Effect{CancelTimeout{}, AbortFetch{Attempt: s.Attempt}})
	}
	return s, nil
}

func (m Machine) enterProxied(s State, effects []Effect) (State, []Effect) {
	s.Attempt++
	s.Phase = PhaseLoadingProxied
	s.Stage = poster.StageProxied
	s.Loaded = false
	s.ActiveURL = m.URLFor(poster.StageProxied)
	timeout := m.StageTimeout
	if timeout <= 0 {
		timeout = DefaultStageTimeout
	}
	return s, append(effects,
		StartFetch{URL: s.ActiveURL, Attempt: s.Attempt},
		ArmTimeout{After: timeout, Attempt: s.Attempt},
	)
}

func (m Machine) enterDirect(s State, effects []Effect) (State, []Effect) {
	s.Attempt++
	s.Phase = PhaseLoadingDirect
	s.Stage = poster.StageDirect
	s.ActiveURL = m.URLFor(poster.StageDirect)
	return s, append(effects, StartFetch{URL: s.ActiveURL, Attempt: s.Attempt})
}
