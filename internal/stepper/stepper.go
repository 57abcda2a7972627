/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package stepper

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/telemetry"
)

// State is the stepper lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StatePlaying  State = "playing"
	StatePaused   State = "paused"
	StateFinished State = "finished"
)

// validTransitions encodes the lifecycle. Reset is handled separately and
// is legal from every state.
var validTransitions = map[State][]State{
	StateIdle:     {StatePlaying},
	StatePlaying:  {StatePaused, StateFinished},
	StatePaused:   {StatePlaying, StateFinished},
	StateFinished: {},
}

func transitionAllowed(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Sink receives actions as they become current. Live dispatch publishes to
// the playback channel; preview collects them.
type Sink interface {
	Emit(flowID string, action actions.Action, occurredAt time.Time) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(flowID string, action actions.Action, occurredAt time.Time) error

func (f SinkFunc) Emit(flowID string, action actions.Action, occurredAt time.Time) error {
	return f(flowID, action, occurredAt)
}

// Config assembles a stepper. Clock and Scale are injectable so simulation
// can compress time; both default to real time.
type Config struct {
	FlowID   string
	Actions  actions.ActionList
	Defaults actions.Defaults
	Loop     bool

	// EndBound caps looping playback; ignored when Loop is false.
	EndBound time.Duration

	Sink   Sink
	Clock  func() time.Time
	Scale  func(time.Duration) time.Duration
	Logger zerolog.Logger
}

// Stepper walks a timeline. All methods are safe for concurrent use; the
// auto-advance timer holds no lock while sleeping.
type Stepper struct {
	flowID   string
	timeline Timeline
	sink     Sink
	clock    func() time.Time
	scale    func(time.Duration) time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	state   State
	current int
	// elapsed is timeline time at the current segment boundary, including
	// completed repetitions of a looping sequence.
	elapsed time.Duration
	// gen invalidates in-flight auto-advance timers. Every Pause, Reset and
	// manual Step bumps it so a stale timer wakes up, sees a newer
	// generation, and exits without firing.
	gen uint64
	// done is closed on entry to Finished and replaced on Reset.
	done chan struct{}
}

// New builds a stepper in Idle with its timeline precomputed.
func New(cfg Config) *Stepper {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	scale := cfg.Scale
	if scale == nil {
		scale = func(d time.Duration) time.Duration { return d }
	}
	sink := cfg.Sink
	if sink == nil {
		sink = SinkFunc(func(string, actions.Action, time.Time) error { return nil })
	}
	return &Stepper{
		flowID:   cfg.FlowID,
		timeline: BuildTimeline(cfg.Actions, cfg.Defaults, cfg.Loop, cfg.EndBound),
		sink:     sink,
		clock:    clock,
		scale:    scale,
		logger:   cfg.Logger.With().Str("component", "stepper").Str("flow", cfg.FlowID).Logger(),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
}

// Done is closed when the stepper reaches Finished. Reset rearms it.
func (s *Stepper) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// finishLocked transitions to Finished and signals waiters. Caller holds
// s.mu and must have verified the transition.
func (s *Stepper) finishLocked() {
	if s.state != StateFinished {
		s.state = StateFinished
		close(s.done)
	}
}

// Timeline exposes the precomputed timeline for preview rendering.
func (s *Stepper) Timeline() Timeline {
	return s.timeline
}

// State returns the current lifecycle state.
func (s *Stepper) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Current returns the current segment index and elapsed timeline time.
func (s *Stepper) Current() (int, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current, s.elapsed
}

// Play starts or resumes auto-advance. The current action is emitted
// immediately; each subsequent action fires after the previous one's dwell
// time.
func (s *Stepper) Play() error {
	s.mu.Lock()
	if !transitionAllowed(s.state, StatePlaying) {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("cannot play from state %q", state)
	}
	if len(s.timeline.Segments) == 0 || (s.timeline.Loop && s.timeline.SequenceDuration <= 0) {
		// A zero-length looping sequence would spin forever.
		s.finishLocked()
		s.mu.Unlock()
		return nil
	}
	resuming := s.state == StatePaused
	s.state = StatePlaying
	s.gen++
	gen := s.gen
	seg := s.timeline.Segments[s.current]
	s.mu.Unlock()

	// Resuming from Paused re-arms the dwell without re-firing the action.
	if !resuming {
		s.dispatch(seg)
	}
	s.scheduleAdvance(gen, seg)
	return nil
}

// Pause freezes the cursor. The pending auto-advance timer is invalidated,
// not merely ignored, so it cannot double-fire after resume.
func (s *Stepper) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !transitionAllowed(s.state, StatePaused) {
		return fmt.Errorf("cannot pause from state %q", s.state)
	}
	s.state = StatePaused
	s.gen++
	return nil
}

// Step advances exactly one action regardless of play state. Past the final
// non-looping action it is a no-op.
func (s *Stepper) Step() {
	s.mu.Lock()
	if s.state == StateFinished || len(s.timeline.Segments) == 0 {
		s.mu.Unlock()
		return
	}
	s.gen++
	gen := s.gen
	wasPlaying := s.state == StatePlaying

	seg, done := s.advanceLocked()
	if done {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.dispatch(seg)
	if wasPlaying {
		s.scheduleAdvance(gen, seg)
	}
}

// Reset returns to Idle from any state and rewinds the cursor.
func (s *Stepper) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateFinished {
		s.done = make(chan struct{})
	}
	s.state = StateIdle
	s.current = 0
	s.elapsed = 0
	s.gen++
}

// advanceLocked moves the cursor to the next segment, wrapping for looping
// timelines. Returns the new segment, or done=true when playback ended.
// Caller holds s.mu.
func (s *Stepper) advanceLocked() (Segment, bool) {
	next := s.current + 1
	s.elapsed += s.timeline.Segments[s.current].Duration

	if next >= len(s.timeline.Segments) {
		if !s.timeline.Loop {
			s.finishLocked()
			return Segment{}, true
		}
		next = 0
	}
	if s.timeline.Loop && s.timeline.EndBound > 0 && s.elapsed >= s.timeline.EndBound {
		s.finishLocked()
		return Segment{}, true
	}

	s.current = next
	return s.timeline.Segments[next], false
}

// scheduleAdvance arms the dwell timer for seg. The generation captured at
// arm time is checked again after the sleep; a mismatch means something
// paused, stepped or reset in between and this timer is stale.
func (s *Stepper) scheduleAdvance(gen uint64, seg Segment) {
	dwell := s.scale(seg.Duration)

	// Remaining playback of a truncated final looping repetition.
	if s.timeline.Loop && s.timeline.EndBound > 0 {
		s.mu.Lock()
		remaining := s.timeline.EndBound - s.elapsed
		s.mu.Unlock()
		if remaining <= 0 {
			return
		}
		if scaled := s.scale(remaining); scaled < dwell {
			dwell = scaled
		}
	}

	go func() {
		if dwell > 0 {
			timer := time.NewTimer(dwell)
			defer timer.Stop()
			<-timer.C
		}

		s.mu.Lock()
		if s.gen != gen || s.state != StatePlaying {
			s.mu.Unlock()
			return
		}
		next, done := s.advanceLocked()
		if done {
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()

		s.dispatch(next)
		s.scheduleAdvance(gen, next)
	}()
}

// dispatch hands the segment's action to the sink. Per-action failures are
// reported and playback advances; one bad action never stalls the sequence.
func (s *Stepper) dispatch(seg Segment) {
	kind := string(seg.Action.Kind())
	if seg.Invalid {
		telemetry.ActionsDispatchedTotal.WithLabelValues(kind, "invalid").Inc()
		s.logger.Warn().Int("index", seg.Index).Str("kind", kind).Msg("skipping action with unresolvable content")
		return
	}
	if err := s.sink.Emit(s.flowID, seg.Action, s.clock()); err != nil {
		telemetry.ActionsDispatchedTotal.WithLabelValues(kind, "error").Inc()
		s.logger.Error().Err(err).Int("index", seg.Index).Str("kind", kind).Msg("action dispatch failed")
		return
	}
	telemetry.ActionsDispatchedTotal.WithLabelValues(kind, "ok").Inc()
}
