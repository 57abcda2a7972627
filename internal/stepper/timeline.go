/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package stepper advances a flow's action sequence as a deterministic
// timeline. One implementation serves live dispatch and preview simulation.
package stepper

import (
	"time"

	"github.com/friendsincode/bragi_flows/internal/actions"
)

// Segment is one action's slot on the timeline. Start is the cumulative
// offset of every action before it.
type Segment struct {
	Index    int            `json:"index"`
	Action   actions.Action `json:"action"`
	Start    time.Duration  `json:"start"`
	Duration time.Duration  `json:"duration"`

	// Invalid marks an action whose duration could not be derived, such as
	// a play_content referencing unresolved content. Invalid segments are
	// reported and skipped over, never dwelled on.
	Invalid bool `json:"invalid,omitempty"`
}

// Timeline is the derived schedule of one pass through the action list.
type Timeline struct {
	Segments []Segment

	// SequenceDuration is the sum of all segment durations, one full pass.
	SequenceDuration time.Duration

	// Loop repeats the sequence until EndBound.
	Loop bool

	// EndBound caps total playback for looping sequences. Zero means
	// unbounded.
	EndBound time.Duration
}

// BuildTimeline derives cumulative offsets for the action list. Actions
// whose duration cannot be derived get a zero-length invalid segment so the
// rest of the sequence keeps its offsets.
func BuildTimeline(list actions.ActionList, defaults actions.Defaults, loop bool, endBound time.Duration) Timeline {
	tl := Timeline{
		Segments: make([]Segment, 0, len(list)),
		Loop:     loop,
		EndBound: endBound,
	}

	var offset time.Duration
	for i, action := range list {
		d := action.EstimatedDuration(defaults)
		seg := Segment{
			Index:    i,
			Action:   action,
			Start:    offset,
			Duration: d,
		}
		if d <= 0 {
			seg.Duration = 0
			seg.Invalid = actions.NeedsContentResolution(action)
		}
		tl.Segments = append(tl.Segments, seg)
		offset += seg.Duration
	}
	tl.SequenceDuration = offset
	return tl
}

// Total is the full playback duration: the sequence duration for one-shot
// timelines, or the end bound for looping ones. Zero means unbounded.
func (tl Timeline) Total() time.Duration {
	if tl.Loop {
		return tl.EndBound
	}
	return tl.SequenceDuration
}

// At resolves the effective segment at elapsed time t. For looping
// timelines t wraps modulo the sequence duration instead of materializing
// repeats. Returns the segment index, the repetition number, and false when
// t falls past the end of playback.
func (tl Timeline) At(t time.Duration) (index, repetition int, ok bool) {
	if t < 0 || len(tl.Segments) == 0 || tl.SequenceDuration <= 0 {
		return 0, 0, false
	}

	if tl.Loop {
		if tl.EndBound > 0 && t >= tl.EndBound {
			return 0, 0, false
		}
		repetition = int(t / tl.SequenceDuration)
		t = t % tl.SequenceDuration
	} else if t >= tl.SequenceDuration {
		return 0, 0, false
	}

	for i := len(tl.Segments) - 1; i >= 0; i-- {
		if t >= tl.Segments[i].Start {
			return i, repetition, true
		}
	}
	return 0, repetition, true
}

// Repetitions reports how many passes fit in the end bound, including the
// truncated final one. A looping timeline with a 600s sequence and a 1500s
// bound visits the sequence 2.5 times.
func (tl Timeline) Repetitions() float64 {
	if !tl.Loop || tl.SequenceDuration <= 0 || tl.EndBound <= 0 {
		if tl.SequenceDuration > 0 {
			return 1
		}
		return 0
	}
	return float64(tl.EndBound) / float64(tl.SequenceDuration)
}
