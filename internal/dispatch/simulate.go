/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dispatch

import (
	"time"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/stepper"
)

// SimulatedStep is one emitted action in a preview run, with its offset
// from the flow start.
type SimulatedStep struct {
	Index      int            `json:"index"`
	Repetition int            `json:"repetition"`
	Offset     time.Duration  `json:"offset"`
	Duration   time.Duration  `json:"duration"`
	Kind       actions.Kind   `json:"kind"`
	Action     actions.Action `json:"action"`
	Invalid    bool           `json:"invalid,omitempty"`
}

// Simulation is the full preview of one run.
type Simulation struct {
	FlowID           string          `json:"flow_id"`
	Steps            []SimulatedStep `json:"steps"`
	SequenceDuration time.Duration   `json:"sequence_duration"`
	TotalDuration    time.Duration   `json:"total_duration"`
	Repetitions      float64         `json:"repetitions"`
	Truncated        bool            `json:"truncated"`
}

// Simulate walks the flow's timeline without timers and returns every
// action emission in order, including looped repetitions up to the end
// bound. Deterministic and side-effect free.
func Simulate(flow *models.Flow, defaults actions.Defaults, endBound time.Duration) *Simulation {
	tl := stepper.BuildTimeline(flow.Actions, defaults, flow.Loop, endBound)

	sim := &Simulation{
		FlowID:           flow.ID,
		SequenceDuration: tl.SequenceDuration,
		TotalDuration:    tl.Total(),
		Repetitions:      tl.Repetitions(),
	}

	appendPass := func(repetition int, base time.Duration, cutoff time.Duration) {
		for _, seg := range tl.Segments {
			offset := base + seg.Start
			if cutoff > 0 && offset >= cutoff {
				sim.Truncated = true
				return
			}
			duration := seg.Duration
			if cutoff > 0 && offset+duration > cutoff {
				duration = cutoff - offset
				sim.Truncated = true
			}
			sim.Steps = append(sim.Steps, SimulatedStep{
				Index:      seg.Index,
				Repetition: repetition,
				Offset:     offset,
				Duration:   duration,
				Kind:       seg.Action.Kind(),
				Action:     seg.Action,
				Invalid:    seg.Invalid,
			})
		}
	}

	if !flow.Loop || tl.SequenceDuration <= 0 {
		appendPass(0, 0, 0)
		return sim
	}

	if endBound <= 0 {
		// Unbounded loops preview a single pass.
		appendPass(0, 0, 0)
		return sim
	}

	rep := 0
	for base := time.Duration(0); base < endBound; base += tl.SequenceDuration {
		appendPass(rep, base, endBound)
		rep++
	}
	return sim
}
