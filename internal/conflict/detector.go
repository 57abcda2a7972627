/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package conflict detects broadcast-window collisions between scheduled
// flows before they are persisted.
package conflict

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/recurrence"
)

// Conflict names one flow whose occurrence window collides with the
// candidate, with the specific overlapping range so callers can render a
// report a novice can act on.
type Conflict struct {
	FlowID   string            `json:"flow_id"`
	FlowName string            `json:"flow_name"`
	Window   models.Occurrence `json:"window"`
	Reason   string            `json:"reason"`
}

// Detector evaluates candidate occurrence sets against the existing active
// flow population. It holds no mutable state; FindConflicts is safe to call
// concurrently over a consistent flow-list snapshot.
type Detector struct {
	logger zerolog.Logger
}

// NewDetector creates a conflict detector.
func NewDetector(logger zerolog.Logger) *Detector {
	return &Detector{logger: logger.With().Str("component", "conflict_detector").Logger()}
}

// FindConflicts reports every existing flow whose occurrences intersect the
// candidate occurrences within [horizonStart, horizonEnd). Intervals are
// half-open, so a flow ending at 10:00 does not conflict with one starting
// at 10:00. Only scheduled flows in active or running status participate,
// and candidateID excludes the flow being edited from its own check.
//
// A malformed schedule on an existing flow fails closed: that flow is
// reported as conflicting over the whole horizon until it is corrected,
// rather than silently dropping out of the check.
func (d *Detector) FindConflicts(candidate []models.Occurrence, candidateID string, existing []models.Flow, horizonStart, horizonEnd time.Time) []Conflict {
	if len(candidate) == 0 {
		return nil
	}

	var conflicts []Conflict
	for i := range existing {
		flow := &existing[i]
		if flow.ID == candidateID {
			continue
		}
		if !flow.IsSchedulable() {
			continue
		}

		occurrences, err := recurrence.Expand(flow.Schedule, horizonStart, horizonEnd)
		if err != nil {
			d.logger.Warn().Err(err).Str("flow_id", flow.ID).Msg("existing flow has malformed schedule, failing closed")
			conflicts = append(conflicts, Conflict{
				FlowID:   flow.ID,
				FlowName: flow.Name,
				Window:   models.Occurrence{Start: horizonStart, End: horizonEnd},
				Reason:   fmt.Sprintf("schedule of %q could not be expanded (%v); treated as always conflicting until corrected", flow.Name, err),
			})
			continue
		}

		if overlap, ok := firstOverlap(candidate, occurrences); ok {
			conflicts = append(conflicts, Conflict{
				FlowID:   flow.ID,
				FlowName: flow.Name,
				Window:   overlap,
				Reason: fmt.Sprintf("%q also runs from %s to %s; move either flow so only one claims that window",
					flow.Name, overlap.Start.Format(time.RFC3339), overlap.End.Format(time.RFC3339)),
			})
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		return conflicts[i].Window.Start.Before(conflicts[j].Window.Start)
	})
	return conflicts
}

// firstOverlap returns the earliest intersection between two occurrence sets.
// Both sets are in start order, so a merge walk suffices.
func firstOverlap(a, b []models.Occurrence) (models.Occurrence, bool) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i].Overlaps(b[j]) {
			return models.Occurrence{
				Start: maxTime(a[i].Start, b[j].Start),
				End:   minTime(a[i].End, b[j].End),
			}, true
		}
		if a[i].End.Before(b[j].End) {
			i++
		} else {
			j++
		}
	}
	return models.Occurrence{}, false
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
