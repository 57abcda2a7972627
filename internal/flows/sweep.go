/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package flows

import (
	"context"
	"sync"
	"time"

	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/recurrence"
	"github.com/friendsincode/bragi_flows/internal/telemetry"
)

const sweepConcurrency = 4

// SweepResult summarizes one revalidation pass.
type SweepResult struct {
	Checked    int `json:"checked"`
	Conflicted int `json:"conflicted"`
	Malformed  int `json:"malformed"`
}

// Sweep revalidates every active scheduled flow against the planning
// horizon. Flows whose schedules now collide, or no longer parse, are
// reported via the bus; the sweep never mutates flows itself, operators
// decide what to disable.
//
// Expansion and detection run over an immutable snapshot taken at the start
// of the pass, so concurrent mutations cannot corrupt the results. Work is
// fanned out over a bounded set of goroutines.
func (s *Service) Sweep(ctx context.Context) (*SweepResult, error) {
	started := time.Now()

	snapshot, err := s.store.ListActiveFlows(ctx)
	if err != nil {
		return nil, err
	}

	horizonStart := s.now().UTC()
	horizonEnd := horizonStart.Add(s.horizon)

	var (
		mu     sync.Mutex
		result SweepResult
		wg     sync.WaitGroup
	)
	sem := make(chan struct{}, sweepConcurrency)

	for i := range snapshot {
		flow := snapshot[i]
		if !flow.IsSchedulable() {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}

			candidate, err := recurrence.Expand(flow.Schedule, horizonStart, horizonEnd)
			if err != nil {
				s.logger.Warn().Err(err).Str("flow", flow.ID).Msg("sweep found malformed schedule")
				mu.Lock()
				result.Malformed++
				result.Checked++
				mu.Unlock()
				return
			}

			conflicts := s.detector.FindConflicts(candidate, flow.ID, snapshot, horizonStart, horizonEnd)
			mu.Lock()
			result.Checked++
			if len(conflicts) > 0 {
				result.Conflicted++
			}
			mu.Unlock()

			if len(conflicts) > 0 {
				s.bus.Publish(events.EventConflictFound, events.Payload{
					"flow_id":   flow.ID,
					"flow_name": flow.Name,
					"conflicts": len(conflicts),
					"source":    "sweep",
				})
			}
		}()
	}
	wg.Wait()

	telemetry.SweepDuration.Observe(time.Since(started).Seconds())
	s.bus.Publish(events.EventSweepComplete, events.Payload{
		"checked":    result.Checked,
		"conflicted": result.Conflicted,
		"malformed":  result.Malformed,
	})
	s.logger.Info().
		Int("checked", result.Checked).
		Int("conflicted", result.Conflicted).
		Int("malformed", result.Malformed).
		Dur("took", time.Since(started)).
		Msg("schedule sweep complete")
	return &result, nil
}

// RunNightlySweep blocks until ctx is done, running Sweep once per interval.
func (s *Service) RunNightlySweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("schedule sweep failed")
			}
		}
	}
}
