/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dispatch drives scheduled flow execution: it watches the expanded
// schedule, starts a stepper per due occurrence, and stops it at the
// occurrence end.
package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/content"
	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/flows"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/stepper"
	"github.com/friendsincode/bragi_flows/internal/store"
)

const (
	tickInterval = 2 * time.Second
	lookahead    = 5 * time.Second
	startGrace   = 30 * time.Second
)

type activeRun struct {
	step   *stepper.Stepper
	handle *flows.RunHandle
	ends   time.Time
	// openEnded runs are never auto-stopped at the occurrence end; only a
	// finished sequence or an external stop ends them.
	openEnded bool
	cancel    context.CancelFunc
}

// Dispatcher executes due occurrences until context cancellation.
type Dispatcher struct {
	flows    *flows.Service
	bus      events.Broker
	resolver *content.Resolver
	defaults actions.Defaults
	logger   zerolog.Logger

	mu      sync.Mutex
	started map[string]time.Time // occurrence key -> prune-after
	active  map[string]*activeRun
}

// New creates a dispatcher. resolver may be nil; emissions then carry raw
// ids instead of display titles.
func New(flowSvc *flows.Service, bus events.Broker, resolver *content.Resolver, defaults actions.Defaults, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		flows:    flowSvc,
		bus:      bus,
		resolver: resolver,
		defaults: defaults,
		logger:   logger.With().Str("component", "dispatch").Logger(),
		started:  make(map[string]time.Time),
		active:   make(map[string]*activeRun),
	}
}

// Run executes the dispatch loop until context cancellation.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.logger.Info().Msg("dispatcher started")
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.stopAll()
			d.logger.Info().Msg("dispatcher stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := d.tick(ctx); err != nil {
				d.logger.Error().Err(err).Msg("dispatch tick failed")
			}
		}
	}
}

func (d *Dispatcher) tick(ctx context.Context) error {
	now := time.Now().UTC()
	d.pruneStarted(now)

	// Look slightly behind now so an occurrence is not lost to tick jitter.
	upcoming, err := d.flows.Upcoming(ctx, now.Add(-startGrace), startGrace+lookahead)
	if err != nil {
		return err
	}

	for _, occ := range upcoming {
		if occ.Occurrence.Start.After(now) {
			continue
		}
		if !occ.Occurrence.OpenEnded && !occ.Occurrence.End.After(now) {
			continue
		}

		key := occurrenceKey(occ.FlowID, occ.Occurrence.Start)
		if d.isStarted(key) {
			continue
		}
		d.markStarted(key, occ.Occurrence.End)

		if err := d.start(ctx, occ); err != nil {
			d.logger.Warn().Err(err).Str("flow", occ.FlowID).Msg("could not start due occurrence")
		}
	}
	return nil
}

// start begins a run for one due occurrence. The flow service's
// status=running transition is the mutual-exclusion guard: a second start
// on the same flow is rejected there.
func (d *Dispatcher) start(ctx context.Context, occ flows.UpcomingOccurrence) error {
	flow, err := d.flows.Get(ctx, occ.FlowID)
	if err != nil {
		return err
	}

	handle, err := d.flows.BeginRun(ctx, flow.ID, models.TriggerScheduled, false)
	if err != nil {
		return err
	}

	var endBound time.Duration
	if flow.Loop && !occ.Occurrence.OpenEnded {
		endBound = occ.Occurrence.End.Sub(occ.Occurrence.Start)
	}
	step := stepper.New(stepper.Config{
		FlowID:   flow.ID,
		Actions:  flow.Actions,
		Defaults: d.defaults,
		Loop:     flow.Loop,
		EndBound: endBound,
		Sink:     d.liveSink(handle.Run.ID),
		Logger:   d.logger,
	})

	runCtx, cancel := context.WithCancel(ctx)
	run := &activeRun{
		step:      step,
		handle:    handle,
		ends:      occ.Occurrence.End,
		openEnded: occ.Occurrence.OpenEnded,
		cancel:    cancel,
	}

	d.mu.Lock()
	d.active[flow.ID] = run
	d.mu.Unlock()

	if err := step.Play(); err != nil {
		cancel()
		d.finish(flow.ID, run, err)
		return err
	}

	go d.watch(runCtx, flow.ID, run)

	d.logger.Info().
		Str("flow", flow.ID).
		Str("name", flow.Name).
		Time("starts", occ.Occurrence.Start).
		Time("ends", occ.Occurrence.End).
		Bool("open_ended", occ.Occurrence.OpenEnded).
		Msg("flow playback started")
	return nil
}

// watch waits for the run to end: the sequence finishing, the occurrence
// end passing, or an external stop.
func (d *Dispatcher) watch(ctx context.Context, flowID string, run *activeRun) {
	var endC <-chan time.Time
	if !run.openEnded && !run.ends.IsZero() {
		delay := time.Until(run.ends)
		if delay < 0 {
			delay = 0
		}
		timer := time.NewTimer(delay)
		defer timer.Stop()
		endC = timer.C
	}

	select {
	case <-run.step.Done():
	case <-endC:
		if err := run.step.Pause(); err != nil {
			d.logger.Debug().Err(err).Str("flow", flowID).Msg("stop at occurrence end")
		}
	case <-ctx.Done():
		if err := run.step.Pause(); err != nil {
			d.logger.Debug().Err(err).Str("flow", flowID).Msg("stop on shutdown")
		}
	}
	d.finish(flowID, run, nil)
}

// RunManual starts playback for a flow outside its schedule. Looping flows
// run until stopped; one-shot flows run to the end of the sequence.
func (d *Dispatcher) RunManual(ctx context.Context, flowID string) error {
	flow, err := d.flows.Get(ctx, flowID)
	if err != nil {
		return err
	}

	handle, err := d.flows.BeginRun(ctx, flow.ID, models.TriggerManual, false)
	if err != nil {
		return err
	}

	step := stepper.New(stepper.Config{
		FlowID:   flow.ID,
		Actions:  flow.Actions,
		Defaults: d.defaults,
		Loop:     flow.Loop,
		Sink:     d.liveSink(handle.Run.ID),
		Logger:   d.logger,
	})

	runCtx, cancel := context.WithCancel(context.Background())
	run := &activeRun{
		step:      step,
		handle:    handle,
		openEnded: flow.Loop,
		cancel:    cancel,
	}

	d.mu.Lock()
	d.active[flow.ID] = run
	d.mu.Unlock()

	if err := step.Play(); err != nil {
		cancel()
		d.finish(flow.ID, run, err)
		return err
	}

	go d.watch(runCtx, flow.ID, run)
	d.logger.Info().Str("flow", flow.ID).Str("name", flow.Name).Msg("manual flow playback started")
	return nil
}

// Stop cancels a running flow's playback, if any.
func (d *Dispatcher) Stop(flowID string) bool {
	d.mu.Lock()
	run, ok := d.active[flowID]
	d.mu.Unlock()
	if !ok {
		return false
	}
	run.cancel()
	return true
}

func (d *Dispatcher) finish(flowID string, run *activeRun, runErr error) {
	d.mu.Lock()
	if current, ok := d.active[flowID]; !ok || current != run {
		d.mu.Unlock()
		return
	}
	delete(d.active, flowID)
	d.mu.Unlock()

	if err := d.flows.FinishRun(context.Background(), run.handle, runErr); err != nil {
		d.logger.Warn().Err(err).Str("flow", flowID).Msg("failed to finish run")
	}
}

func (d *Dispatcher) stopAll() {
	d.mu.Lock()
	runs := make([]*activeRun, 0, len(d.active))
	for _, run := range d.active {
		runs = append(runs, run)
	}
	d.mu.Unlock()
	for _, run := range runs {
		run.cancel()
	}
}

// liveSink publishes each current action to the event bus. The playback
// subsystem subscribes independently.
func (d *Dispatcher) liveSink(runID string) stepper.Sink {
	return stepper.SinkFunc(func(flowID string, action actions.Action, occurredAt time.Time) error {
		payload := events.Payload{
			"flow_id":     flowID,
			"run_id":      runID,
			"action_kind": string(action.Kind()),
			"action":      action,
			"occurred_at": occurredAt,
		}
		d.enrich(payload, action)
		d.bus.Publish(events.EventActionDispatch, payload)
		return nil
	})
}

// enrich attaches display titles and selected commercial spots where the
// action references stored content. Lookup failures degrade to raw ids and
// never block dispatch.
func (d *Dispatcher) enrich(payload events.Payload, action actions.Action) {
	if d.resolver == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	switch a := action.(type) {
	case actions.PlayContent:
		payload["content_title"] = d.resolver.ResolveContentTitle(ctx, a.ContentID)
	case actions.PlayShow:
		payload["content_title"] = d.resolver.ResolveContentTitle(ctx, a.ContentID)
	case actions.PlayJingle:
		payload["jingle_title"] = d.resolver.ResolveJingleTitle(ctx, a.JingleID)
	case actions.PlayScheduledCommercials:
		spots, err := d.resolver.SelectCommercials(ctx, store.CommercialFilter{
			IncludeTypes: a.IncludeTypes,
			ExcludeTypes: a.ExcludeTypes,
			MaxCount:     a.MaxCount,
			MaxDuration:  time.Duration(a.MaxDurationSeconds) * time.Second,
		})
		if err != nil {
			d.logger.Debug().Err(err).Msg("commercial selection failed")
			return
		}
		ids := make([]string, 0, len(spots))
		for _, spot := range spots {
			ids = append(ids, spot.ID)
		}
		payload["commercial_spots"] = ids
	}
}

func (d *Dispatcher) isStarted(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.started[key]
	return ok
}

func (d *Dispatcher) markStarted(key string, pruneAfter time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started[key] = pruneAfter
}

func (d *Dispatcher) pruneStarted(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, pruneAfter := range d.started {
		if now.After(pruneAfter.Add(time.Hour)) {
			delete(d.started, key)
		}
	}
}

func occurrenceKey(flowID string, start time.Time) string {
	return flowID + "|" + start.UTC().Format(time.RFC3339)
}
