/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package flows owns the flow aggregate: validation, conflict-checked
// persistence, lifecycle transitions, and run bookkeeping.
package flows

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/actions"
	"github.com/friendsincode/bragi_flows/internal/conflict"
	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/recurrence"
	"github.com/friendsincode/bragi_flows/internal/store"
	"github.com/friendsincode/bragi_flows/internal/telemetry"
)

// DefaultPlanningHorizon is how far ahead conflict checks look on create and
// update.
const DefaultPlanningHorizon = 90 * 24 * time.Hour

// Service orchestrates flow mutations. All external I/O goes through the
// store at the boundary; expansion and conflict detection are pure.
type Service struct {
	store    store.Store
	detector *conflict.Detector
	bus      events.Broker
	logger   zerolog.Logger
	horizon  time.Duration
	now      func() time.Time
}

// New constructs the flow service.
func New(st store.Store, detector *conflict.Detector, bus events.Broker, horizon time.Duration, logger zerolog.Logger) *Service {
	if horizon <= 0 {
		horizon = DefaultPlanningHorizon
	}
	return &Service{
		store:    st,
		detector: detector,
		bus:      bus,
		logger:   logger.With().Str("component", "flows").Logger(),
		horizon:  horizon,
		now:      time.Now,
	}
}

// Draft is the caller-supplied definition of a new flow.
type Draft struct {
	Name          string             `json:"name"`
	NameSecondary string             `json:"name_secondary,omitempty"`
	Actions       actions.ActionList `json:"actions"`
	TriggerType   models.TriggerType `json:"trigger_type"`
	Schedule      *models.Schedule   `json:"schedule,omitempty"`
	Priority      int                `json:"priority,omitempty"`
	Loop          bool               `json:"loop,omitempty"`

	// Force persists a conflicting draft anyway, in disabled status, instead
	// of rejecting it.
	Force bool `json:"force,omitempty"`
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Name          *string             `json:"name,omitempty"`
	NameSecondary *string             `json:"name_secondary,omitempty"`
	Actions       *actions.ActionList `json:"actions,omitempty"`
	TriggerType   *models.TriggerType `json:"trigger_type,omitempty"`
	Schedule      *models.Schedule    `json:"schedule,omitempty"`
	ClearSchedule bool                `json:"clear_schedule,omitempty"`
	Priority      *int                `json:"priority,omitempty"`
	Loop          *bool               `json:"loop,omitempty"`
	Force         bool                `json:"force,omitempty"`
}

// Create validates the draft, runs the overlap check over the planning
// horizon, and persists. Conflicts are a hard block unless the caller forces
// the write, which lands the flow in disabled status.
func (s *Service) Create(ctx context.Context, draft Draft) (*models.Flow, error) {
	flow := &models.Flow{
		ID:            uuid.NewString(),
		Name:          draft.Name,
		NameSecondary: draft.NameSecondary,
		Actions:       draft.Actions,
		TriggerType:   draft.TriggerType,
		Schedule:      draft.Schedule,
		Status:        models.FlowActive,
		Priority:      draft.Priority,
		Loop:          draft.Loop,
	}

	if err := s.validateFlow(flow); err != nil {
		return nil, err
	}

	conflicts, err := s.checkConflicts(ctx, flow)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		if !draft.Force {
			return nil, &ConflictError{Conflicts: conflicts}
		}
		flow.Status = models.FlowDisabled
		s.logger.Warn().Str("flow", flow.ID).Int("conflicts", len(conflicts)).Msg("conflicting flow persisted as disabled on caller request")
	}

	if err := s.store.SaveFlow(ctx, flow); err != nil {
		return nil, err
	}

	telemetry.FlowMutationsTotal.WithLabelValues("create").Inc()
	s.publish(events.EventFlowCreated, flow)
	return flow, nil
}

// Update applies a patch with the same validation and conflict rules as
// Create. The flow's own prior occurrences are excluded from the check.
// Running flows cannot be edited.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (*models.Flow, error) {
	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Status == models.FlowRunning {
		return nil, &InvalidStateError{FlowID: id, Status: flow.Status, Op: "update"}
	}

	updated := *flow
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.NameSecondary != nil {
		updated.NameSecondary = *patch.NameSecondary
	}
	if patch.Actions != nil {
		updated.Actions = *patch.Actions
	}
	if patch.TriggerType != nil {
		updated.TriggerType = *patch.TriggerType
	}
	if patch.ClearSchedule {
		updated.Schedule = nil
	} else if patch.Schedule != nil {
		updated.Schedule = patch.Schedule
	}
	if patch.Priority != nil {
		updated.Priority = *patch.Priority
	}
	if patch.Loop != nil {
		updated.Loop = *patch.Loop
	}

	if err := s.validateFlow(&updated); err != nil {
		return nil, err
	}

	conflicts, err := s.checkConflicts(ctx, &updated)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		if !patch.Force {
			return nil, &ConflictError{Conflicts: conflicts}
		}
		updated.Status = models.FlowDisabled
	}

	if err := s.store.SaveFlow(ctx, &updated); err != nil {
		return nil, err
	}

	telemetry.FlowMutationsTotal.WithLabelValues("update").Inc()
	s.publish(events.EventFlowUpdated, &updated)
	s.bus.Publish(events.EventScheduleUpdate, events.Payload{"flow_id": updated.ID})
	return &updated, nil
}

// Toggle flips a flow between active and paused. Pausing removes the flow
// from dispatch; re-activating a disabled flow re-runs the conflict check
// first. Running flows cannot be toggled.
func (s *Service) Toggle(ctx context.Context, id string) (*models.Flow, error) {
	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	switch flow.Status {
	case models.FlowActive:
		flow.Status = models.FlowPaused
	case models.FlowPaused:
		flow.Status = models.FlowActive
	case models.FlowDisabled:
		flow.Status = models.FlowActive
		conflicts, err := s.checkConflicts(ctx, flow)
		if err != nil {
			return nil, err
		}
		if len(conflicts) > 0 {
			return nil, &ConflictError{Conflicts: conflicts}
		}
	case models.FlowRunning:
		return nil, &InvalidStateError{FlowID: id, Status: flow.Status, Op: "toggle"}
	default:
		return nil, &InvalidStateError{FlowID: id, Status: flow.Status, Op: "toggle"}
	}

	if err := s.store.SaveFlow(ctx, flow); err != nil {
		return nil, err
	}

	telemetry.FlowMutationsTotal.WithLabelValues("toggle").Inc()
	s.publish(events.EventFlowToggled, flow)
	s.bus.Publish(events.EventScheduleUpdate, events.Payload{"flow_id": flow.ID})
	return flow, nil
}

// Delete removes a flow permanently.
func (s *Service) Delete(ctx context.Context, id string) error {
	err := s.store.DeleteFlow(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{FlowID: id}
	}
	if err != nil {
		return err
	}
	telemetry.FlowMutationsTotal.WithLabelValues("delete").Inc()
	s.bus.Publish(events.EventFlowDeleted, events.Payload{"flow_id": id})
	s.bus.Publish(events.EventScheduleUpdate, events.Payload{"flow_id": id})
	return nil
}

// Get loads one flow.
func (s *Service) Get(ctx context.Context, id string) (*models.Flow, error) {
	return s.load(ctx, id)
}

// List returns all flows.
func (s *Service) List(ctx context.Context) ([]models.Flow, error) {
	return s.store.ListFlows(ctx)
}

// Runs returns the run history for a flow, newest first.
func (s *Service) Runs(ctx context.Context, flowID string, limit int) ([]models.FlowRun, error) {
	if _, err := s.load(ctx, flowID); err != nil {
		return nil, err
	}
	return s.store.ListRuns(ctx, flowID, limit)
}

// ReorderActions moves the action at fromIndex to toIndex.
func (s *Service) ReorderActions(ctx context.Context, id string, fromIndex, toIndex int) (*models.Flow, error) {
	return s.mutateActions(ctx, id, "reorder actions", func(list actions.ActionList) (actions.ActionList, error) {
		if fromIndex < 0 || fromIndex >= len(list) || toIndex < 0 || toIndex >= len(list) {
			return nil, validationf("reorder indexes out of range (%d -> %d of %d)", fromIndex, toIndex, len(list))
		}
		moved := list[fromIndex]
		list = append(list[:fromIndex], list[fromIndex+1:]...)
		rest := append(actions.ActionList{}, list[toIndex:]...)
		list = append(append(list[:toIndex], moved), rest...)
		return list, nil
	})
}

// AddAction inserts an action at atIndex (or appends when atIndex is past
// the end).
func (s *Service) AddAction(ctx context.Context, id string, action actions.Action, atIndex int) (*models.Flow, error) {
	return s.mutateActions(ctx, id, "add action", func(list actions.ActionList) (actions.ActionList, error) {
		if err := action.Validate(); err != nil {
			return nil, validationf("%v", err)
		}
		if atIndex < 0 || atIndex > len(list) {
			atIndex = len(list)
		}
		rest := append(actions.ActionList{}, list[atIndex:]...)
		return append(append(list[:atIndex], action), rest...), nil
	})
}

// RemoveAction deletes the action at index. The resulting list must stay
// non-empty; a flow is never persisted with zero actions.
func (s *Service) RemoveAction(ctx context.Context, id string, index int) (*models.Flow, error) {
	return s.mutateActions(ctx, id, "remove action", func(list actions.ActionList) (actions.ActionList, error) {
		if index < 0 || index >= len(list) {
			return nil, validationf("remove index %d out of range of %d actions", index, len(list))
		}
		if len(list) == 1 {
			return nil, validationf("a flow must keep at least one action")
		}
		return append(list[:index], list[index+1:]...), nil
	})
}

func (s *Service) mutateActions(ctx context.Context, id, op string, mutate func(actions.ActionList) (actions.ActionList, error)) (*models.Flow, error) {
	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Status == models.FlowRunning {
		return nil, &InvalidStateError{FlowID: id, Status: flow.Status, Op: op}
	}

	list := append(actions.ActionList{}, flow.Actions...)
	list, err = mutate(list)
	if err != nil {
		return nil, err
	}
	flow.Actions = list

	if err := s.store.SaveFlow(ctx, flow); err != nil {
		return nil, err
	}
	s.publish(events.EventFlowUpdated, flow)
	return flow, nil
}

// RunHandle tracks an in-progress execution started by BeginRun.
type RunHandle struct {
	Run        *models.FlowRun
	FlowID     string
	prevStatus models.FlowStatus
}

// BeginRun marks the flow running and records the run start. The
// status=running transition doubles as the mutual-exclusion flag: a second
// BeginRun on an already-running flow is rejected, never queued.
func (s *Service) BeginRun(ctx context.Context, id string, trigger models.TriggerType, dryRun bool) (*RunHandle, error) {
	flow, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if flow.Status == models.FlowRunning {
		return nil, &InvalidStateError{FlowID: id, Status: flow.Status, Op: "run"}
	}
	if flow.Status == models.FlowDisabled {
		return nil, &InvalidStateError{FlowID: id, Status: flow.Status, Op: "run"}
	}

	handle := &RunHandle{
		FlowID:     id,
		prevStatus: flow.Status,
		Run: &models.FlowRun{
			ID:        uuid.NewString(),
			FlowID:    id,
			StartedAt: s.now().UTC(),
			Trigger:   trigger,
			DryRun:    dryRun,
		},
	}

	now := handle.Run.StartedAt
	flow.Status = models.FlowRunning
	flow.RunCount++
	flow.LastRun = &now

	if !dryRun {
		if err := s.store.SaveFlow(ctx, flow); err != nil {
			return nil, err
		}
		if err := s.store.CreateRun(ctx, handle.Run); err != nil {
			return nil, err
		}
	}

	telemetry.FlowRunsTotal.WithLabelValues(string(trigger)).Inc()
	s.bus.Publish(events.EventFlowStarted, events.Payload{
		"flow_id": id,
		"run_id":  handle.Run.ID,
		"trigger": string(trigger),
		"dry_run": dryRun,
	})
	return handle, nil
}

// FinishRun closes the run and restores the flow's prior status. Status is
// last-writer-wins: if something else changed the status while the run was
// in flight, that change sticks. Run count and last run are monotonic and
// never rolled back.
func (s *Service) FinishRun(ctx context.Context, handle *RunHandle, runErr error) error {
	if handle == nil {
		return fmt.Errorf("nil run handle")
	}

	errText := ""
	if runErr != nil {
		errText = runErr.Error()
	}
	finished := s.now().UTC()

	if !handle.Run.DryRun {
		if err := s.store.FinishRun(ctx, handle.Run.ID, finished, errText); err != nil {
			s.logger.Warn().Err(err).Str("run", handle.Run.ID).Msg("failed to close run record")
		}

		flow, err := s.load(ctx, handle.FlowID)
		if err == nil && flow.Status == models.FlowRunning {
			flow.Status = handle.prevStatus
			if err := s.store.SaveFlow(ctx, flow); err != nil {
				return err
			}
		}
	}

	s.bus.Publish(events.EventFlowFinished, events.Payload{
		"flow_id": handle.FlowID,
		"run_id":  handle.Run.ID,
		"error":   errText,
	})
	return nil
}

// UpcomingOccurrence pairs a flow with one expanded window, for schedule
// views.
type UpcomingOccurrence struct {
	FlowID     string            `json:"flow_id"`
	FlowName   string            `json:"flow_name"`
	Priority   int               `json:"priority"`
	Occurrence models.Occurrence `json:"occurrence"`
}

// Upcoming expands every schedulable flow over [from, from+horizon) and
// returns the windows in start order. Ties at the same instant order by
// priority descending, the executor's tie-break.
func (s *Service) Upcoming(ctx context.Context, from time.Time, horizon time.Duration) ([]UpcomingOccurrence, error) {
	if horizon <= 0 {
		horizon = 24 * time.Hour
	}
	active, err := s.store.ListActiveFlows(ctx)
	if err != nil {
		return nil, err
	}

	var upcoming []UpcomingOccurrence
	for i := range active {
		flow := &active[i]
		if !flow.IsSchedulable() {
			continue
		}
		occurrences, err := recurrence.Expand(flow.Schedule, from, from.Add(horizon))
		if err != nil {
			s.logger.Warn().Err(err).Str("flow", flow.ID).Msg("skipping flow with malformed schedule in upcoming view")
			continue
		}
		for _, occ := range occurrences {
			upcoming = append(upcoming, UpcomingOccurrence{
				FlowID:     flow.ID,
				FlowName:   flow.Name,
				Priority:   flow.Priority,
				Occurrence: occ,
			})
		}
	}

	sort.Slice(upcoming, func(i, j int) bool {
		if upcoming[i].Occurrence.Start.Equal(upcoming[j].Occurrence.Start) {
			return upcoming[i].Priority > upcoming[j].Priority
		}
		return upcoming[i].Occurrence.Start.Before(upcoming[j].Occurrence.Start)
	})
	return upcoming, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Flow, error) {
	flow, err := s.store.GetFlow(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &NotFoundError{FlowID: id}
	}
	if err != nil {
		return nil, err
	}
	return flow, nil
}

func (s *Service) validateFlow(flow *models.Flow) error {
	if flow.Name == "" {
		return validationf("name is required")
	}
	if err := flow.Actions.Validate(); err != nil {
		return validationf("%v", err)
	}

	switch flow.TriggerType {
	case models.TriggerScheduled:
		if flow.Schedule == nil {
			return validationf("scheduled flows require a schedule")
		}
		if err := recurrence.Validate(flow.Schedule); err != nil {
			return validationf("%v", err)
		}
	case models.TriggerManual, models.TriggerEvent:
		if flow.Schedule != nil {
			return validationf("%s flows must not carry a schedule", flow.TriggerType)
		}
	default:
		return validationf("unknown trigger type %q", flow.TriggerType)
	}
	return nil
}

// checkConflicts expands the candidate over the planning horizon and runs
// the detector against the active flow snapshot.
func (s *Service) checkConflicts(ctx context.Context, flow *models.Flow) ([]conflict.Conflict, error) {
	if flow.TriggerType != models.TriggerScheduled || flow.Schedule == nil {
		return nil, nil
	}

	horizonStart := s.now().UTC()
	horizonEnd := horizonStart.Add(s.horizon)

	started := time.Now()
	candidate, err := recurrence.Expand(flow.Schedule, horizonStart, horizonEnd)
	if err != nil {
		return nil, validationf("%v", err)
	}

	existing, err := s.store.ListActiveFlows(ctx)
	if err != nil {
		return nil, err
	}

	conflicts := s.detector.FindConflicts(candidate, flow.ID, existing, horizonStart, horizonEnd)
	telemetry.ConflictCheckDuration.Observe(time.Since(started).Seconds())
	if len(conflicts) > 0 {
		telemetry.ConflictsDetectedTotal.Add(float64(len(conflicts)))
		s.bus.Publish(events.EventConflictFound, events.Payload{
			"flow_id":   flow.ID,
			"conflicts": len(conflicts),
		})
	}
	return conflicts, nil
}

func (s *Service) publish(eventType events.EventType, flow *models.Flow) {
	s.bus.Publish(eventType, events.Payload{
		"flow_id": flow.ID,
		"name":    flow.Name,
		"status":  string(flow.Status),
	})
}
