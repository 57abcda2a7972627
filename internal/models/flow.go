/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/friendsincode/bragi_flows/internal/actions"
)

// TriggerType defines how a flow is started.
type TriggerType string

const (
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerEvent     TriggerType = "event"
)

// FlowStatus defines the lifecycle state of a flow.
type FlowStatus string

const (
	FlowActive   FlowStatus = "active"
	FlowPaused   FlowStatus = "paused"
	FlowDisabled FlowStatus = "disabled"
	FlowRunning  FlowStatus = "running"
)

// Recurrence enumerates the repeating patterns a schedule supports.
type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
	RecurrenceYearly  Recurrence = "yearly"
)

// Schedule describes when a flow's occurrences fall. A schedule is either
// one-time (recurrence=none with absolute datetimes) or recurring
// (time-of-day plus a recurrence selector) — never both.
type Schedule struct {
	Recurrence Recurrence `json:"recurrence"`

	// One-time flows only.
	StartDateTime *time.Time `json:"start_datetime,omitempty"`
	EndDateTime   *time.Time `json:"end_datetime,omitempty"`

	// Recurring flows only. Times are minutes-resolution "HH:MM" strings in
	// the station timezone. EndTime empty means the occurrence is open-ended.
	StartTime string `json:"start_time,omitempty"`
	EndTime   string `json:"end_time,omitempty"`

	// Weekly selector: 0=Sunday .. 6=Saturday. Empty on a weekly schedule is
	// invalid.
	DaysOfWeek []int `json:"days_of_week,omitempty"`

	// Monthly/yearly selectors.
	DayOfMonth int `json:"day_of_month,omitempty"`
	Month      int `json:"month,omitempty"`
}

// IsRecurring reports whether the schedule repeats.
func (s Schedule) IsRecurring() bool {
	return s.Recurrence != "" && s.Recurrence != RecurrenceNone
}

// Occurrence is one concrete time window produced by expanding a schedule.
// Derived and ephemeral; never persisted.
type Occurrence struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`

	// OpenEnded marks an occurrence whose schedule has no end time. The End
	// field then holds the end-of-day bound used for conflict checks only;
	// the dispatcher never auto-stops an open-ended occurrence.
	OpenEnded bool `json:"open_ended,omitempty"`
}

// Overlaps reports half-open [start,end) intersection, so back-to-back
// occurrences at the exact boundary do not overlap.
func (o Occurrence) Overlaps(other Occurrence) bool {
	return o.Start.Before(other.End) && o.End.After(other.Start)
}

// Flow is a named, ordered sequence of broadcast actions with a trigger.
// The flow owns its action list and schedule; neither is shared.
type Flow struct {
	ID            string             `gorm:"type:uuid;primaryKey" json:"id"`
	Name          string             `gorm:"type:varchar(255);not null;index" json:"name"`
	NameSecondary string             `gorm:"type:varchar(255)" json:"name_secondary,omitempty"`
	Actions       actions.ActionList `gorm:"type:jsonb;serializer:json;not null" json:"actions"`
	TriggerType   TriggerType        `gorm:"type:varchar(16);not null;default:'manual'" json:"trigger_type"`
	Schedule      *Schedule          `gorm:"type:jsonb;serializer:json" json:"schedule,omitempty"`
	Status        FlowStatus         `gorm:"type:varchar(16);not null;default:'active';index" json:"status"`
	Priority      int                `gorm:"not null;default:0" json:"priority"`
	Loop          bool               `gorm:"not null;default:false" json:"loop"`
	RunCount      int64              `gorm:"not null;default:0" json:"run_count"`
	LastRun       *time.Time         `json:"last_run,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Flow) TableName() string {
	return "flows"
}

// IsSchedulable reports whether the flow participates in conflict checks and
// automatic dispatch.
func (f *Flow) IsSchedulable() bool {
	if f.TriggerType != TriggerScheduled || f.Schedule == nil {
		return false
	}
	return f.Status == FlowActive || f.Status == FlowRunning
}

// FlowRun records one completed or in-progress execution of a flow.
type FlowRun struct {
	ID         string      `gorm:"type:uuid;primaryKey" json:"id"`
	FlowID     string      `gorm:"type:uuid;index:idx_flow_runs_flow;not null" json:"flow_id"`
	StartedAt  time.Time   `gorm:"not null;index" json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Trigger    TriggerType `gorm:"type:varchar(16);not null" json:"trigger"`
	DryRun     bool        `gorm:"not null;default:false" json:"dry_run"`
	Error      string      `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (FlowRun) TableName() string {
	return "flow_runs"
}
