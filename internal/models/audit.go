/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// AuditAction defines the type of audited action.
type AuditAction string

// Audit action constants for flow lifecycle operations.
const (
	AuditActionFlowCreate    AuditAction = "flow.create"
	AuditActionFlowUpdate    AuditAction = "flow.update"
	AuditActionFlowDelete    AuditAction = "flow.delete"
	AuditActionFlowToggle    AuditAction = "flow.toggle"
	AuditActionRunStart      AuditAction = "run.start"
	AuditActionRunFinish     AuditAction = "run.finish"
	AuditActionConflictFound AuditAction = "schedule.conflict"
	AuditActionSweepComplete AuditAction = "schedule.sweep"
)

// AuditLog records flow mutations and run activity for operator review.
type AuditLog struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Timestamp time.Time      `gorm:"index:idx_audit_timestamp;not null" json:"timestamp"`
	Action    AuditAction    `gorm:"type:varchar(64);index:idx_audit_action;not null" json:"action"`
	FlowID    string         `gorm:"type:uuid;index:idx_audit_flow" json:"flow_id,omitempty"`
	FlowName  string         `gorm:"type:varchar(255)" json:"flow_name,omitempty"`
	Details   map[string]any `gorm:"type:jsonb;serializer:json" json:"details,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// TableName returns the table name for GORM.
func (AuditLog) TableName() string {
	return "audit_logs"
}
