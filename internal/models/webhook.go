/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookTarget stores an outbound webhook endpoint and the event types
// it wants. Events is comma-separated; empty means all.
type WebhookTarget struct {
	ID     string `gorm:"type:uuid;primaryKey" json:"id"`
	URL    string `gorm:"type:varchar(512);not null" json:"url"`
	Events string `gorm:"type:varchar(255)" json:"events"`
	Secret string `gorm:"type:varchar(255)" json:"-"` // for HMAC signing
	Active bool   `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (WebhookTarget) TableName() string {
	return "webhook_targets"
}

// NewWebhookTarget creates a webhook target with a random secret.
func NewWebhookTarget(url, events string) *WebhookTarget {
	return &WebhookTarget{
		ID:     uuid.NewString(),
		URL:    url,
		Events: events,
		Secret: uuid.NewString(),
		Active: true,
	}
}

// WebhookLog records webhook delivery attempts.
type WebhookLog struct {
	ID         string    `gorm:"type:uuid;primaryKey" json:"id"`
	TargetID   string    `gorm:"type:uuid;index;not null" json:"target_id"`
	Event      string    `gorm:"type:varchar(64);not null" json:"event"`
	Payload    string    `gorm:"type:text;not null" json:"payload"`
	StatusCode int       `json:"status_code"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Duration   int       `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName returns the table name for GORM.
func (WebhookLog) TableName() string {
	return "webhook_logs"
}
