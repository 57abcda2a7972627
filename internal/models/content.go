/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// ContentItem is a stored audio asset (track, recorded show, announcement).
type ContentItem struct {
	ID       string        `gorm:"type:uuid;primaryKey" json:"id"`
	Title    string        `gorm:"type:varchar(255);not null;index" json:"title"`
	Kind     string        `gorm:"type:varchar(32);not null;default:'track'" json:"kind"`
	Genre    string        `gorm:"type:varchar(64);index" json:"genre,omitempty"`
	Duration time.Duration `json:"duration"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (ContentItem) TableName() string {
	return "content_items"
}

// Jingle is a short station branding element.
type Jingle struct {
	ID       string        `gorm:"type:uuid;primaryKey" json:"id"`
	Title    string        `gorm:"type:varchar(255);not null" json:"title"`
	Duration time.Duration `json:"duration"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (Jingle) TableName() string {
	return "jingles"
}

// CommercialSpot is one sellable advertisement.
type CommercialSpot struct {
	ID       string        `gorm:"type:uuid;primaryKey" json:"id"`
	Title    string        `gorm:"type:varchar(255);not null" json:"title"`
	Type     string        `gorm:"type:varchar(64);index" json:"type,omitempty"`
	BatchID  string        `gorm:"type:uuid;index" json:"batch_id,omitempty"`
	Duration time.Duration `json:"duration"`
	Active   bool          `gorm:"not null;default:true" json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (CommercialSpot) TableName() string {
	return "commercial_spots"
}

// CommercialBatch is a named subgroup of commercials selectable by a
// play_commercials action.
type CommercialBatch struct {
	ID   string `gorm:"type:uuid;primaryKey" json:"id"`
	Name string `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the table name for GORM.
func (CommercialBatch) TableName() string {
	return "commercial_batches"
}
