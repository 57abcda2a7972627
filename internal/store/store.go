/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the persistence boundary. The core scheduling and
// execution logic only sees the Store interface; the GORM implementation
// lives alongside so the service wires up with any of the supported SQL
// backends.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/bragi_flows/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// CommercialFilter narrows scheduled commercial selection.
type CommercialFilter struct {
	Batch        string
	IncludeTypes []string
	ExcludeTypes []string
	MaxCount     int
	MaxDuration  time.Duration
}

// Store abstracts flow and reference-data persistence. Reads used for
// conflict checks are assumed strongly consistent; a check-then-save race
// between two concurrent writers is an accepted, documented limitation.
type Store interface {
	GetFlow(ctx context.Context, id string) (*models.Flow, error)
	ListFlows(ctx context.Context) ([]models.Flow, error)
	ListActiveFlows(ctx context.Context) ([]models.Flow, error)
	SaveFlow(ctx context.Context, flow *models.Flow) error
	DeleteFlow(ctx context.Context, id string) error

	CreateRun(ctx context.Context, run *models.FlowRun) error
	FinishRun(ctx context.Context, runID string, at time.Time, runErr string) error
	ListRuns(ctx context.Context, flowID string, limit int) ([]models.FlowRun, error)

	GetContentItem(ctx context.Context, id string) (*models.ContentItem, error)
	GetJingle(ctx context.Context, id string) (*models.Jingle, error)
	ListScheduledCommercials(ctx context.Context, filter CommercialFilter) ([]models.CommercialSpot, error)
}
