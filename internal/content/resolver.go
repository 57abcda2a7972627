/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package content enriches actions with display data from the reference
// tables. Lookups are display-only: a missing title never blocks execution.
package content

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/store"
)

// Resolver looks up titles and durations for content-referencing actions.
type Resolver struct {
	store  store.Store
	logger zerolog.Logger
}

// NewResolver creates a content resolver.
func NewResolver(st store.Store, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  st,
		logger: logger.With().Str("component", "content").Logger(),
	}
}

// ResolveContentTitle returns the display title for a content id. Missing
// or failed lookups degrade to the raw id.
func (r *Resolver) ResolveContentTitle(ctx context.Context, contentID string) string {
	item, err := r.store.GetContentItem(ctx, contentID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			r.logger.Debug().Err(err).Str("content", contentID).Msg("content title lookup failed")
		}
		return contentID
	}
	if item.Title == "" {
		return contentID
	}
	return item.Title
}

// ResolveJingleTitle returns the display title for a jingle id, degrading
// to the raw id.
func (r *Resolver) ResolveJingleTitle(ctx context.Context, jingleID string) string {
	jingle, err := r.store.GetJingle(ctx, jingleID)
	if err != nil || jingle.Title == "" {
		return jingleID
	}
	return jingle.Title
}

// ContentDuration returns the stored duration for a content id, or zero
// when unknown.
func (r *Resolver) ContentDuration(ctx context.Context, contentID string) time.Duration {
	item, err := r.store.GetContentItem(ctx, contentID)
	if err != nil {
		return 0
	}
	return item.Duration
}

// SelectCommercials picks scheduled spots for a play_scheduled_commercials
// action, honoring batch, include/exclude type filters and count/duration
// budgets.
func (r *Resolver) SelectCommercials(ctx context.Context, filter store.CommercialFilter) ([]models.CommercialSpot, error) {
	return r.store.ListScheduledCommercials(ctx, filter)
}
