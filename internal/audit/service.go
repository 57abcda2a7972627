/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package audit persists a trail of flow mutations, run activity, and
// detected conflicts by listening on the event bus.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/models"
)

// Service records audit entries from bus events.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
}

// NewService creates an audit recorder.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "audit").Logger(),
	}
}

// audited maps bus event types to the audit action they record. Action
// dispatch emissions are deliberately absent: at one row per segment
// they would drown the trail, and run records already cover playback.
var audited = map[events.EventType]models.AuditAction{
	events.EventFlowCreated:   models.AuditActionFlowCreate,
	events.EventFlowUpdated:   models.AuditActionFlowUpdate,
	events.EventFlowDeleted:   models.AuditActionFlowDelete,
	events.EventFlowToggled:   models.AuditActionFlowToggle,
	events.EventFlowStarted:   models.AuditActionRunStart,
	events.EventFlowFinished:  models.AuditActionRunFinish,
	events.EventConflictFound: models.AuditActionConflictFound,
	events.EventSweepComplete: models.AuditActionSweepComplete,
}

// Run subscribes to the audited event types and records entries until
// ctx is done.
func (s *Service) Run(ctx context.Context) error {
	type subscription struct {
		eventType events.EventType
		action    models.AuditAction
		ch        events.Subscriber
	}

	subs := make([]subscription, 0, len(audited))
	for eventType, action := range audited {
		subs = append(subs, subscription{eventType, action, s.bus.Subscribe(eventType)})
	}
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub.eventType, sub.ch)
		}
	}()

	// Funnel all subscriptions into one channel so the loop stays a
	// plain two-way select.
	type tagged struct {
		action  models.AuditAction
		payload events.Payload
	}
	funnel := make(chan tagged, 16)
	funnelCtx, stopFunnel := context.WithCancel(ctx)
	defer stopFunnel()
	for _, sub := range subs {
		go func(sub subscription) {
			for {
				select {
				case <-funnelCtx.Done():
					return
				case payload := <-sub.ch:
					select {
					case funnel <- tagged{sub.action, payload}:
					case <-funnelCtx.Done():
						return
					}
				}
			}
		}(sub)
	}

	s.logger.Info().Msg("audit recorder started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("audit recorder stopped")
			return ctx.Err()
		case entry := <-funnel:
			s.record(ctx, entry.action, entry.payload)
		}
	}
}

func (s *Service) record(ctx context.Context, action models.AuditAction, payload events.Payload) {
	entry := &models.AuditLog{
		Action:  action,
		Details: make(map[string]any, len(payload)),
	}
	for k, v := range payload {
		switch k {
		case "flow_id":
			if id, ok := v.(string); ok {
				entry.FlowID = id
			}
		case "name", "flow_name":
			if name, ok := v.(string); ok {
				entry.FlowName = name
			}
		default:
			entry.Details[k] = v
		}
	}

	if err := s.Log(ctx, entry); err != nil {
		s.logger.Error().Err(err).Str("action", string(action)).Msg("failed to record audit entry")
	}
}

// Log records an entry directly, filling in id and timestamps.
func (s *Service) Log(ctx context.Context, entry *models.AuditLog) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(entry).Error
}

// QueryFilters narrows an audit trail query.
type QueryFilters struct {
	FlowID string
	Action models.AuditAction
	Since  *time.Time
	Until  *time.Time
	Limit  int
	Offset int
}

// Query returns matching entries newest-first plus the total match count.
func (s *Service) Query(ctx context.Context, filters QueryFilters) ([]models.AuditLog, int64, error) {
	query := s.db.WithContext(ctx).Model(&models.AuditLog{})

	if filters.FlowID != "" {
		query = query.Where("flow_id = ?", filters.FlowID)
	}
	if filters.Action != "" {
		query = query.Where("action = ?", filters.Action)
	}
	if filters.Since != nil {
		query = query.Where("timestamp >= ?", *filters.Since)
	}
	if filters.Until != nil {
		query = query.Where("timestamp <= ?", *filters.Until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filters.Limit
	if limit <= 0 {
		limit = 100
	}
	query = query.Limit(limit)
	if filters.Offset > 0 {
		query = query.Offset(filters.Offset)
	}

	var entries []models.AuditLog
	if err := query.Order("timestamp DESC").Find(&entries).Error; err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
