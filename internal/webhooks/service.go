/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package webhooks delivers flow lifecycle and conflict events to
// registered HTTP endpoints, signing each payload with the target's
// secret.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/bragi_flows/internal/events"
	"github.com/friendsincode/bragi_flows/internal/models"
	"github.com/friendsincode/bragi_flows/internal/version"
)

// delivered is the set of event types fanned out to webhook targets.
// Per-segment dispatch emissions are excluded; at several per minute
// they belong on the bus, not on third-party endpoints.
var delivered = []events.EventType{
	events.EventFlowCreated,
	events.EventFlowUpdated,
	events.EventFlowDeleted,
	events.EventFlowToggled,
	events.EventFlowStarted,
	events.EventFlowFinished,
	events.EventConflictFound,
	events.EventSweepComplete,
}

// Payload is the JSON body posted to webhook endpoints.
type Payload struct {
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	FlowID    string         `json:"flow_id,omitempty"`
	FlowName  string         `json:"flow_name,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// Service fans bus events out to webhook targets.
type Service struct {
	db     *gorm.DB
	bus    events.Broker
	logger zerolog.Logger
	client *http.Client
}

// NewService creates a webhook delivery service.
func NewService(db *gorm.DB, bus events.Broker, logger zerolog.Logger) *Service {
	return &Service{
		db:     db,
		bus:    bus,
		logger: logger.With().Str("component", "webhooks").Logger(),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Run subscribes to the delivered event types and posts them to active
// targets until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	type subscription struct {
		eventType events.EventType
		ch        events.Subscriber
	}
	subs := make([]subscription, 0, len(delivered))
	for _, eventType := range delivered {
		subs = append(subs, subscription{eventType, s.bus.Subscribe(eventType)})
	}
	defer func() {
		for _, sub := range subs {
			s.bus.Unsubscribe(sub.eventType, sub.ch)
		}
	}()

	type tagged struct {
		eventType events.EventType
		payload   events.Payload
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
					case funnel <- tagged{sub.eventType, payload}:
					case <-funnelCtx.Done():
						return
					}
				}
			}
		}(sub)
	}

	s.logger.Info().Msg("webhook delivery started")
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("webhook delivery stopped")
			return ctx.Err()
		case entry := <-funnel:
			s.fanOut(ctx, entry.eventType, entry.payload)
		}
	}
}

func (s *Service) fanOut(ctx context.Context, eventType events.EventType, eventPayload events.Payload) {
	var targets []models.WebhookTarget
	if err := s.db.WithContext(ctx).Where("active = ?", true).Find(&targets).Error; err != nil {
		s.logger.Error().Err(err).Msg("could not load webhook targets")
		return
	}

	payload := buildPayload(eventType, eventPayload)
	for _, target := range targets {
		if !targetWants(target, eventType) {
			continue
		}
		s.deliver(ctx, target, payload)
	}
}

func buildPayload(eventType events.EventType, eventPayload events.Payload) Payload {
	payload := Payload{
		Event:     string(eventType),
		Timestamp: time.Now().UTC(),
		Data:      make(map[string]any, len(eventPayload)),
	}
	for k, v := range eventPayload {
		switch k {
		case "flow_id":
			if id, ok := v.(string); ok {
				payload.FlowID = id
			}
		case "name", "flow_name":
			if name, ok := v.(string); ok {
				payload.FlowName = name
			}
		default:
			payload.Data[k] = v
		}
	}
	return payload
}

func targetWants(target models.WebhookTarget, eventType events.EventType) bool {
	if strings.TrimSpace(target.Events) == "" {
		return true
	}
	for _, want := range strings.Split(target.Events, ",") {
		if strings.TrimSpace(want) == string(eventType) {
			return true
		}
	}
	return false
}

func (s *Service) deliver(ctx context.Context, target models.WebhookTarget, payload Payload) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("could not marshal webhook payload")
		return
	}

	started := time.Now()
	statusCode, err := s.post(ctx, target, body)
	s.logDelivery(target, payload.Event, body, statusCode, err, time.Since(started))

	if err != nil {
		s.logger.Warn().Err(err).Str("url", target.URL).Str("event", payload.Event).Msg("webhook delivery failed")
		return
	}
	s.logger.Debug().Str("url", target.URL).Str("event", payload.Event).Int("status", statusCode).Msg("webhook delivered")
}

func (s *Service) post(ctx context.Context, target models.WebhookTarget, body []byte) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if target.Secret != "" {
		req.Header.Set("X-Bragi-Signature", sign(body, target.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, fmt.Errorf("endpoint returned %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

// Test posts a synthetic payload to the target and returns the delivery
// error, if any.
func (s *Service) Test(ctx context.Context, target *models.WebhookTarget) error {
	payload := Payload{
		Event:     "test",
		Timestamp: time.Now().UTC(),
		Data:      map[string]any{"message": "webhook test delivery"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.post(ctx, *target, body)
	return err
}

// ListTargets returns all registered webhook targets.
func (s *Service) ListTargets(ctx context.Context) ([]models.WebhookTarget, error) {
	var targets []models.WebhookTarget
	err := s.db.WithContext(ctx).Order("created_at").Find(&targets).Error
	return targets, err
}

// CreateTarget registers a new webhook target and returns it with its
// generated signing secret. The secret is only disclosed here.
func (s *Service) CreateTarget(ctx context.Context, url, eventFilter string) (*models.WebhookTarget, error) {
	target := models.NewWebhookTarget(url, eventFilter)
	if err := s.db.WithContext(ctx).Create(target).Error; err != nil {
		return nil, err
	}
	return target, nil
}

// DeleteTarget removes a webhook target. Delivery logs are kept.
func (s *Service) DeleteTarget(ctx context.Context, id string) error {
	result := s.db.WithContext(ctx).Delete(&models.WebhookTarget{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// GetTarget fetches one webhook target by id.
func (s *Service) GetTarget(ctx context.Context, id string) (*models.WebhookTarget, error) {
	var target models.WebhookTarget
	if err := s.db.WithContext(ctx).First(&target, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &target, nil
}

func sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func (s *Service) logDelivery(target models.WebhookTarget, event string, body []byte, statusCode int, deliveryErr error, took time.Duration) {
	entry := &models.WebhookLog{
		ID:         uuid.NewString(),
		TargetID:   target.ID,
		Event:      event,
		Payload:    string(body),
		StatusCode: statusCode,
		Duration:   int(took.Milliseconds()),
	}
	if deliveryErr != nil {
		entry.Error = deliveryErr.Error()
	}
	if err := s.db.Create(entry).Error; err != nil {
		s.logger.Error().Err(err).Msg("could not record webhook delivery")
	}
}
