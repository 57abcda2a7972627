/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus bridges the in-process event bus to external brokers so
// multiple engine instances observe the same flow events.
package eventbus

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/events"
)

const natsSubjectPrefix = "bragi.events."

// NATSConfig contains NATS connection configuration.
type NATSConfig struct {
	URL           string
	Token         string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultNATSConfig returns default NATS configuration.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// NATSBus mirrors local bus traffic onto NATS subjects and re-publishes
// remote traffic locally. When the connection cannot be established the bus
// degrades to in-memory delivery only.
type NATSBus struct {
	conn   *nats.Conn
	local  *events.Bus
	subs   []*nats.Subscription
	nodeID string
	logger zerolog.Logger
}

// NewNATSBus connects to NATS and wires the subject bridge. A failed
// connection is not fatal: the returned bus still delivers locally.
func NewNATSBus(cfg NATSConfig, local *events.Bus, logger zerolog.Logger) (*NATSBus, error) {
	nb := &NATSBus{
		local:  local,
		nodeID: nodeID(),
		logger: logger.With().Str("component", "eventbus_nats").Logger(),
	}

	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		nb.logger.Warn().Err(err).Str("url", cfg.URL).Msg("NATS unavailable, events stay in-memory")
		return nb, nil
	}
	nb.conn = conn

	sub, err := conn.Subscribe(natsSubjectPrefix+">", nb.handleRemote)
	if err != nil {
		conn.Close()
		nb.conn = nil
		return nil, fmt.Errorf("subscribe to event subjects: %w", err)
	}
	nb.subs = append(nb.subs, sub)

	nb.logger.Info().Str("url", cfg.URL).Msg("NATS event bridge connected")
	return nb, nil
}

// Publish delivers locally and mirrors to the matching NATS subject.
func (nb *NATSBus) Publish(eventType events.EventType, payload events.Payload) {
	nb.local.Publish(eventType, payload)

	if nb.conn == nil {
		return
	}
	data, err := json.Marshal(busMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    nb.nodeID,
		MessageID: uuid.NewString(),
	})
	if err != nil {
		nb.logger.Error().Err(err).Str("event", string(eventType)).Msg("marshal event for NATS")
		return
	}
	if err := nb.conn.Publish(natsSubjectPrefix+string(eventType), data); err != nil {
		nb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("NATS publish failed")
	}
}

// Subscribe registers a local subscriber; remote traffic arrives through
// the bridge.
func (nb *NATSBus) Subscribe(eventType events.EventType) events.Subscriber {
	return nb.local.Subscribe(eventType)
}

// Unsubscribe removes a local subscriber.
func (nb *NATSBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	nb.local.Unsubscribe(eventType, sub)
}

// Close drains subscriptions and closes the connection.
func (nb *NATSBus) Close() error {
	for _, sub := range nb.subs {
		_ = sub.Unsubscribe()
	}
	if nb.conn != nil {
		nb.conn.Close()
	}
	return nil
}

// handleRemote re-publishes events from other nodes onto the local bus.
// Messages this node published are skipped to avoid echo.
func (nb *NATSBus) handleRemote(msg *nats.Msg) {
	var m busMessage
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		nb.logger.Debug().Err(err).Str("subject", msg.Subject).Msg("malformed bus message")
		return
	}
	if m.NodeID == nb.nodeID {
		return
	}
	nb.local.Publish(m.EventType, m.Payload)
}

// busMessage is the wire format shared by the NATS and Redis bridges.
type busMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
	MessageID string           `json:"message_id"`
}

func nodeID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "node"
	}
	return host + "-" + uuid.NewString()[:8]
}
