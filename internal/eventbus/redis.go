/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/events"
)

const redisChannelPrefix = "bragi:events:"

// RedisConfig contains Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Circuit breaker: after MaxFailures publish errors the bus stops
	// talking to Redis and serves in-memory only.
	MaxFailures   int
	CheckInterval time.Duration
}

// DefaultRedisConfig returns default Redis configuration.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:          "localhost:6379",
		PoolSize:      10,
		MinIdleConns:  2,
		DialTimeout:   5 * time.Second,
		ReadTimeout:   3 * time.Second,
		WriteTimeout:  3 * time.Second,
		MaxFailures:   5,
		CheckInterval: 30 * time.Second,
	}
}

// RedisBus mirrors flow events over Redis pub/sub for multi-instance
// deployments. Local delivery always goes through the in-process bus;
// Redis adds cross-node fan-out and is shed by a circuit breaker when it
// misbehaves.
type RedisBus struct {
	client *redis.Client
	local  *events.Bus
	nodeID string
	logger zerolog.Logger

	mu       sync.RWMutex
	channels map[events.EventType]*redis.PubSub

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	degraded  bool
	failCount int
	maxFails  int
	lastCheck time.Time
}

// NewRedisBus creates a Redis-backed event bridge. An unreachable Redis is
// not fatal; the bus starts degraded and serves in-memory delivery only.
func NewRedisBus(cfg RedisConfig, local *events.Bus, logger zerolog.Logger) (*RedisBus, error) {
	ctx, cancel := context.WithCancel(context.Background())

	rb := &RedisBus{
		local:    local,
		nodeID:   nodeID(),
		logger:   logger.With().Str("component", "eventbus_redis").Logger(),
		channels: make(map[events.EventType]*redis.PubSub),
		ctx:      ctx,
		cancel:   cancel,
		maxFails: cfg.MaxFailures,
	}

	rb.client = redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rb.client.Ping(pingCtx).Err(); err != nil {
		rb.logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("Redis unavailable, events stay in-memory")
		rb.degraded = true
		return rb, nil
	}

	rb.logger.Info().Str("addr", cfg.Addr).Msg("Redis event bridge connected")
	return rb, nil
}

// Subscribe registers a local subscriber and, for the first subscriber of
// an event type, opens the matching Redis channel.
func (rb *RedisBus) Subscribe(eventType events.EventType) events.Subscriber {
	sub := rb.local.Subscribe(eventType)

	rb.mu.Lock()
	defer rb.mu.Unlock()
	if rb.degraded {
		return sub
	}
	if _, exists := rb.channels[eventType]; !exists {
		pubsub := rb.client.Subscribe(rb.ctx, redisChannelPrefix+string(eventType))
		rb.channels[eventType] = pubsub
		rb.wg.Add(1)
		go rb.receive(eventType, pubsub)
	}
	return sub
}

// Unsubscribe removes a local subscriber. The Redis channel stays open for
// the remaining subscribers and is torn down on Close.
func (rb *RedisBus) Unsubscribe(eventType events.EventType, sub events.Subscriber) {
	rb.local.Unsubscribe(eventType, sub)
}

// Publish delivers locally and mirrors to Redis unless the breaker is open.
func (rb *RedisBus) Publish(eventType events.EventType, payload events.Payload) {
	rb.local.Publish(eventType, payload)

	rb.mu.RLock()
	degraded := rb.degraded
	rb.mu.RUnlock()
	if degraded {
		return
	}

	data, err := json.Marshal(busMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
		NodeID:    rb.nodeID,
	})
	if err != nil {
		rb.logger.Error().Err(err).Str("event", string(eventType)).Msg("marshal event for Redis")
		return
	}

	ctx, cancel := context.WithTimeout(rb.ctx, 2*time.Second)
	defer cancel()
	if err := rb.client.Publish(ctx, redisChannelPrefix+string(eventType), data).Err(); err != nil {
		rb.logger.Warn().Err(err).Str("event", string(eventType)).Msg("Redis publish failed")
		rb.recordFailure()
		return
	}

	rb.mu.Lock()
	rb.failCount = 0
	rb.mu.Unlock()
}

// receive pumps one Redis channel into the local bus, skipping this node's
// own messages.
func (rb *RedisBus) receive(eventType events.EventType, pubsub *redis.PubSub) {
	defer rb.wg.Done()
	ch := pubsub.Channel()

	for {
		select {
		case <-rb.ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				rb.logger.Warn().Str("event", string(eventType)).Msg("Redis channel closed")
				rb.recordFailure()
				return
			}
			var m busMessage
			if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
				rb.logger.Debug().Err(err).Str("event", string(eventType)).Msg("malformed bus message")
				continue
			}
			if m.NodeID == rb.nodeID {
				continue
			}
			rb.local.Publish(m.EventType, m.Payload)
		}
	}
}

// recordFailure trips the breaker after maxFails consecutive errors.
func (rb *RedisBus) recordFailure() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.failCount++
	if rb.failCount >= rb.maxFails && !rb.degraded {
		rb.logger.Warn().Int("failures", rb.failCount).Msg("Redis failure threshold reached, events stay in-memory")
		rb.degraded = true
		rb.lastCheck = time.Now()
	}
}

// TryReconnect probes Redis and closes the breaker again on success.
func (rb *RedisBus) TryReconnect() error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.degraded {
		return nil
	}
	if time.Since(rb.lastCheck) < 30*time.Second {
		return fmt.Errorf("too soon to retry")
	}
	rb.lastCheck = time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rb.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis still unavailable: %w", err)
	}

	rb.degraded = false
	rb.failCount = 0
	rb.logger.Info().Msg("reconnected to Redis")
	return nil
}

// Close stops the receivers and closes the client.
func (rb *RedisBus) Close() error {
	rb.cancel()
	rb.wg.Wait()

	rb.mu.Lock()
	for _, pubsub := range rb.channels {
		_ = pubsub.Close()
	}
	rb.channels = make(map[events.EventType]*redis.PubSub)
	rb.mu.Unlock()

	if rb.client != nil {
		return rb.client.Close()
	}
	return nil
}
