/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects a single dispatch leader across instances
// using a Redis lease. Only the leader runs the dispatcher and the
// schedule sweep; followers keep campaigning and take over when the
// lease lapses.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/telemetry"
)

const (
	defaultKey        = "bragi:leader:dispatch"
	defaultLease      = 15 * time.Second
	defaultRetryEvery = 2 * time.Second
)

// releaseScript deletes the lease key only while we still own it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Config configures the election.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Key is the Redis key holding the leader lease.
	Key string
	// Lease is how long a held lease stays valid without renewal.
	Lease time.Duration
	// RetryEvery is the campaign interval for acquire and renew alike.
	RetryEvery time.Duration
	// InstanceID identifies this instance in the lease value.
	InstanceID string
}

// DefaultConfig returns the stock election configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:  "localhost:6379",
		Key:        defaultKey,
		Lease:      defaultLease,
		RetryEvery: defaultRetryEvery,
		InstanceID: uuid.NewString(),
	}
}

// Election campaigns for the dispatch leader lease.
type Election struct {
	client     *redis.Client
	logger     zerolog.Logger
	cfg        Config
	instanceID string

	isLeader atomic.Bool
	leaderCh chan bool
	cancel   context.CancelFunc
}

// NewElection connects to Redis and prepares a campaign. It does not
// start campaigning until Start is called.
func NewElection(cfg Config, logger zerolog.Logger) (*Election, error) {
	if cfg.Key == "" {
		cfg.Key = defaultKey
	}
	if cfg.Lease <= 0 {
		cfg.Lease = defaultLease
	}
	if cfg.RetryEvery <= 0 {
		cfg.RetryEvery = defaultRetryEvery
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to Redis for leader election: %w", err)
	}

	return &Election{
		client:     client,
		logger:     logger.With().Str("component", "leadership").Logger(),
		cfg:        cfg,
		instanceID: cfg.InstanceID,
		leaderCh:   make(chan bool, 1),
	}, nil
}

// Start begins campaigning in the background.
func (e *Election) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.logger.Info().
		Str("instance", e.instanceID).
		Dur("lease", e.cfg.Lease).
		Msg("campaigning for dispatch leadership")
	go e.campaign(ctx)
}

// Stop ends the campaign, releases a held lease, and closes the Redis
// connection.
func (e *Election) Stop() error {
	if e.cancel != nil {
		e.cancel()
	}
	if e.isLeader.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.client.Eval(ctx, releaseScript, []string{e.cfg.Key}, e.instanceID).Err(); err != nil {
			e.logger.Warn().Err(err).Msg("could not release leader lease")
		}
		e.setLeader(false)
	}
	return e.client.Close()
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	return e.isLeader.Load()
}

// LeaderCh delivers leadership transitions. The channel is buffered;
// a slow reader only ever misses intermediate flaps, never the latest
// state relative to IsLeader.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// Leader returns the instance id currently holding the lease, or ""
// when the lease is vacant.
func (e *Election) Leader(ctx context.Context) (string, error) {
	holder, err := e.client.Get(ctx, e.cfg.Key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read leader lease: %w", err)
	}
	return holder, nil
}

func (e *Election) campaign(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.RetryEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			held, err := e.tryAcquire(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				e.logger.Warn().Err(err).Msg("leader lease attempt failed")
				held = false
			}
			e.setLeader(held)
		}
	}
}

// tryAcquire takes the lease when vacant, or renews it when we already
// hold it. Holding stale leadership is worse than flapping, so any
// ambiguity resolves to not-leader.
func (e *Election) tryAcquire(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.cfg.Key, e.instanceID, e.cfg.Lease).Result()
	if err != nil {
		return false, err
	}
	if ok {
		return true, nil
	}

	holder, err := e.client.Get(ctx, e.cfg.Key).Result()
	if errors.Is(err, redis.Nil) {
		// Lease expired between SetNX and Get; next tick retries.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if holder != e.instanceID {
		return false, nil
	}
	if err := e.client.Expire(ctx, e.cfg.Key, e.cfg.Lease).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func (e *Election) setLeader(held bool) {
	if e.isLeader.Swap(held) == held {
		return
	}
	if held {
		e.logger.Info().Str("instance", e.instanceID).Msg("acquired dispatch leadership")
		telemetry.LeadershipStatus.WithLabelValues(e.instanceID).Set(1)
	} else {
		e.logger.Warn().Str("instance", e.instanceID).Msg("lost dispatch leadership")
		telemetry.LeadershipStatus.WithLabelValues(e.instanceID).Set(0)
	}
	select {
	case e.leaderCh <- held:
	default:
	}
}

// RunWhenLeader runs fn while this instance is leader and cancels it on
// leadership loss, restarting on re-acquisition. It blocks until ctx is
// done.
func RunWhenLeader(ctx context.Context, e *Election, name string, logger zerolog.Logger, fn func(context.Context) error) {
	var (
		runCancel context.CancelFunc
		done      chan struct{}
	)

	start := func() {
		runCtx, cancel := context.WithCancel(ctx)
		runCancel = cancel
		done = make(chan struct{})
		go func() {
			defer close(done)
			if err := fn(runCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Str("task", name).Msg("leader task exited")
			}
		}()
	}
	stop := func() {
		if runCancel == nil {
			return
		}
		runCancel()
		<-done
		runCancel = nil
	}
	defer stop()

	if e.IsLeader() {
		start()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case held := <-e.LeaderCh():
			if held && runCancel == nil {
				logger.Info().Str("task", name).Msg("starting leader task")
				start()
			} else if !held && runCancel != nil {
				logger.Info().Str("task", name).Msg("stopping leader task")
				stop()
			}
		}
	}
}
