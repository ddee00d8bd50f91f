/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/plugin_update_helper/internal/telemetry"
)

const (
	defaultElectionKey     = "updatehelper:leader:driver"
	defaultLeaseDuration   = 15 * time.Second
	defaultRenewalInterval = 5 * time.Second
)

// Renew only while we still hold the key.
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ElectionConfig configures leader election behavior.
type ElectionConfig struct {
	// ElectionKey is the Redis key holding the leader's instance ID.
	ElectionKey string

	// LeaseDuration is how long a lease stays valid without renewal.
	LeaseDuration time.Duration

	// RenewalInterval is how often the leader renews and followers retry.
	RenewalInterval time.Duration

	// InstanceID uniquely identifies this instance.
	InstanceID string
}

// DefaultConfig returns default election configuration.
func DefaultConfig() ElectionConfig {
	return ElectionConfig{
		ElectionKey:     defaultElectionKey,
		LeaseDuration:   defaultLeaseDuration,
		RenewalInterval: defaultRenewalInterval,
		InstanceID:      uuid.New().String(),
	}
}

// Election campaigns for a single Redis key so that only one instance runs
// the timer driver.
type Election struct {
	client redis.UniversalClient
	logger zerolog.Logger
	config ElectionConfig

	mu       sync.Mutex
	isLeader bool
	cancel   context.CancelFunc
	done     chan struct{}
	leaderCh chan bool
}

// NewElection creates an election on an existing client. The caller keeps
// ownership of the client.
func NewElection(client redis.UniversalClient, config ElectionConfig, logger zerolog.Logger) *Election {
	if config.ElectionKey == "" {
		config.ElectionKey = defaultElectionKey
	}
	if config.LeaseDuration <= 0 {
		config.LeaseDuration = defaultLeaseDuration
	}
	if config.RenewalInterval <= 0 || config.RenewalInterval >= config.LeaseDuration {
		config.RenewalInterval = config.LeaseDuration / 3
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.New().String()
	}

	return &Election{
		client:   client,
		logger:   logger.With().Str("component", "leader_election").Str("instance_id", config.InstanceID).Logger(),
		config:   config,
		leaderCh: make(chan bool, 1),
	}
}

// InstanceID returns the identity this election campaigns with.
func (e *Election) InstanceID() string { return e.config.InstanceID }

// Start begins campaigning in the background.
func (e *Election) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return errors.New("election already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	e.logger.Info().
		Str("key", e.config.ElectionKey).
		Dur("lease_duration", e.config.LeaseDuration).
		Msg("starting leader election")

	go e.campaignLoop(ctx, e.done)
	return nil
}

// Stop ends the campaign and releases leadership if held.
func (e *Election) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	if e.IsLeader() {
		ctx, cancelRelease := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelRelease()
		if err := e.releaseLock(ctx); err != nil {
			return err
		}
		e.updateLeadershipStatus(false)
	}
	return nil
}

// IsLeader returns whether this instance is currently the leader.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// LeaderCh receives leadership changes. Only the latest state is buffered.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// GetLeader returns the current leader instance ID, or "" when nobody leads.
func (e *Election) GetLeader(ctx context.Context) (string, error) {
	leaderID, err := e.client.Get(ctx, e.config.ElectionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return leaderID, nil
}

func (e *Election) campaignLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	e.attemptLeadership(ctx)

	ticker := time.NewTicker(e.config.RenewalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.attemptLeadership(ctx)
		}
	}
}

func (e *Election) attemptLeadership(ctx context.Context) {
	acquired, err := e.acquireLock(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		e.logger.Error().Err(err).Msg("leadership attempt failed")
		e.updateLeadershipStatus(false)
		return
	}
	e.updateLeadershipStatus(acquired)
}

// acquireLock takes the key when it is free, or renews it when we hold it.
func (e *Election) acquireLock(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.config.ElectionKey, e.config.InstanceID, e.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lock: %w", err)
	}
	if ok {
		return true, nil
	}

	renewed, err := renewScript.Run(ctx, e.client,
		[]string{e.config.ElectionKey},
		e.config.InstanceID, e.config.LeaseDuration.Milliseconds(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("renew lock: %w", err)
	}
	return renewed == 1, nil
}

func (e *Election) releaseLock(ctx context.Context) error {
	if err := releaseScript.Run(ctx, e.client, []string{e.config.ElectionKey}, e.config.InstanceID).Err(); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	e.logger.Info().Msg("released leadership lock")
	return nil
}

func (e *Election) updateLeadershipStatus(isLeader bool) {
	e.mu.Lock()
	if e.isLeader == isLeader {
		e.mu.Unlock()
		return
	}
	e.isLeader = isLeader
	e.mu.Unlock()

	id := e.config.InstanceID
	if isLeader {
		e.logger.Info().Msg("acquired leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(id).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(id, "acquired").Inc()
	} else {
		e.logger.Warn().Msg("lost leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(id).Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues(id, "lost").Inc()
	}

	// replace a stale unread state with the new one
	select {
	case <-e.leaderCh:
	default:
	}
	select {
	case e.leaderCh <- isLeader:
	default:
	}
}
