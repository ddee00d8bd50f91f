/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Elector reports leadership of this instance. *leadership.Election
// implements it.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAwareDriver runs the driver only while this instance is the leader.
type LeaderAwareDriver struct {
	driver   *Driver
	election Elector
	logger   zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
	done    chan struct{}
}

// NewLeaderAware creates a leader-aware driver wrapper.
func NewLeaderAware(driver *Driver, election Elector, logger zerolog.Logger) *LeaderAwareDriver {
	return &LeaderAwareDriver{
		driver:   driver,
		election: election,
		logger:   logger.With().Str("component", "leader_aware_driver").Logger(),
	}
}

// Start begins the election and follows leadership changes until ctx ends.
func (l *LeaderAwareDriver) Start(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	l.logger.Info().Msg("starting leader-aware driver")
	if err := l.election.Start(ctx); err != nil {
		return err
	}
	go l.monitorLeadership(ctx)
	return nil
}

// Stop stops the driver and releases leadership.
func (l *LeaderAwareDriver) Stop() error {
	l.logger.Info().Msg("stopping leader-aware driver")
	l.stopDriver()
	return l.election.Stop()
}

// IsLeader returns whether this instance is the leader.
func (l *LeaderAwareDriver) IsLeader() bool {
	return l.election.IsLeader()
}

// Running reports whether the driver trigger is active on this instance.
func (l *LeaderAwareDriver) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

func (l *LeaderAwareDriver) monitorLeadership(ctx context.Context) {
	if l.election.IsLeader() {
		l.startDriver()
	}

	leaderCh := l.election.LeaderCh()
	for {
		select {
		case <-ctx.Done():
			l.stopDriver()
			return
		case isLeader, ok := <-leaderCh:
			if !ok {
				l.stopDriver()
				return
			}
			if isLeader {
				l.logger.Info().Msg("became leader, starting driver")
				l.startDriver()
			} else {
				l.logger.Warn().Msg("lost leadership, stopping driver")
				l.stopDriver()
			}
		}
	}
}

func (l *LeaderAwareDriver) startDriver() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running {
		return
	}

	ctx, cancel := context.WithCancel(l.ctx)
	done := make(chan struct{})
	l.cancel = cancel
	l.done = done
	l.running = true

	go func() {
		defer close(done)
		if err := l.driver.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			l.logger.Error().Err(err).Msg("driver error")
		}
		l.mu.Lock()
		if l.done == done {
			l.running = false
		}
		l.mu.Unlock()
	}()
}

func (l *LeaderAwareDriver) stopDriver() {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return
	}
	cancel, done := l.cancel, l.done
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	cancel()
	<-done
}
