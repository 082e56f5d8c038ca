/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/friendsincode/chronograph/internal/telemetry"
	"github.com/rs/zerolog"
)

// Elector is the leadership source the wrapper follows.
type Elector interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAwareScheduler runs the dispatcher only while this instance holds
// the lease. Jobs can still be added on any instance; they land in the
// shared table and the leader's sync tick arms them.
type LeaderAwareScheduler struct {
	scheduler *Service
	election  Elector
	logger    zerolog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewLeaderAware creates a leader-aware scheduler wrapper.
func NewLeaderAware(scheduler *Service, election Elector, logger zerolog.Logger) *LeaderAwareScheduler {
	return &LeaderAwareScheduler{
		scheduler: scheduler,
		election:  election,
		logger:    logger.With().Str("component", "leader_aware_scheduler").Logger(),
	}
}

// Start begins monitoring leadership status and manages the dispatcher.
func (las *LeaderAwareScheduler) Start(ctx context.Context) error {
	las.mu.Lock()
	las.ctx = ctx
	las.mu.Unlock()

	las.logger.Info().Msg("starting leader-aware scheduler")
	if err := las.election.Start(ctx); err != nil {
		return err
	}
	go las.monitorLeadership(ctx)
	return nil
}

// Stop stops the dispatcher and releases leadership.
func (las *LeaderAwareScheduler) Stop() error {
	las.logger.Info().Msg("stopping leader-aware scheduler")
	las.stopScheduler()
	return las.election.Stop()
}

func (las *LeaderAwareScheduler) monitorLeadership(ctx context.Context) {
	leaderCh := las.election.LeaderCh()
	if las.election.IsLeader() {
		las.startScheduler()
	}

	for {
		select {
		case <-ctx.Done():
			las.stopScheduler()
			return
		case isLeader := <-leaderCh:
			if isLeader {
				las.logger.Info().Msg("became leader, starting dispatcher")
				las.startScheduler()
			} else {
				las.logger.Warn().Msg("lost leadership, stopping dispatcher")
				las.stopScheduler()
			}
		}
	}
}

func (las *LeaderAwareScheduler) startScheduler() {
	las.mu.Lock()
	defer las.mu.Unlock()
	if las.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(las.ctx)
	done := make(chan struct{})
	las.cancel = cancel
	las.stopped = done
	telemetry.LeaderStatus.Set(1)

	go func() {
		defer close(done)
		if err := las.scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			las.logger.Error().Err(err).Msg("dispatcher error")
		}
	}()
}

// stopScheduler cancels the dispatcher and waits for it to drain.
func (las *LeaderAwareScheduler) stopScheduler() {
	las.mu.Lock()
	cancel, done := las.cancel, las.stopped
	las.cancel, las.stopped = nil, nil
	las.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	telemetry.LeaderStatus.Set(0)
}

// IsLeader returns whether this instance is the leader.
func (las *LeaderAwareScheduler) IsLeader() bool {
	return las.election.IsLeader()
}
