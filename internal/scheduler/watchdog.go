/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// DefaultWatchdogSchedule re-checks the heartbeat job once a minute.
const DefaultWatchdogSchedule = "@every 1m"

// Watchdog makes sure a heartbeat job is always pending. It re-adds the job
// from spec whenever it finds the id missing.
type Watchdog struct {
	svc      *Service
	spec     func(now time.Time) JobSpec
	schedule string
	cron     *cron.Cron
	now      func() time.Time
	logger   zerolog.Logger
}

// NewWatchdog constructs a watchdog. An empty schedule uses DefaultWatchdogSchedule.
func NewWatchdog(svc *Service, schedule string, loc *time.Location, spec func(now time.Time) JobSpec, logger zerolog.Logger) *Watchdog {
	if schedule == "" {
		schedule = DefaultWatchdogSchedule
	}
	if loc == nil {
		loc = time.Local
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	return &Watchdog{
		svc:      svc,
		spec:     spec,
		schedule: schedule,
		cron:     cron.New(cron.WithParser(parser), cron.WithLocation(loc)),
		now:      time.Now,
		logger:   logger.With().Str("component", "watchdog").Logger(),
	}
}

// Check adds the heartbeat job if it is missing and reports whether it did.
func (w *Watchdog) Check(ctx context.Context) (bool, error) {
	spec := w.spec(w.now())
	added, err := w.svc.EnsureJob(ctx, spec)
	if err != nil {
		return false, err
	}
	if added {
		w.logger.Warn().Str("job_id", spec.ID).Time("run_at", spec.RunAt).Msg("heartbeat job was missing, re-armed")
	}
	return added, nil
}

// Start runs Check once, then on the cron schedule until Stop.
func (w *Watchdog) Start(ctx context.Context) error {
	if _, err := w.Check(ctx); err != nil {
		w.logger.Error().Err(err).Msg("initial heartbeat check failed")
	}
	_, err := w.cron.AddFunc(w.schedule, func() {
		if _, err := w.Check(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error().Err(err).Msg("heartbeat check failed")
		}
	})
	if err != nil {
		return fmt.Errorf("watchdog: invalid schedule %q: %w", w.schedule, err)
	}
	w.cron.Start()
	return nil
}

// Stop waits for a running check to finish.
func (w *Watchdog) Stop() {
	<-w.cron.Stop().Done()
}
