/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package resync keeps the job table in step with the remote registry. It
// holds the per-auction resync and recheck handlers and the change feed
// crawler that re-arms itself after every sweep.
package resync

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/friendsincode/chronograph/internal/lifecycle"
	"github.com/friendsincode/chronograph/internal/models"
	"github.com/friendsincode/chronograph/internal/registry"
	"github.com/friendsincode/chronograph/internal/scheduler"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Well-known job ids.
const (
	JobResyncAll  = "resync_all"
	JobResyncBack = "resync_back"
	recheckPrefix = "recheck_"
)

// Registry is the part of the registry client the engine calls.
type Registry interface {
	GetAuction(ctx context.Context, id, requestID string) (*registry.Auction, error)
	PatchAuction(ctx context.Context, id string, body any, requestID string) (*registry.Auction, error)
	Recheck(ctx context.Context, id, requestID string) (*registry.Auction, error)
	FetchPage(ctx context.Context, pageURL, requestID string) (*registry.Page, error)
	ChangesFeedURL() string
}

// Evaluator decides what an auction snapshot needs.
type Evaluator interface {
	Evaluate(ctx context.Context, a *registry.Auction) (lifecycle.Decision, error)
	NeedsPlanning(p *registry.Period) bool
	ReconcileBookings(ctx context.Context, a *registry.Auction) (int, error)
}

// Jobs is the job store the engine arms follow-ups in.
type Jobs interface {
	AddJob(ctx context.Context, spec scheduler.JobSpec) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
}

// Options tunes an Engine.
type Options struct {
	CallbackURL string // ends with a slash
	Location    *time.Location

	// Jitter windows. Normal reschedules draw from [SmoothingMin, SmoothingMax],
	// failure-driven ones from [SmoothingRemin, SmoothingMax].
	SmoothingMin   time.Duration
	SmoothingRemin time.Duration
	SmoothingMax   time.Duration

	// ResyncWithin skips arming a listing-triggered resync when one is
	// already due this soon. Defaults to SmoothingMax.
	ResyncWithin time.Duration

	// HeartbeatDelay is how far out resync_all and a broken resync_back are re-armed.
	HeartbeatDelay time.Duration

	// PageRate bounds feed pages per second.
	PageRate rate.Limit

	Now  func() time.Time
	IntN func(n int) int // uniform in [0, n)
}

// Engine runs the resync, recheck and crawl operations.
type Engine struct {
	reg     Registry
	eval    Evaluator
	jobs    Jobs
	opts    Options
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// New constructs an engine.
func New(reg Registry, eval Evaluator, jobs Jobs, opts Options, logger zerolog.Logger) *Engine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.SmoothingMax <= 0 {
		opts.SmoothingMin = 10 * time.Second
		opts.SmoothingRemin = 60 * time.Second
		opts.SmoothingMax = 300 * time.Second
	}
	if opts.ResyncWithin <= 0 {
		opts.ResyncWithin = opts.SmoothingMax
	}
	if opts.HeartbeatDelay <= 0 {
		opts.HeartbeatDelay = time.Minute
	}
	if opts.PageRate <= 0 {
		opts.PageRate = 10
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IntN == nil {
		opts.IntN = rand.IntN
	}
	return &Engine{
		reg:     reg,
		eval:    eval,
		jobs:    jobs,
		opts:    opts,
		limiter: rate.NewLimiter(opts.PageRate, 1),
		logger:  logger.With().Str("component", "resync").Logger(),
	}
}

// jitter draws whole seconds uniformly from [lo, hi].
func (e *Engine) jitter(lo, hi time.Duration) time.Duration {
	span := int((hi - lo) / time.Second)
	if span <= 0 {
		return lo
	}
	return lo + time.Duration(e.opts.IntN(span+1))*time.Second
}

func (e *Engine) now() time.Time {
	return e.opts.Now().In(e.opts.Location)
}

// HeartbeatSpec is the resync_all job armed at startup and by the watchdog.
func (e *Engine) HeartbeatSpec(now time.Time) scheduler.JobSpec {
	return scheduler.JobSpec{
		ID:    JobResyncAll,
		Name:  "Resync all",
		RunAt: now.Add(e.opts.HeartbeatDelay),
		URL:   e.opts.CallbackURL + "resync_all",
	}
}

// UpdateNextCheck arms the recheck job for id. A nextCheck already in the
// past runs shortly after now. With onlyIfChanged the job is left alone
// when it is already due for the same nextCheck.
func (e *Engine) UpdateNextCheck(ctx context.Context, nextCheck time.Time, id string, now time.Time, onlyIfChanged bool) error {
	spec := scheduler.JobSpec{
		ID:   recheckPrefix + id,
		Name: "Recheck " + id,
		URL:  e.opts.CallbackURL + "recheck/" + id,
	}

	switch {
	case nextCheck.Before(now):
		spec.Due = now
		spec.RunAt = now.Add(e.jitter(e.opts.SmoothingMin, e.opts.SmoothingMax))
	default:
		if onlyIfChanged {
			job, err := e.jobs.GetJob(ctx, spec.ID)
			if err == nil && job.Due.Equal(nextCheck.UTC().Truncate(time.Millisecond)) {
				return nil
			}
			if err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
				return err
			}
		}
		spec.Due = nextCheck
		spec.RunAt = nextCheck.Add(e.jitter(e.opts.SmoothingMin, e.opts.SmoothingMax))
	}
	return e.jobs.AddJob(ctx, spec)
}

// armResync schedules the per-auction resync job.
func (e *Engine) armResync(ctx context.Context, id string, due time.Time) error {
	return e.jobs.AddJob(ctx, scheduler.JobSpec{
		ID:    id,
		Name:  "Resync " + id,
		Due:   due,
		RunAt: due.Add(e.jitter(e.opts.SmoothingMin, e.opts.SmoothingMax)),
		URL:   e.opts.CallbackURL + "resync/" + id,
	})
}

// parseNextCheck reads an optional next_check value.
func (e *Engine) parseNextCheck(a *registry.Auction) (time.Time, bool) {
	if a == nil || a.NextCheck == "" {
		return time.Time{}, false
	}
	t, err := registry.ParseTime(a.NextCheck, e.opts.Location)
	if err != nil {
		e.logger.Warn().Err(err).Str("auction_id", a.ID).Str("next_check", a.NextCheck).Msg("ignoring unreadable next_check")
		return time.Time{}, false
	}
	return t, true
}
