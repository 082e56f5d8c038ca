/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package lifecycle decides whether an auction or its lots need planning.
package lifecycle

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/friendsincode/chronograph/internal/planning"
	"github.com/friendsincode/chronograph/internal/registry"
	"github.com/rs/zerolog"
)

// MaxStartJitter bounds the random offset added to a planned start.
const MaxStartJitter = 1799 * time.Second

// SlotPlanner is the part of the planner the evaluator uses.
type SlotPlanner interface {
	PlanAuction(ctx context.Context, req planning.Request) (planning.Reservation, error)
	FreeSlot(ctx context.Context, planID, key string, at time.Time) error
	Bookings(ctx context.Context, auctionID string) ([]planning.Booking, error)
	Registry() *planning.Registry
}

// Options tunes an Evaluator.
type Options struct {
	Location *time.Location
	Sandbox  bool
	Now      func() time.Time
	IntN     func(n int) int // uniform in [0, n)
}

// Evaluator turns an auction snapshot into a planning patch.
type Evaluator struct {
	planner SlotPlanner
	loc     *time.Location
	sandbox bool
	now     func() time.Time
	intN    func(n int) int
	logger  zerolog.Logger
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(planner SlotPlanner, opts Options, logger zerolog.Logger) *Evaluator {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.IntN == nil {
		opts.IntN = rand.IntN
	}
	return &Evaluator{
		planner: planner,
		loc:     opts.Location,
		sandbox: opts.Sandbox,
		now:     opts.Now,
		intN:    opts.IntN,
		logger:  logger.With().Str("component", "lifecycle").Logger(),
	}
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Patch     *registry.Patch // nil when nothing needs to change
	NextCheck time.Time       // zero when the snapshot carries none
}

// Evaluate plans the auction, or each active lot, whose shouldStartAfter is
// later than its current start date. Already-satisfied snapshots yield no
// patch. Planner errors are returned unchanged.
func (e *Evaluator) Evaluate(ctx context.Context, a *registry.Auction) (Decision, error) {
	var d Decision
	if a.NextCheck != "" {
		if t, err := registry.ParseTime(a.NextCheck, e.loc); err == nil {
			d.NextCheck = t
		}
	}

	strat := e.planner.Registry().For(a.Type(), a.ProcurementMethodType)
	quick := e.sandbox && strings.Contains(a.SubmissionMethodDetails, "quick")

	if len(a.Lots) == 0 {
		if !e.NeedsPlanning(a.AuctionPeriod) {
			return d, nil
		}
		start, err := e.plan(ctx, a, "", a.AuctionPeriod, strat, quick)
		if err != nil {
			return d, err
		}
		d.Patch = &registry.Patch{AuctionPeriod: &registry.PeriodPatch{StartDate: start}}
		return d, nil
	}

	lots := make([]registry.LotPatch, len(a.Lots))
	changed := false
	for i, lot := range a.Lots {
		if lot.Status != "active" || !e.NeedsPlanning(lot.AuctionPeriod) {
			continue
		}
		start, err := e.plan(ctx, a, lot.ID, lot.AuctionPeriod, strat, quick)
		if err != nil {
			return d, err
		}
		lots[i] = registry.LotPatch{AuctionPeriod: &registry.PeriodPatch{StartDate: start}}
		changed = true
	}
	if changed {
		d.Patch = &registry.Patch{Lots: lots}
	}
	return d, nil
}

// NeedsPlanning reports whether shouldStartAfter is set and later than startDate,
// or startDate is missing.
func (e *Evaluator) NeedsPlanning(p *registry.Period) bool {
	if p == nil || p.ShouldStartAfter == "" {
		return false
	}
	after, err := registry.ParseTime(p.ShouldStartAfter, e.loc)
	if err != nil {
		e.logger.Warn().Err(err).Msg("ignoring unreadable shouldStartAfter")
		return false
	}
	if p.StartDate == "" {
		return true
	}
	start, err := registry.ParseTime(p.StartDate, e.loc)
	if err != nil {
		return true
	}
	return after.After(start)
}

func (e *Evaluator) plan(ctx context.Context, a *registry.Auction, lotID string, p *registry.Period, strat planning.Strategy, quick bool) (string, error) {
	notBefore := e.now().In(e.loc)
	if after, err := registry.ParseTime(p.ShouldStartAfter, e.loc); err == nil && after.After(notBefore) {
		notBefore = after
	}

	key := a.ID
	if lotID != "" {
		key = a.ID + "_" + lotID
	}
	res, err := e.planner.PlanAuction(ctx, planning.Request{
		Key:       key,
		Mode:      a.Mode,
		NotBefore: notBefore,
		Strategy:  strat,
		Quick:     quick,
	})
	if err != nil {
		return "", fmt.Errorf("plan %s: %w", key, err)
	}

	start := e.Randomize(res.Start).Format(time.RFC3339)
	verb := "planned"
	if p.StartDate != "" {
		verb = "replanned"
	}
	ev := e.logger.Info().
		Str("auction_id", a.ID).
		Str("plan_id", res.PlanID).
		Str("planned_date", start).
		Int("stream", res.Stream).
		Int("skipped_days", res.SkippedDays)
	if lotID != "" {
		ev = ev.Str("lot_id", lotID)
	}
	ev.Msg(verb)
	return start, nil
}

// Randomize adds a uniform offset in [0, MaxStartJitter] so auctions planned
// into the same slot do not start on the same second.
func (e *Evaluator) Randomize(t time.Time) time.Time {
	return t.Add(time.Duration(e.intN(int(MaxStartJitter/time.Second)+1)) * time.Second)
}
