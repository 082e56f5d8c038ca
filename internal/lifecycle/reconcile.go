/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package lifecycle

import (
	"context"
	"time"

	"github.com/friendsincode/chronograph/internal/registry"
)

// ReconcileBookings frees reservations the listed auction no longer uses:
// those whose auction or lot has no start date, or whose start date has
// moved outside the reserved slot. It returns how many were freed.
func (e *Evaluator) ReconcileBookings(ctx context.Context, a *registry.Auction) (int, error) {
	bookings, err := e.planner.Bookings(ctx, a.ID)
	if err != nil {
		return 0, err
	}
	if len(bookings) == 0 {
		return 0, nil
	}

	listed := map[string]*registry.Period{"": a.AuctionPeriod}
	for i := range a.Lots {
		listed[a.Lots[i].ID] = a.Lots[i].AuctionPeriod
	}

	freed := 0
	for _, b := range bookings {
		if e.holds(b.At, b.Width, listed[b.LotID]) {
			continue
		}
		if err := e.planner.FreeSlot(ctx, b.PlanID, b.Key, b.At); err != nil {
			return freed, err
		}
		e.logger.Info().
			Str("auction_id", a.ID).
			Str("lot_id", b.LotID).
			Str("plan_id", b.PlanID).
			Time("slot", b.At).
			Msg("freed stale slot")
		freed++
	}
	return freed, nil
}

// holds reports whether the period's start date lies in [at, at+width).
func (e *Evaluator) holds(at time.Time, width time.Duration, p *registry.Period) bool {
	if p == nil || p.StartDate == "" {
		return false
	}
	start, err := registry.ParseTime(p.StartDate, e.loc)
	if err != nil {
		return false
	}
	return !start.Before(at) && start.Before(at.Add(width))
}
