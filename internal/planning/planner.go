/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/friendsincode/chronograph/internal/events"
	"github.com/friendsincode/chronograph/internal/telemetry"
	"github.com/rs/zerolog"
)

// RunwayBuffer is the minimum gap between notBefore and a planned start.
const RunwayBuffer = time.Hour

// DefaultHorizon bounds how many calendar days the planner will look ahead.
const DefaultHorizon = 730

// HolidaySource answers whether a day is a non-working day.
type HolidaySource interface {
	IsHoliday(ctx context.Context, day time.Time) (bool, error)
}

// CapacitySource returns the number of streams available for a capacity key.
type CapacitySource interface {
	Capacity(ctx context.Context, key string) (int, error)
}

// Options tunes a Planner.
type Options struct {
	Location        *time.Location
	ConflictRetries int
	Horizon         int // calendar days
}

// Planner reserves and releases auction slots.
type Planner struct {
	repo     Repository
	registry *Registry
	holidays HolidaySource
	capacity CapacitySource
	bus      events.Publisher
	loc      *time.Location
	retries  int
	horizon  int
	logger   zerolog.Logger
}

// New constructs a planner.
func New(repo Repository, registry *Registry, holidays HolidaySource, capacity CapacitySource, bus events.Publisher, opts Options, logger zerolog.Logger) *Planner {
	if registry == nil {
		registry = DefaultRegistry()
	}
	if bus == nil {
		bus = events.NewBus()
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.ConflictRetries <= 0 {
		opts.ConflictRetries = 50
	}
	if opts.Horizon <= 0 {
		opts.Horizon = DefaultHorizon
	}
	return &Planner{
		repo:     repo,
		registry: registry,
		holidays: holidays,
		capacity: capacity,
		bus:      bus,
		loc:      opts.Location,
		retries:  opts.ConflictRetries,
		horizon:  opts.Horizon,
		logger:   logger.With().Str("component", "planner").Logger(),
	}
}

// Registry exposes the strategy table the planner was built with.
func (p *Planner) Registry() *Registry {
	return p.registry
}

// Location is the planning timezone.
func (p *Planner) Location() *time.Location {
	return p.loc
}

// Request asks for one reservation.
type Request struct {
	Key       string // auction id, or "<auction id>_<lot id>"
	Mode      string
	NotBefore time.Time
	Strategy  Strategy
	Quick     bool
}

// Reservation is a durably stored slot.
type Reservation struct {
	PlanID      string
	Start       time.Time
	Stream      int
	SkippedDays int
	Reused      bool
}

// PlanAuction reserves the earliest slot at least RunwayBuffer after
// req.NotBefore on a working day with free capacity. The reservation is
// saved before PlanAuction returns. Quick requests bypass the calendar and
// are not stored.
func (p *Planner) PlanAuction(ctx context.Context, req Request) (Reservation, error) {
	ctx, span := telemetry.StartSpan(ctx, "planner", "plan_auction")
	defer span.End()

	strat := req.Strategy
	if strat == nil {
		strat = p.registry.fallback
	}
	telemetry.AddSpanAttributes(span, map[string]any{
		"auction.key": req.Key,
		"strategy":    strat.Name(),
		"quick":       req.Quick,
	})

	if req.Quick {
		return Reservation{Start: CalcAuctionEndTime(0, req.NotBefore.In(p.loc))}, nil
	}

	capacity, err := p.capacity.Capacity(ctx, strat.StreamsKey())
	if err != nil {
		telemetry.RecordError(span, err)
		return Reservation{}, fmt.Errorf("read %s capacity: %w", strat.StreamsKey(), err)
	}

	start := req.NotBefore.In(p.loc).Add(RunwayBuffer)
	firstDay := DayOf(start, p.loc)
	if TimeOf(start) > strat.WorkingDayStart() {
		firstDay = firstDay.AddDate(0, 0, 1)
	}

	var res Reservation
	err = retryOnConflict(ctx, p.retries, func() error {
		var err error
		res, err = p.reserve(ctx, strat, req, firstDay, capacity)
		return err
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return Reservation{}, err
	}

	kind := "new"
	if res.Reused {
		kind = "reused"
	}
	telemetry.PlannerReservationsTotal.WithLabelValues(strat.Name(), kind).Inc()
	telemetry.PlannerSkippedDays.Observe(float64(res.SkippedDays))
	p.bus.Publish(events.EventSlotPlanned, events.Payload{
		"key":          req.Key,
		"plan_id":      res.PlanID,
		"strategy":     strat.Name(),
		"start":        res.Start.Format(time.RFC3339),
		"stream":       res.Stream,
		"skipped_days": res.SkippedDays,
	})
	return res, nil
}

// reserve walks days from firstDay until strat places the key, then saves.
// One call is one optimistic attempt; a conflict on save restarts the walk.
func (p *Planner) reserve(ctx context.Context, strat Strategy, req Request, firstDay time.Time, capacity int) (Reservation, error) {
	day := firstDay
	skipped := 0
	for i := 0; i < p.horizon; i, day = i+1, day.AddDate(0, 0, 1) {
		if IsWeekend(day) {
			continue
		}
		holiday, err := p.holidays.IsHoliday(ctx, day)
		if err != nil {
			return Reservation{}, fmt.Errorf("check holiday %s: %w", DateKey(day), err)
		}
		if holiday {
			continue
		}

		plan, err := p.load(ctx, strat, req.Mode, day)
		if err != nil {
			return Reservation{}, err
		}

		at, ok := strat.Place(plan, capacity)
		if !ok {
			skipped++
			continue
		}

		strat.Commit(plan, at, req.Key)
		if err := p.repo.Save(ctx, plan); err != nil {
			return Reservation{}, err
		}
		return Reservation{
			PlanID:      plan.ID,
			Start:       at.Start,
			Stream:      at.Stream,
			SkippedDays: skipped,
			Reused:      at.Reused,
		}, nil
	}
	return Reservation{}, fmt.Errorf("%w: %s from %s over %d days", ErrNoCapacity, strat.Name(), DateKey(firstDay), p.horizon)
}

func (p *Planner) load(ctx context.Context, strat Strategy, mode string, day time.Time) (*Plan, error) {
	id := strat.PlanID(mode, day)
	plan, err := p.repo.Load(ctx, id)
	if errors.Is(err, ErrPlanNotFound) {
		return &Plan{ID: id, Mode: mode, Day: day, Strategy: strat.Name()}, nil
	}
	if err != nil {
		return nil, err
	}
	return plan, nil
}

// FreeSlot releases key's reservation at the given time in planID. Missing
// plans and already-free slots are not errors.
func (p *Planner) FreeSlot(ctx context.Context, planID, key string, at time.Time) error {
	ctx, span := telemetry.StartSpan(ctx, "planner", "free_slot")
	defer span.End()

	var strategyName string
	var released int
	err := retryOnConflict(ctx, p.retries, func() error {
		plan, err := p.repo.Load(ctx, planID)
		if errors.Is(err, ErrPlanNotFound) {
			released = 0
			return nil
		}
		if err != nil {
			return err
		}
		strat, err := p.registry.ByName(plan.Strategy)
		if err != nil {
			return err
		}
		strategyName = strat.Name()
		released = strat.Release(plan, TimeOf(at.In(p.loc)), key)
		if released == 0 {
			return nil
		}
		return p.repo.Save(ctx, plan)
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("free %s in %s: %w", key, planID, err)
	}

	if released > 0 {
		telemetry.PlannerSlotsFreedTotal.WithLabelValues(strategyName).Inc()
		p.bus.Publish(events.EventSlotFreed, events.Payload{
			"key":     key,
			"plan_id": planID,
			"at":      at.In(p.loc).Format(time.RFC3339),
		})
		p.logger.Info().Str("plan_id", planID).Str("key", key).Time("at", at).Msg("slot freed")
	}
	return nil
}

// Booking is a stored reservation resolved back to wall-clock time.
type Booking struct {
	PlanID string
	Key    string
	LotID  string // empty for a whole-auction reservation
	At     time.Time
	Width  time.Duration
}

// Bookings lists every reservation held by auctionID or its lots.
func (p *Planner) Bookings(ctx context.Context, auctionID string) ([]Booking, error) {
	holdings, err := p.repo.FindByOccupant(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	out := make([]Booking, 0, len(holdings))
	for _, h := range holdings {
		strat, err := p.registry.ByName(h.Strategy)
		if err != nil {
			p.logger.Warn().Err(err).Str("plan_id", h.PlanID).Msg("skipping holding with unknown strategy")
			continue
		}
		out = append(out, Booking{
			PlanID: h.PlanID,
			Key:    h.Occupant,
			LotID:  strings.TrimPrefix(strings.TrimPrefix(h.Occupant, auctionID), "_"),
			At:     strat.SlotTime(h.Stream, h.Position).On(h.Day),
			Width:  strat.SlotWidth(),
		})
	}
	return out, nil
}
