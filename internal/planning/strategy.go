/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import (
	"time"

	"github.com/friendsincode/chronograph/internal/models"
)

// Placement is where a strategy decided to put a reservation on one day.
type Placement struct {
	Stream int
	Time   TimeOfDay // slot key within the stream
	Start  time.Time
	End    time.Time
	Reused bool // a released slot was handed out again; the cursor stays put
}

// Strategy encapsulates how one auction type lays reservations out on a day.
type Strategy interface {
	// Name is the auction type this strategy serves, e.g. "english".
	Name() string
	// StreamsKey names the capacity setting the strategy consumes.
	StreamsKey() string
	// WorkingDayStart is the first bookable time of day.
	WorkingDayStart() TimeOfDay
	// SlotWidth is how long one reservation occupies its slot.
	SlotWidth() time.Duration
	// PlanID is the document key for mode and day.
	PlanID(mode string, day time.Time) string
	// Place finds room for one more reservation on plan's day, or reports the day is full.
	Place(plan *Plan, capacity int) (Placement, bool)
	// Commit records key at the placement.
	Commit(plan *Plan, at Placement, key string)
	// Release frees key's reservation at the given slot time and reports how many cells changed.
	Release(plan *Plan, at TimeOfDay, key string) int
	// SlotTime maps a stored cell back to the time of day it represents.
	SlotTime(stream, position int) TimeOfDay
}

// Classic packs fixed-width slots into parallel streams between a start
// and end of the working day.
type Classic struct {
	TypeName string
	Key      string
	DayStart TimeOfDay
	DayEnd   TimeOfDay
	Width    time.Duration
}

// NewClassic returns the english-auction layout: 30 minute slots from 11:00 to 16:00.
func NewClassic() *Classic {
	return &Classic{
		TypeName: "english",
		Key:      models.StreamsClassic,
		DayStart: Clock(11, 0),
		DayEnd:   Clock(16, 0),
		Width:    30 * time.Minute,
	}
}

func (c *Classic) Name() string                  { return c.TypeName }
func (c *Classic) StreamsKey() string            { return c.Key }
func (c *Classic) WorkingDayStart() TimeOfDay    { return c.DayStart }
func (c *Classic) SlotWidth() time.Duration      { return c.Width }
func (c *Classic) SlotTime(_, pos int) TimeOfDay { return FromSeconds(pos) }

func (c *Classic) PlanID(mode string, day time.Time) string {
	return PlanID(mode, "", day)
}

// cursor returns the plan's frontier, defaulting an unsaved plan to the start of stream 1.
func (c *Classic) cursor(plan *Plan) (TimeOfDay, int) {
	if plan.Revision == 0 && plan.CursorStream == 0 {
		return c.DayStart, 1
	}
	stream := plan.CursorStream
	if stream == 0 {
		stream = 1
	}
	return plan.CursorTime, stream
}

// Place reuses the earliest released slot if there is one, otherwise extends
// the cursor. A stream always takes at least one reservation per day even if
// it overruns the end of the working day.
func (c *Classic) Place(plan *Plan, capacity int) (Placement, bool) {
	if free, ok := plan.FirstFree(); ok {
		start := free.Time.On(plan.Day)
		return Placement{Stream: free.Stream, Time: free.Time, Start: start, End: start, Reused: true}, true
	}

	at, stream := c.cursor(plan)
	if at >= c.DayEnd && stream < capacity {
		stream++
		at = c.DayStart
	}

	start := at.On(plan.Day)
	end := start.Add(c.Width)
	dayEnd := c.DayEnd.On(plan.Day)
	if stream <= capacity && (!end.After(dayEnd) || at == c.DayStart) {
		return Placement{Stream: stream, Time: at, Start: start, End: end}, true
	}
	return Placement{}, false
}

func (c *Classic) Commit(plan *Plan, at Placement, key string) {
	if !at.Reused {
		plan.CursorTime = TimeOf(at.End)
		plan.CursorStream = at.Stream
	}
	plan.Assign(at.Stream, at.Time, key)
}

func (c *Classic) Release(plan *Plan, at TimeOfDay, key string) int {
	return plan.Release(at, key)
}

// Capacity admits up to capacity reservations per day, all starting at the
// same time and lasting the whole working day.
type Capacity struct {
	TypeName string
	Key      string
	DayStart TimeOfDay
	Duration time.Duration
}

// NewInsider returns the dutch-auction layout: 09:30 for 8 hours.
func NewInsider() *Capacity {
	return &Capacity{TypeName: "insider", Key: models.StreamsDutch, DayStart: Clock(9, 30), Duration: 8 * time.Hour}
}

// NewTexas returns the texas-auction layout: 10:00 for 7 hours.
func NewTexas() *Capacity {
	return &Capacity{TypeName: "texas", Key: models.StreamsTexas, DayStart: Clock(10, 0), Duration: 7 * time.Hour}
}

func (c *Capacity) Name() string                { return c.TypeName }
func (c *Capacity) StreamsKey() string          { return c.Key }
func (c *Capacity) WorkingDayStart() TimeOfDay  { return c.DayStart }
func (c *Capacity) SlotWidth() time.Duration    { return c.Duration }
func (c *Capacity) SlotTime(_, _ int) TimeOfDay { return c.DayStart }

func (c *Capacity) PlanID(mode string, day time.Time) string {
	return PlanID(mode, c.TypeName, day)
}

func (c *Capacity) Place(plan *Plan, capacity int) (Placement, bool) {
	if len(plan.Occupants) >= capacity {
		return Placement{}, false
	}
	start := c.DayStart.On(plan.Day)
	return Placement{
		Stream: len(plan.Occupants) + 1,
		Time:   c.DayStart,
		Start:  start,
		End:    start.Add(c.Duration),
	}, true
}

func (c *Capacity) Commit(plan *Plan, _ Placement, key string) {
	plan.Occupants = append(plan.Occupants, key)
}

func (c *Capacity) Release(plan *Plan, _ TimeOfDay, key string) int {
	return plan.RemoveOccupant(key)
}
