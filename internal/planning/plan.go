/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import (
	"fmt"
	"slices"
	"time"
)

// Slot is one cell of a classic plan. An empty Occupant marks a gap left by
// a released reservation.
type Slot struct {
	Stream   int
	Time     TimeOfDay
	Occupant string
}

// Free reports whether the slot can be handed out again.
func (s Slot) Free() bool {
	return s.Occupant == ""
}

// Plan is the in-memory form of one plan document. Classic strategies use
// the cursor and Slots; capacity strategies only use Occupants.
type Plan struct {
	ID       string
	Mode     string
	Day      time.Time // midnight in the planning timezone
	Strategy string

	CursorTime   TimeOfDay
	CursorStream int
	Slots        []Slot // ordered by (Stream, Time)
	Occupants    []string

	// Revision is 0 for a plan that has never been saved.
	Revision int64
}

// PlanID formats the document key for a mode, an optional bucket and a day.
func PlanID(mode, bucket string, day time.Time) string {
	if bucket == "" {
		return fmt.Sprintf("plan%s_%s", mode, DateKey(day))
	}
	return fmt.Sprintf("plan%s_%s_%s", mode, bucket, DateKey(day))
}

// FirstFree returns the earliest released slot, scanning streams
// 1..CursorStream in order and times within a stream in ascending order.
func (p *Plan) FirstFree() (Slot, bool) {
	for stream := 1; stream <= p.CursorStream; stream++ {
		for _, s := range p.Slots {
			if s.Stream == stream && s.Free() {
				return s, true
			}
		}
	}
	return Slot{}, false
}

// Assign writes occupant into (stream, at), creating the cell if needed.
// A cell holds exactly one occupant, so assigning twice overwrites.
func (p *Plan) Assign(stream int, at TimeOfDay, occupant string) {
	for i := range p.Slots {
		if p.Slots[i].Stream == stream && p.Slots[i].Time == at {
			p.Slots[i].Occupant = occupant
			return
		}
	}
	p.Slots = append(p.Slots, Slot{Stream: stream, Time: at, Occupant: occupant})
	p.sortSlots()
}

// Release clears every cell at the given time held by occupant and reports
// how many were cleared.
func (p *Plan) Release(at TimeOfDay, occupant string) int {
	n := 0
	for i := range p.Slots {
		if p.Slots[i].Time == at && p.Slots[i].Occupant == occupant {
			p.Slots[i].Occupant = ""
			n++
		}
	}
	return n
}

// RemoveOccupant drops every capacity entry equal to occupant.
func (p *Plan) RemoveOccupant(occupant string) int {
	before := len(p.Occupants)
	p.Occupants = slices.DeleteFunc(p.Occupants, func(o string) bool { return o == occupant })
	return before - len(p.Occupants)
}

// Holds reports every (stream, time) occupied by occupant.
func (p *Plan) Holds(occupant string) []Slot {
	var out []Slot
	for _, s := range p.Slots {
		if s.Occupant == occupant {
			out = append(out, s)
		}
	}
	return out
}

func (p *Plan) sortSlots() {
	slices.SortFunc(p.Slots, func(a, b Slot) int {
		if a.Stream != b.Stream {
			return a.Stream - b.Stream
		}
		switch {
		case a.Time < b.Time:
			return -1
		case a.Time > b.Time:
			return 1
		}
		return 0
	})
}

// Clone returns a deep copy so strategies can mutate without touching the loaded value.
func (p *Plan) Clone() *Plan {
	c := *p
	c.Slots = slices.Clone(p.Slots)
	c.Occupants = slices.Clone(p.Occupants)
	return &c
}
