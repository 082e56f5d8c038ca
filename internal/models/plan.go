/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Plan is the per-(mode, day) slot document. Revision is bumped on every
// save and guards concurrent writers.
type Plan struct {
	ID           string `gorm:"type:varchar(96);primaryKey"`
	Mode         string `gorm:"type:varchar(32);index"`
	Day          string `gorm:"type:varchar(10);index"` // YYYY-MM-DD in the planning timezone
	Strategy     string `gorm:"type:varchar(32)"`
	CursorTime   int    // seconds after midnight
	CursorStream int
	Revision     int64      `gorm:"not null"`
	Slots        []PlanSlot `gorm:"foreignKey:PlanID;constraint:OnDelete:CASCADE"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for GORM.
func (Plan) TableName() string {
	return "plans"
}

// PlanSlot is one (stream, position) cell of a plan.
//
// Classic plans use Stream >= 1 and Position = seconds after midnight.
// Capacity plans use Stream = 0 and Position = order of arrival.
// A nil Occupant marks a released slot that may be reused.
type PlanSlot struct {
	ID       uint    `gorm:"primaryKey"`
	PlanID   string  `gorm:"type:varchar(96);uniqueIndex:idx_plan_slot_cell"`
	Stream   int     `gorm:"uniqueIndex:idx_plan_slot_cell"`
	Position int     `gorm:"uniqueIndex:idx_plan_slot_cell"`
	Occupant *string `gorm:"type:varchar(160);index"`
}

// TableName returns the table name for GORM.
func (PlanSlot) TableName() string {
	return "plan_slots"
}
