/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Job is a persisted one-shot callback. There is at most one row per ID;
// adding a job with an existing ID replaces it.
type Job struct {
	ID           string            `gorm:"type:varchar(128);primaryKey"`
	Name         string            `gorm:"type:varchar(160)"`
	RunAt        time.Time         `gorm:"index"`
	Due          time.Time         // requested time before jitter
	URL          string            `gorm:"type:text"`
	Params       map[string]string `gorm:"serializer:json;type:text"`
	MisfireGrace time.Duration
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// TableName returns the table name for GORM.
func (Job) TableName() string {
	return "jobs"
}
