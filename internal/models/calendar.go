/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import "time"

// Holiday marks a non-working date (YYYY-MM-DD).
type Holiday struct {
	Date      string `gorm:"type:varchar(10);primaryKey"`
	CreatedAt time.Time
}

// StreamCapacity stores how many parallel streams an auction type may use per day.
type StreamCapacity struct {
	Key       string `gorm:"type:varchar(32);primaryKey"`
	Value     int
	UpdatedAt time.Time
}

// Stream capacity keys and their defaults.
const (
	StreamsClassic = "streams"
	StreamsDutch   = "dutch_streams"
	StreamsTexas   = "texas_streams"
)

// DefaultStreamCapacities is used for keys that were never written.
var DefaultStreamCapacities = map[string]int{
	StreamsClassic: 10,
	StreamsDutch:   15,
	StreamsTexas:   20,
}

// StreamKeys lists capacity keys in lookup order.
var StreamKeys = []string{StreamsClassic, StreamsDutch, StreamsTexas}
