/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import "errors"

var (
	// ErrConflict means another writer saved the plan first. Callers reload and retry.
	ErrConflict = errors.New("planning: plan was modified concurrently")

	// ErrConflictRetriesExhausted wraps ErrConflict once the retry bound is hit.
	ErrConflictRetriesExhausted = errors.New("planning: conflict retries exhausted")

	// ErrPlanNotFound is returned by Repository.Load for a plan never saved.
	ErrPlanNotFound = errors.New("planning: plan not found")

	// ErrNoCapacity means no day within the planning horizon had room.
	ErrNoCapacity = errors.New("planning: no capacity within horizon")

	// ErrUnknownStrategy names an auction type missing from the registry.
	ErrUnknownStrategy = errors.New("planning: unknown strategy")
)
