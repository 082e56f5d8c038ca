/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/friendsincode/chronograph/internal/telemetry"
)

// retryOnConflict runs op until it succeeds, fails with something other than
// ErrConflict, or has been attempted attempts times. Only conflicts are retried.
func retryOnConflict(ctx context.Context, attempts int, op func() error) error {
	if attempts < 1 {
		attempts = 1
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, ErrConflict):
			telemetry.PlannerConflictsTotal.Inc()
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithMaxElapsedTime(0),
	)

	// The final attempt's error is returned as-is, still wrapped when permanent.
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Unwrap()
	}
	if errors.Is(err, ErrConflict) {
		return fmt.Errorf("%w after %d attempts: %w", ErrConflictRetriesExhausted, attempts, err)
	}
	return err
}
