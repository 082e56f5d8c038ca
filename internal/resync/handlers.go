/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resync

import (
	"context"
	"errors"
	"time"

	"github.com/friendsincode/chronograph/internal/registry"
	"github.com/friendsincode/chronograph/internal/telemetry"
	"github.com/google/uuid"
)

// Resync fetches one auction, plans whatever needs a slot and patches the
// result back. Failures are not returned to the caller as such: they arm a
// delayed resync of the same auction, whose due time is returned. A zero
// time means nothing was re-armed.
func (e *Engine) Resync(ctx context.Context, id string) (time.Time, error) {
	ctx, span := telemetry.StartSpan(ctx, "resync", "resync_auction")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"auction.id": id})

	requestID := uuid.NewString()
	logger := e.logger.With().Str("auction_id", id).Str("request_id", requestID).Logger()
	var nextSync time.Time

	auction, err := e.reg.GetAuction(ctx, id, requestID)
	switch {
	case errors.Is(err, registry.ErrNotFound):
		logger.Error().Err(err).Msg("auction not found, not rescheduling")
		return time.Time{}, nil
	case err != nil:
		telemetry.ResyncErrorsTotal.WithLabelValues("get_auction").Inc()
		telemetry.RecordError(span, err)
		logger.Error().Err(err).Msg("failed to get auction")
		nextSync = e.now().Add(e.jitter(e.opts.SmoothingRemin, e.opts.SmoothingMax))
	default:
		nextSync = e.apply(ctx, auction, requestID)
	}

	if nextSync.IsZero() {
		return time.Time{}, nil
	}
	if err := e.armResync(ctx, id, nextSync); err != nil {
		return nextSync, err
	}
	logger.Info().Time("next_sync", nextSync).Msg("resync re-armed")
	return nextSync, nil
}

// apply evaluates and patches one snapshot. It returns a non-zero retry time
// when planning or the PATCH failed.
func (e *Engine) apply(ctx context.Context, auction *registry.Auction, requestID string) time.Time {
	logger := e.logger.With().Str("auction_id", auction.ID).Str("request_id", requestID).Logger()
	retryAt := func() time.Time {
		return e.now().Add(e.jitter(e.opts.SmoothingRemin, e.opts.SmoothingMax))
	}

	decision, err := e.eval.Evaluate(ctx, auction)
	if err != nil {
		telemetry.ResyncErrorsTotal.WithLabelValues("plan").Inc()
		logger.Error().Err(err).Msg("failed to plan auction")
		return retryAt()
	}
	if decision.Patch == nil {
		// Nothing to plan; keep the recheck in step with the snapshot.
		if !decision.NextCheck.IsZero() {
			if err := e.UpdateNextCheck(ctx, decision.NextCheck, auction.ID, e.now(), true); err != nil {
				logger.Error().Err(err).Msg("failed to arm recheck")
			}
		}
		return time.Time{}
	}

	updated, err := e.reg.PatchAuction(ctx, auction.ID, decision.Patch, requestID)
	if err != nil {
		telemetry.ResyncErrorsTotal.WithLabelValues("patch_auction").Inc()
		logger.Error().Err(err).Msg("failed to patch auction")
		return retryAt()
	}
	logger.Info().Msg("auction periods updated")

	if nextCheck, ok := e.parseNextCheck(updated); ok {
		if err := e.UpdateNextCheck(ctx, nextCheck, auction.ID, e.now(), false); err != nil {
			logger.Error().Err(err).Msg("failed to arm recheck")
		}
	}
	return time.Time{}
}

// Recheck asks the registry to advance an auction and arms the next
// recheck from its answer. Forbidden and not-found answers end the chain;
// other failures retry in a minute. It returns the next_check it armed, or
// zero.
func (e *Engine) Recheck(ctx context.Context, id string) (time.Time, error) {
	ctx, span := telemetry.StartSpan(ctx, "resync", "recheck_auction")
	defer span.End()
	telemetry.AddSpanAttributes(span, map[string]any{"auction.id": id})

	requestID := uuid.NewString()
	logger := e.logger.With().Str("auction_id", id).Str("request_id", requestID).Logger()
	now := e.now()

	var nextCheck time.Time
	auction, err := e.reg.Recheck(ctx, id, requestID)
	switch {
	case errors.Is(err, registry.ErrNotFound), errors.Is(err, registry.ErrForbidden):
		logger.Error().Err(err).Msg("recheck refused, not rescheduling")
		return time.Time{}, nil
	case err != nil:
		telemetry.ResyncErrorsTotal.WithLabelValues("recheck").Inc()
		telemetry.RecordError(span, err)
		logger.Error().Err(err).Msg("failed to recheck auction")
		nextCheck = now.Add(time.Minute)
	default:
		t, ok := e.parseNextCheck(auction)
		if !ok {
			return time.Time{}, nil
		}
		nextCheck = t
	}

	if err := e.UpdateNextCheck(ctx, nextCheck, id, now, false); err != nil {
		return nextCheck, err
	}
	return nextCheck, nil
}
