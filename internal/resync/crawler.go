/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package resync

import (
	"context"
	"errors"
	"strings"

	"github.com/friendsincode/chronograph/internal/registry"
	"github.com/friendsincode/chronograph/internal/scheduler"
	"github.com/friendsincode/chronograph/internal/telemetry"
	"github.com/google/uuid"
)

// ResyncForward walks the changes feed from resumeURL until it runs dry or
// fails, then re-arms resync_all one heartbeat out with the cursor it
// reached. The first page of a descending walk hands the historical tail to
// resync_back and continues forward from the newest end.
func (e *Engine) ResyncForward(ctx context.Context, resumeURL string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "resync", "resync_all")
	defer span.End()

	next := resumeURL
	if next == "" || !strings.Contains(next, registry.FeedOptFields) {
		next = e.reg.ChangesFeedURL()
	}
	requestID := uuid.NewString()
	logger := e.logger.With().Str("request_id", requestID).Logger()

	pages := 0
	for {
		if err := e.limiter.Wait(ctx); err != nil {
			break
		}
		page, err := e.reg.FetchPage(ctx, next, requestID)
		if errors.Is(err, registry.ErrNotFound) {
			next = ""
			break
		}
		if err != nil {
			telemetry.ResyncErrorsTotal.WithLabelValues("resync_all").Inc()
			telemetry.RecordError(span, err)
			logger.Error().Err(err).Msg("error on resync all")
			break
		}

		next = page.NextPage.URI
		if strings.Contains(next, "descending=1") {
			if err := e.jobs.AddJob(ctx, scheduler.JobSpec{
				ID:     JobResyncBack,
				Name:   "Resync back",
				RunAt:  e.now(),
				URL:    e.opts.CallbackURL + "resync_back",
				Params: map[string]string{"url": next},
			}); err != nil {
				logger.Error().Err(err).Msg("failed to arm resync back")
			}
			next = page.PrevPage.URI
		}
		if len(page.Data) == 0 {
			break
		}

		telemetry.ResyncPagesTotal.WithLabelValues("forward").Inc()
		pages++
		if err := e.processListing(ctx, page.Data, true); err != nil {
			telemetry.ResyncErrorsTotal.WithLabelValues("resync_all").Inc()
			logger.Error().Err(err).Msg("error on resync all")
			break
		}
	}

	telemetry.ResyncLastSweep.SetToCurrentTime()
	logger.Debug().Int("pages", pages).Str("next_url", next).Msg("resync all finished")

	spec := e.HeartbeatSpec(e.now())
	spec.Params = map[string]string{"url": next}
	// The request context may already be gone; the heartbeat must still land.
	if err := e.jobs.AddJob(context.WithoutCancel(ctx), spec); err != nil {
		return next, err
	}
	return next, nil
}

// ResyncBackward walks the historical part of the feed. An empty page ends
// the walk for good; a failure re-arms resync_back one heartbeat out.
func (e *Engine) ResyncBackward(ctx context.Context, resumeURL string) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "resync", "resync_back")
	defer span.End()

	next := resumeURL
	if next == "" {
		next = e.reg.ChangesFeedURL()
	}
	requestID := uuid.NewString()
	logger := e.logger.With().Str("request_id", requestID).Logger()
	logger.Info().Msg("resync back started")

	for {
		if err := e.limiter.Wait(ctx); err != nil {
			break
		}
		page, err := e.reg.FetchPage(ctx, next, requestID)
		if errors.Is(err, registry.ErrNotFound) {
			next = ""
			break
		}
		if err != nil {
			telemetry.ResyncErrorsTotal.WithLabelValues("resync_back").Inc()
			telemetry.RecordError(span, err)
			logger.Error().Err(err).Msg("error on resync back")
			break
		}

		next = page.NextPage.URI
		if len(page.Data) == 0 {
			logger.Info().Msg("resync back stopped")
			return next, nil
		}
		telemetry.ResyncPagesTotal.WithLabelValues("backward").Inc()
		if err := e.processListing(ctx, page.Data, false); err != nil {
			telemetry.ResyncErrorsTotal.WithLabelValues("resync_back").Inc()
			logger.Error().Err(err).Msg("error on resync back")
			break
		}
	}

	logger.Info().Msg("resync back break")
	err := e.jobs.AddJob(context.WithoutCancel(ctx), scheduler.JobSpec{
		ID:     JobResyncBack,
		Name:   "Resync back",
		RunAt:  e.now().Add(e.opts.HeartbeatDelay),
		URL:    e.opts.CallbackURL + "resync_back",
		Params: map[string]string{"url": next},
	})
	return next, err
}

// processListing arms rechecks and resyncs for one page of feed items.
// With reconcile set, reservations an item no longer uses are freed first.
func (e *Engine) processListing(ctx context.Context, items []registry.Auction, reconcile bool) error {
	now := e.now()
	for i := range items {
		a := &items[i]
		if reconcile {
			if _, err := e.eval.ReconcileBookings(ctx, a); err != nil {
				return err
			}
		}

		if nextCheck, ok := e.parseNextCheck(a); ok {
			if err := e.UpdateNextCheck(ctx, nextCheck, a.ID, now, true); err != nil {
				return err
			}
		}

		if !e.listedNeedsPlanning(a) {
			continue
		}
		job, err := e.jobs.GetJob(ctx, a.ID)
		if err != nil && !errors.Is(err, scheduler.ErrJobNotFound) {
			return err
		}
		if job != nil && !job.RunAt.After(now.Add(e.opts.ResyncWithin)) {
			continue
		}
		if err := e.armResync(ctx, a.ID, now); err != nil {
			return err
		}
	}
	return nil
}

// listedNeedsPlanning checks the top level and every lot, whatever its status.
func (e *Engine) listedNeedsPlanning(a *registry.Auction) bool {
	if e.eval.NeedsPlanning(a.AuctionPeriod) {
		return true
	}
	for i := range a.Lots {
		if e.eval.NeedsPlanning(a.Lots[i].AuctionPeriod) {
			return true
		}
	}
	return false
}
