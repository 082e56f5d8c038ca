/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleJobsList(w http.ResponseWriter, r *http.Request) {
	jobs, err := a.jobs.ListJobs(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list jobs failed")
		writeError(w, http.StatusInternalServerError, "list_jobs_failed")
		return
	}
	out := make(map[string]any, len(jobs))
	for _, job := range jobs {
		out[job.ID] = a.formatTime(job.RunAt)
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

// runCallback runs fn at most once at a time per key. A request arriving
// while the same callback is running waits for that run and shares its
// result instead of starting another. fn keeps running when the caller
// gives up waiting, so a sweep always reaches the point where it re-arms
// itself.
func (a *API) runCallback(r *http.Request, key string, fn func(ctx context.Context) (any, error)) (any, error) {
	ctx := context.WithoutCancel(r.Context())
	v, err, shared := a.callbacks.Do(key, func() (any, error) {
		return fn(ctx)
	})
	if shared {
		a.logger.Debug().Str("callback", key).Msg("joined running callback")
	}
	return v, err
}

func (a *API) handleResyncAll(w http.ResponseWriter, r *http.Request) {
	resume := r.URL.Query().Get("url")
	next, err := a.runCallback(r, "resync_all", func(ctx context.Context) (any, error) {
		return a.resync.ResyncForward(ctx, resume)
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("resync all failed")
		writeError(w, http.StatusInternalServerError, "resync_all_failed")
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (a *API) handleResyncBack(w http.ResponseWriter, r *http.Request) {
	resume := r.URL.Query().Get("url")
	next, err := a.runCallback(r, "resync_back", func(ctx context.Context) (any, error) {
		return a.resync.ResyncBackward(ctx, resume)
	})
	if err != nil {
		a.logger.Error().Err(err).Msg("resync back failed")
		writeError(w, http.StatusInternalServerError, "resync_back_failed")
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (a *API) handleResync(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "auctionID")
	next, err := a.runCallback(r, "resync/"+id, func(ctx context.Context) (any, error) {
		return a.resync.Resync(ctx, id)
	})
	if err != nil {
		a.logger.Error().Err(err).Str("auction_id", id).Msg("resync failed")
		writeError(w, http.StatusInternalServerError, "resync_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.formatTime(next.(time.Time)))
}

func (a *API) handleRecheck(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "auctionID")
	next, err := a.runCallback(r, "recheck/"+id, func(ctx context.Context) (any, error) {
		return a.resync.Recheck(ctx, id)
	})
	if err != nil {
		a.logger.Error().Err(err).Str("auction_id", id).Msg("recheck failed")
		writeError(w, http.StatusInternalServerError, "recheck_failed")
		return
	}
	writeJSON(w, http.StatusOK, a.formatTime(next.(time.Time)))
}
