/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the job callbacks and the calendar and streams
// administration endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/friendsincode/chronograph/internal/auth"
	"github.com/friendsincode/chronograph/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Jobs lists pending jobs.
type Jobs interface {
	ListJobs(ctx context.Context) ([]models.Job, error)
}

// Resyncer runs the callbacks jobs push to.
type Resyncer interface {
	Resync(ctx context.Context, id string) (time.Time, error)
	Recheck(ctx context.Context, id string) (time.Time, error)
	ResyncForward(ctx context.Context, resumeURL string) (string, error)
	ResyncBackward(ctx context.Context, resumeURL string) (string, error)
}

// Calendar is the holiday and stream capacity store.
type Calendar interface {
	ListHolidays(ctx context.Context) ([]string, error)
	Holiday(ctx context.Context, date string) (bool, error)
	SetHoliday(ctx context.Context, date string) error
	DeleteHoliday(ctx context.Context, date string) error
	Capacity(ctx context.Context, key string) (int, error)
	SetCapacity(ctx context.Context, key string, value int) (bool, error)
}

// API holds the HTTP handlers.
type API struct {
	jobs       Jobs
	resync     Resyncer
	calendar   Calendar
	streamKeys []string // first is the default
	jwtSecret  []byte
	loc        *time.Location
	logger     zerolog.Logger

	// callbacks coalesces concurrent runs of the same callback
	callbacks singleflight.Group
}

// New constructs the API. streamKeys lists the capacity settings GET and
// POST /streams accept; the first one is the default.
func New(jobs Jobs, resync Resyncer, calendar Calendar, streamKeys []string, jwtSecret []byte, loc *time.Location, logger zerolog.Logger) *API {
	if loc == nil {
		loc = time.Local
	}
	return &API{
		jobs:       jobs,
		resync:     resync,
		calendar:   calendar,
		streamKeys: streamKeys,
		jwtSecret:  jwtSecret,
		loc:        loc,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers every endpoint on r.
func (a *API) Routes(r chi.Router) {
	r.Get("/", a.handleJobsList)

	// Job callbacks, pushed by the scheduler
	r.Get("/resync_all", a.handleResyncAll)
	r.Get("/resync_back", a.handleResyncBack)
	r.Get("/resync/{auctionID}", a.handleResync)
	r.Get("/recheck/{auctionID}", a.handleRecheck)

	admin := auth.RequireScope(a.jwtSecret, auth.ScopeAdmin)
	r.Route("/calendar", func(r chi.Router) {
		r.Get("/", a.handleCalendarList)
		r.Get("/{date}", a.handleCalendarGet)
		r.With(admin).Post("/{date}", a.handleCalendarSet)
		r.With(admin).Delete("/{date}", a.handleCalendarDelete)
	})
	r.Get("/streams", a.handleStreamsGet)
	r.With(admin).Post("/streams", a.handleStreamsSet)
}

// formatTime renders t in the planning timezone, or null when zero.
func (a *API) formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.In(a.loc).Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
