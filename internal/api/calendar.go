/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/friendsincode/chronograph/internal/calendar"
	"github.com/go-chi/chi/v5"
)

func (a *API) handleCalendarList(w http.ResponseWriter, r *http.Request) {
	dates, err := a.calendar.ListHolidays(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list holidays failed")
		writeError(w, http.StatusInternalServerError, "list_holidays_failed")
		return
	}
	if dates == nil {
		dates = []string{}
	}
	writeJSON(w, http.StatusOK, dates)
}

func (a *API) handleCalendarGet(w http.ResponseWriter, r *http.Request) {
	holiday, err := a.calendar.Holiday(r.Context(), chi.URLParam(r, "date"))
	if err != nil {
		a.calendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holiday)
}

func (a *API) handleCalendarSet(w http.ResponseWriter, r *http.Request) {
	if err := a.calendar.SetHoliday(r.Context(), chi.URLParam(r, "date")); err != nil {
		a.calendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, true)
}

func (a *API) handleCalendarDelete(w http.ResponseWriter, r *http.Request) {
	if err := a.calendar.DeleteHoliday(r.Context(), chi.URLParam(r, "date")); err != nil {
		a.calendarError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, false)
}

func (a *API) calendarError(w http.ResponseWriter, err error) {
	if errors.Is(err, calendar.ErrInvalidDate) {
		writeError(w, http.StatusBadRequest, "invalid_date")
		return
	}
	a.logger.Error().Err(err).Msg("calendar operation failed")
	writeError(w, http.StatusInternalServerError, "calendar_failed")
}

// truthy matches the flag values GET /streams accepts.
func truthy(v string) bool {
	switch v {
	case "True", "true", "y", "yes", "Yes":
		return true
	}
	return false
}

// handleStreamsGet returns the capacity of the first key flagged in the
// query, or of the default key.
func (a *API) handleStreamsGet(w http.ResponseWriter, r *http.Request) {
	if len(a.streamKeys) == 0 {
		writeError(w, http.StatusInternalServerError, "no_stream_keys")
		return
	}
	key := a.streamKeys[0]
	q := r.URL.Query()
	for _, k := range a.streamKeys {
		if truthy(q.Get(k)) {
			key = k
			break
		}
	}

	value, err := a.calendar.Capacity(r.Context(), key)
	if err != nil {
		a.logger.Error().Err(err).Str("key", key).Msg("read capacity failed")
		writeError(w, http.StatusInternalServerError, "capacity_failed")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

// handleStreamsSet stores every known key given as a plain non-negative
// integer and reports whether any was stored.
func (a *API) handleStreamsSet(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_form")
		return
	}

	updated := false
	for _, key := range a.streamKeys {
		raw := r.Form.Get(key)
		if !isDigits(raw) {
			continue
		}
		value, err := strconv.Atoi(raw)
		if err != nil {
			continue
		}
		ok, err := a.calendar.SetCapacity(r.Context(), key, value)
		if err != nil {
			a.logger.Error().Err(err).Str("key", key).Msg("store capacity failed")
			writeError(w, http.StatusInternalServerError, "capacity_failed")
			return
		}
		updated = updated || ok
	}
	writeJSON(w, http.StatusOK, updated)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
