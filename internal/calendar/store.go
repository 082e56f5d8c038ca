/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package calendar stores the holiday set and per-type stream capacities.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/friendsincode/chronograph/internal/cache"
	"github.com/friendsincode/chronograph/internal/events"
	"github.com/friendsincode/chronograph/internal/models"
	"github.com/rs/zerolog"
	"github.com/teambition/rrule-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrInvalidDate is returned for dates not in YYYY-MM-DD form.
var ErrInvalidDate = errors.New("invalid date")

// ruleAnchor is the DTSTART given to recurring rules that do not carry one.
var ruleAnchor = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Store implements holiday and capacity lookups on top of gorm with an
// optional Redis read-through cache.
type Store struct {
	db     *gorm.DB
	cache  *cache.Cache
	bus    events.Publisher
	loc    *time.Location
	rules  []*rrule.RRule
	logger zerolog.Logger
}

// NewStore builds a store. recurring holds RRULE strings whose occurrences
// count as holidays in addition to the stored dates.
func NewStore(db *gorm.DB, c *cache.Cache, bus events.Publisher, loc *time.Location, recurring []string, logger zerolog.Logger) (*Store, error) {
	if loc == nil {
		loc = time.Local
	}
	if bus == nil {
		bus = events.NewBus()
	}

	rules := make([]*rrule.RRule, 0, len(recurring))
	for _, raw := range recurring {
		rr, err := rrule.StrToRRule(raw)
		if err != nil {
			return nil, fmt.Errorf("parse recurring holiday %q: %w", raw, err)
		}
		if !strings.Contains(strings.ToUpper(raw), "DTSTART") {
			anchor := ruleAnchor
			rr.DTStart(time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, loc))
		}
		rules = append(rules, rr)
	}

	return &Store{
		db:     db,
		cache:  c,
		bus:    bus,
		loc:    loc,
		rules:  rules,
		logger: logger.With().Str("component", "calendar").Logger(),
	}, nil
}

// ParseDate parses a YYYY-MM-DD date in the store's timezone.
func (s *Store) ParseDate(date string) (time.Time, error) {
	day, err := time.ParseInLocation(time.DateOnly, date, s.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w %q", ErrInvalidDate, date)
	}
	return day, nil
}

// IsHoliday reports whether day is a stored holiday or matches a recurring rule.
// Weekends are not holidays here; the planner skips them separately.
func (s *Store) IsHoliday(ctx context.Context, day time.Time) (bool, error) {
	day = day.In(s.loc)
	day = time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, s.loc)
	if s.recurring(day) {
		return true, nil
	}

	date := day.Format(time.DateOnly)
	if holiday, ok := s.cache.GetHoliday(ctx, date); ok {
		return holiday, nil
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Holiday{}).Where("date = ?", date).Count(&count).Error; err != nil {
		return false, fmt.Errorf("check holiday %s: %w", date, err)
	}
	holiday := count > 0
	if err := s.cache.SetHoliday(ctx, date, holiday); err != nil {
		s.logger.Debug().Err(err).Str("date", date).Msg("failed to cache holiday")
	}
	return holiday, nil
}

func (s *Store) recurring(day time.Time) bool {
	end := day.AddDate(0, 0, 1).Add(-time.Nanosecond)
	for _, rr := range s.rules {
		if len(rr.Between(day, end, true)) > 0 {
			return true
		}
	}
	return false
}

// Holiday reports whether date (YYYY-MM-DD) is a holiday.
func (s *Store) Holiday(ctx context.Context, date string) (bool, error) {
	day, err := s.ParseDate(date)
	if err != nil {
		return false, err
	}
	return s.IsHoliday(ctx, day)
}

// SetHoliday marks date as a holiday. Setting an existing holiday is a no-op.
func (s *Store) SetHoliday(ctx context.Context, date string) error {
	if _, err := s.ParseDate(date); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Holiday{Date: date}).Error
	if err != nil {
		return fmt.Errorf("set holiday %s: %w", date, err)
	}
	s.afterHolidayChange(ctx, date, true)
	return nil
}

// DeleteHoliday removes date from the holiday set.
func (s *Store) DeleteHoliday(ctx context.Context, date string) error {
	if _, err := s.ParseDate(date); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Where("date = ?", date).Delete(&models.Holiday{}).Error; err != nil {
		return fmt.Errorf("delete holiday %s: %w", date, err)
	}
	s.afterHolidayChange(ctx, date, false)
	return nil
}

func (s *Store) afterHolidayChange(ctx context.Context, date string, holiday bool) {
	if err := s.cache.InvalidateHoliday(ctx, date); err != nil {
		s.logger.Debug().Err(err).Str("date", date).Msg("failed to invalidate holiday cache")
	}
	s.bus.Publish(events.EventCalendarUpdated, events.Payload{"date": date, "holiday": holiday})
	s.logger.Info().Str("date", date).Bool("holiday", holiday).Msg("calendar updated")
}

// FlushCache drops every cached holiday flag and capacity so instances
// sharing the cache re-read them from the database.
func (s *Store) FlushCache(ctx context.Context) error {
	if err := s.cache.FlushAll(ctx); err != nil {
		return fmt.Errorf("flush calendar cache: %w", err)
	}
	return nil
}

// ListHolidays returns stored holiday dates in ascending order.
func (s *Store) ListHolidays(ctx context.Context) ([]string, error) {
	var rows []models.Holiday
	if err := s.db.WithContext(ctx).Order("date").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list holidays: %w", err)
	}
	dates := make([]string, 0, len(rows))
	for _, r := range rows {
		dates = append(dates, r.Date)
	}
	slices.Sort(dates)
	return dates, nil
}

// Capacity returns the stream capacity for key, falling back to the built-in default.
func (s *Store) Capacity(ctx context.Context, key string) (int, error) {
	if v, ok := s.cache.GetCapacity(ctx, key); ok {
		return v, nil
	}

	var row models.StreamCapacity
	err := s.db.WithContext(ctx).Where(&models.StreamCapacity{Key: key}).First(&row).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.DefaultStreamCapacities[key], nil
	case err != nil:
		return 0, fmt.Errorf("read capacity %s: %w", key, err)
	}

	if err := s.cache.SetCapacity(ctx, key, row.Value); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("failed to cache capacity")
	}
	return row.Value, nil
}

// SetCapacity stores a capacity. Negative values are refused with false.
func (s *Store) SetCapacity(ctx context.Context, key string, value int) (bool, error) {
	if value < 0 || key == "" {
		return false, nil
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&models.StreamCapacity{Key: key, Value: value}).Error
	if err != nil {
		return false, fmt.Errorf("set capacity %s: %w", key, err)
	}

	if err := s.cache.InvalidateCapacity(ctx, key); err != nil {
		s.logger.Debug().Err(err).Str("key", key).Msg("failed to invalidate capacity cache")
	}
	s.bus.Publish(events.EventStreamsUpdated, events.Payload{"key": key, "value": value})
	s.logger.Info().Str("key", key).Int("value", value).Msg("stream capacity updated")
	return true, nil
}
