/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planning

import (
	"fmt"
	"time"
)

// TimeOfDay is an offset from local midnight.
type TimeOfDay time.Duration

// Clock builds a TimeOfDay from hours and minutes.
func Clock(h, m int) TimeOfDay {
	return TimeOfDay(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

// TimeOf returns the wall-clock offset of t in its own location.
func TimeOf(t time.Time) TimeOfDay {
	return TimeOfDay(time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond()))
}

// FromSeconds converts a stored seconds-after-midnight value.
func FromSeconds(s int) TimeOfDay {
	return TimeOfDay(time.Duration(s) * time.Second)
}

// Seconds returns whole seconds after midnight.
func (t TimeOfDay) Seconds() int {
	return int(time.Duration(t) / time.Second)
}

// On combines day's calendar date with t in day's location. Wall-clock fields
// are used so DST transitions land on the intended local time.
func (t TimeOfDay) On(day time.Time) time.Time {
	d := time.Duration(t)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	ns := int(d % time.Second)
	return time.Date(day.Year(), day.Month(), day.Day(), h, m, s, ns, day.Location())
}

// Add shifts t by d.
func (t TimeOfDay) Add(d time.Duration) TimeOfDay {
	return TimeOfDay(time.Duration(t) + d)
}

func (t TimeOfDay) String() string {
	s := t.Seconds()
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			return TimeOf(parsed), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// UnmarshalText lets TimeOfDay be read straight from YAML.
func (t *TimeOfDay) UnmarshalText(b []byte) error {
	parsed, err := ParseTimeOfDay(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText renders the HH:MM:SS form.
func (t TimeOfDay) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// DayOf truncates t to midnight in loc.
func DayOf(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// DateKey formats a day as YYYY-MM-DD.
func DateKey(day time.Time) string {
	return day.Format(time.DateOnly)
}

// IsWeekend reports Saturday or Sunday.
func IsWeekend(day time.Time) bool {
	wd := day.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
