// Package calendar implements work-day arithmetic over domain calendars.
// All dates are normalized to UTC midnight; work-day boundaries align to
// whole days, so hours-per-day values feed work-quantity bookkeeping but
// never date stepping.
package calendar

import (
	"errors"
	"fmt"
	"time"

	"planline/internal/domain"
)

// ErrInvalidCalendar marks a calendar with no working weekday. Advancing
// under such a calendar would never terminate, so it is rejected up front.
var ErrInvalidCalendar = errors.New("invalid calendar")

const dayKeyFormat = "2006-01-02"

// Validate rejects calendars with no working weekday.
func Validate(c domain.Calendar) error {
	for _, work := range c.WorkDays {
		if work {
			return nil
		}
	}
	return fmt.Errorf("%w: calendar %s has no working weekday", ErrInvalidCalendar, c.ID)
}

// DayKey formats t as the yyyy-mm-dd key used by exception sets.
func DayKey(t time.Time) string {
	return t.UTC().Format(dayKeyFormat)
}

// Normalize truncates t to UTC midnight.
func Normalize(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsWorkDay reports whether t falls on a working day under c.
func IsWorkDay(c domain.Calendar, t time.Time) bool {
	t = Normalize(t)
	if !c.WorkDays[int(t.Weekday())] {
		return false
	}
	return !c.Exceptions[DayKey(t)]
}

// WorkHours returns the working hours booked for t's weekday, zero on
// non-work days.
func WorkHours(c domain.Calendar, t time.Time) float64 {
	if !IsWorkDay(c, t) {
		return 0
	}
	return c.HoursPerDay[int(Normalize(t).Weekday())]
}

// NextWorkDay rounds t forward to the first working day at or after t,
// mirroring how P6-style tools normalize placements that land on non-work
// time.
func NextWorkDay(c domain.Calendar, t time.Time) (time.Time, error) {
	if err := Validate(c); err != nil {
		return time.Time{}, err
	}
	t = Normalize(t)
	for !IsWorkDay(c, t) {
		t = t.AddDate(0, 0, 1)
	}
	return t, nil
}

// PrevWorkDay rounds t backward to the first working day at or before t.
func PrevWorkDay(c domain.Calendar, t time.Time) (time.Time, error) {
	if err := Validate(c); err != nil {
		return time.Time{}, err
	}
	t = Normalize(t)
	for !IsWorkDay(c, t) {
		t = t.AddDate(0, 0, -1)
	}
	return t, nil
}

// AddWorkDays advances (or retreats, for negative n) t by n work days under
// c, skipping non-work weekdays and exception dates. A zero offset returns
// the input rounded forward to a valid work day.
func AddWorkDays(c domain.Calendar, t time.Time, n int) (time.Time, error) {
	cur, err := NextWorkDay(c, t)
	if err != nil {
		return time.Time{}, err
	}
	for n > 0 {
		cur = cur.AddDate(0, 0, 1)
		for !IsWorkDay(c, cur) {
			cur = cur.AddDate(0, 0, 1)
		}
		n--
	}
	for n < 0 {
		cur = cur.AddDate(0, 0, -1)
		for !IsWorkDay(c, cur) {
			cur = cur.AddDate(0, 0, -1)
		}
		n++
	}
	return cur, nil
}

// WorkDaysBetween counts work days from a to b under c: the number of
// working days d with a < d <= b, negated when b precedes a. It is the
// inverse of AddWorkDays for work-day endpoints, which is what float and
// lag computation rely on.
func WorkDaysBetween(c domain.Calendar, a, b time.Time) (int, error) {
	if err := Validate(c); err != nil {
		return 0, err
	}
	a, b = Normalize(a), Normalize(b)
	sign := 1
	if b.Before(a) {
		a, b = b, a
		sign = -1
	}
	count := 0
	for cur := a.AddDate(0, 0, 1); !cur.After(b); cur = cur.AddDate(0, 0, 1) {
		if IsWorkDay(c, cur) {
			count++
		}
	}
	return sign * count, nil
}
