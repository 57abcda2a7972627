/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package recurrence expands flow schedules into concrete occurrence windows.
// Expansion is a pure function of the schedule and the requested horizon, so
// callers may run it concurrently without coordination.
package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/friendsincode/bragi_flows/internal/models"
)

// occurrenceSearchPad is how far before the horizon start the recurrence set
// is evaluated. An occurrence can begin the previous day and still intersect
// the horizon (midnight-spanning and open-ended windows), so the pad must
// exceed the longest possible single occurrence.
const occurrenceSearchPad = 48 * time.Hour

// Validate checks schedule well-formedness. A schedule is either one-time
// (absolute datetimes, recurrence=none) or recurring (time-of-day plus the
// recurrence's selector) — never a mix of both.
func Validate(s *models.Schedule) error {
	if s == nil {
		return fmt.Errorf("schedule is required")
	}

	switch s.Recurrence {
	case models.RecurrenceNone, "":
		if s.StartDateTime == nil || s.EndDateTime == nil {
			return fmt.Errorf("one-time schedule requires start_datetime and end_datetime")
		}
		if !s.EndDateTime.After(*s.StartDateTime) {
			return fmt.Errorf("end_datetime must be after start_datetime")
		}
		if s.StartTime != "" || s.EndTime != "" || len(s.DaysOfWeek) > 0 || s.DayOfMonth != 0 || s.Month != 0 {
			return fmt.Errorf("one-time schedule must not carry recurring fields")
		}
		return nil
	case models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly, models.RecurrenceYearly:
		// fallthrough to recurring checks below
	default:
		return fmt.Errorf("unknown recurrence %q", s.Recurrence)
	}

	if s.StartDateTime != nil || s.EndDateTime != nil {
		return fmt.Errorf("recurring schedule must not carry absolute datetimes")
	}

	start, err := parseClock(s.StartTime)
	if err != nil {
		return fmt.Errorf("start_time: %w", err)
	}
	if s.EndTime != "" {
		end, err := parseClock(s.EndTime)
		if err != nil {
			return fmt.Errorf("end_time: %w", err)
		}
		if end == start {
			return fmt.Errorf("end_time must differ from start_time")
		}
	}

	switch s.Recurrence {
	case models.RecurrenceWeekly:
		if len(s.DaysOfWeek) == 0 {
			return fmt.Errorf("weekly schedule requires a non-empty days_of_week set")
		}
		for _, d := range s.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("days_of_week entry %d out of range 0..6", d)
			}
		}
	case models.RecurrenceMonthly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("monthly schedule requires day_of_month within 1..31")
		}
	case models.RecurrenceYearly:
		if s.DayOfMonth < 1 || s.DayOfMonth > 31 {
			return fmt.Errorf("yearly schedule requires day_of_month within 1..31")
		}
		if s.Month < 1 || s.Month > 12 {
			return fmt.Errorf("yearly schedule requires month within 1..12")
		}
	}

	return nil
}

// Expand produces every occurrence of the schedule intersecting the half-open
// horizon [horizonStart, horizonEnd). Occurrences are returned in start
// order. Invalid calendar dates (day 31 in February, Feb 29 off leap years)
// are skipped for that period, never rolled forward.
func Expand(s *models.Schedule, horizonStart, horizonEnd time.Time) ([]models.Occurrence, error) {
	if err := Validate(s); err != nil {
		return nil, err
	}
	if !horizonEnd.After(horizonStart) {
		return nil, fmt.Errorf("horizon end must be after horizon start")
	}

	if !s.IsRecurring() {
		occ := models.Occurrence{Start: *s.StartDateTime, End: *s.EndDateTime}
		if intersects(occ, horizonStart, horizonEnd) {
			return []models.Occurrence{occ}, nil
		}
		return nil, nil
	}

	startClock, err := parseClock(s.StartTime)
	if err != nil {
		return nil, err
	}

	rule, err := buildRule(s, horizonStart, startClock)
	if err != nil {
		return nil, err
	}

	starts := rule.Between(horizonStart.Add(-occurrenceSearchPad), horizonEnd, true)

	occurrences := make([]models.Occurrence, 0, len(starts))
	for _, start := range starts {
		occ := occurrenceAt(s, start, startClock)
		if intersects(occ, horizonStart, horizonEnd) {
			occurrences = append(occurrences, occ)
		}
	}
	return occurrences, nil
}

// occurrenceAt builds the concrete window for one occurrence start.
//
// The end-before-start case is the documented midnight rule: a recurring
// window like 22:00–02:00 ends on the following day. This is an explicit
// branch rather than an inference from a negative duration, because that
// inference is where the classic off-by-one-day bugs come from.
func occurrenceAt(s *models.Schedule, start time.Time, startClock clock) models.Occurrence {
	if s.EndTime == "" {
		// Open-ended: bounded at end of day for conflict purposes only.
		return models.Occurrence{
			Start:     start,
			End:       endOfDay(start),
			OpenEnded: true,
		}
	}

	endClock, _ := parseClock(s.EndTime) // validated upstream
	end := time.Date(start.Year(), start.Month(), start.Day(), endClock.hour, endClock.minute, 0, 0, start.Location())
	if endClock.before(startClock) {
		end = end.AddDate(0, 0, 1)
	}
	return models.Occurrence{Start: start, End: end}
}

func buildRule(s *models.Schedule, horizonStart time.Time, startClock clock) (*rrule.RRule, error) {
	loc := horizonStart.Location()
	anchor := horizonStart.Add(-occurrenceSearchPad).In(loc)
	dtstart := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), startClock.hour, startClock.minute, 0, 0, loc)

	opt := rrule.ROption{Dtstart: dtstart}

	switch s.Recurrence {
	case models.RecurrenceDaily:
		opt.Freq = rrule.DAILY
	case models.RecurrenceWeekly:
		opt.Freq = rrule.WEEKLY
		for _, d := range s.DaysOfWeek {
			opt.Byweekday = append(opt.Byweekday, weekdayToRRule(d))
		}
	case models.RecurrenceMonthly:
		opt.Freq = rrule.MONTHLY
		opt.Bymonthday = []int{s.DayOfMonth}
	case models.RecurrenceYearly:
		opt.Freq = rrule.YEARLY
		opt.Bymonth = []int{s.Month}
		opt.Bymonthday = []int{s.DayOfMonth}
	default:
		return nil, fmt.Errorf("unknown recurrence %q", s.Recurrence)
	}

	return rrule.NewRRule(opt)
}

// rruleWeekdays maps 0=Sunday..6=Saturday onto the RFC 5545 weekday set,
// which starts at Monday.
var rruleWeekdays = [7]rrule.Weekday{rrule.SU, rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA}

func weekdayToRRule(day int) rrule.Weekday {
	return rruleWeekdays[day%7]
}

func intersects(occ models.Occurrence, horizonStart, horizonEnd time.Time) bool {
	return occ.Start.Before(horizonEnd) && occ.End.After(horizonStart)
}

func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location()).AddDate(0, 0, 1)
}

// clock is a minutes-resolution time of day.
type clock struct {
	hour   int
	minute int
}

func (c clock) before(other clock) bool {
	if c.hour != other.hour {
		return c.hour < other.hour
	}
	return c.minute < other.minute
}

func parseClock(value string) (clock, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return clock{}, fmt.Errorf("invalid time of day %q (want HH:MM)", value)
	}
	return clock{hour: parsed.Hour(), minute: parsed.Minute()}, nil
}
