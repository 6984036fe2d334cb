package cron

import (
	"fmt"
	"time"
)

// MaxSearchMinutes bounds the next-fire search to avoid looping forever
// on an expression that (due to a day-of-month/day-of-week combination)
// matches very rarely.
const MaxSearchMinutes = 1000

// Next computes the next time after `after` (exclusive, rounded up to
// the next whole minute) that the expression matches, evaluated in loc.
// Advances the earliest-failing field at each step in the order month,
// day-of-month, day-of-week, hour, minute, bounded to MaxSearchMinutes
// minute-granularity iterations.
func (e *Expression) Next(after time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	t := after.In(loc).Add(time.Minute).Truncate(time.Minute)

	for i := 0; i < MaxSearchMinutes; i++ {
		if !e.month.matches(int(t.Month())) {
			t = firstOfNextMonth(t)
			continue
		}
		if !e.dom.matches(t.Day()) {
			t = t.AddDate(0, 0, 1)
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
			continue
		}
		if !e.dow.matches(int(t.Weekday())) {
			t = t.AddDate(0, 0, 1)
			t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
			continue
		}
		if !e.hour.matches(t.Hour()) {
			t = t.Add(time.Hour)
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
			continue
		}
		if !e.minute.matches(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}
	return time.Time{}, fmt.Errorf("no fire time found for %q within %d minutes", e.raw, MaxSearchMinutes)
}

func firstOfNextMonth(t time.Time) time.Time {
	year, month, _ := t.Date()
	if month == time.December {
		return time.Date(year+1, time.January, 1, 0, 0, 0, 0, t.Location())
	}
	return time.Date(year, month+1, 1, 0, 0, 0, 0, t.Location())
}
