package cron

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, expr string) *Expression {
	t.Helper()
	e, err := Parse(expr)
	if err != nil {
		t.Fatalf("Parse(%q) error = %v", expr, err)
	}
	return e
}

func TestNext_EveryMinute(t *testing.T) {
	e := mustParse(t, "* * * * *")
	now := time.Date(2026, 7, 30, 10, 0, 30, 0, time.UTC)
	next, err := e.Next(now, time.UTC)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want := time.Date(2026, 7, 30, 10, 1, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next() = %v, want %v", next, want)
	}
}

func TestNext_HourlyAtMinuteZero(t *testing.T) {
	e := mustParse(t, "0 * * * *")
	now := time.Date(2026, 7, 30, 10, 15, 0, 0, time.UTC)
	next, err := e.Next(now, time.UTC)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want := time.Date(2026, 7, 30, 11, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next() = %v, want %v", next, want)
	}
}

func TestNext_WeeklyMonday(t *testing.T) {
	e := mustParse(t, "0 9 * * 1")
	// 2026-07-30 is a Thursday.
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next, err := e.Next(now, time.UTC)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next.Weekday() != time.Monday || next.Hour() != 9 || next.Minute() != 0 {
		t.Errorf("Next() = %v, want next Monday at 09:00", next)
	}
}

func TestNext_MonthlyFirstOfMonth(t *testing.T) {
	e := mustParse(t, "0 0 1 * *")
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next, err := e.Next(now, time.UTC)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next() = %v, want %v", next, want)
	}
}

func TestNext_CrossesYearBoundary(t *testing.T) {
	e := mustParse(t, "0 0 1 1 *")
	now := time.Date(2026, 12, 31, 23, 0, 0, 0, time.UTC)
	next, err := e.Next(now, time.UTC)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	want := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next() = %v, want %v", next, want)
	}
}

func TestNext_RespectsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	e := mustParse(t, "0 9 * * *")
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	next, err := e.Next(now, loc)
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next.In(loc).Hour() != 9 {
		t.Errorf("Next() hour in loc = %d, want 9", next.In(loc).Hour())
	}
}

func TestNext_ImpossibleCombinationFails(t *testing.T) {
	e := mustParse(t, "0 0 31 2 *")
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := e.Next(now, time.UTC)
	if err == nil {
		t.Error("expected bounded search to give up on Feb 31")
	}
}
