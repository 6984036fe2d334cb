package cron

import "testing"

func TestParse_Wildcard(t *testing.T) {
	e, err := Parse("* * * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !e.minute.matches(0) || !e.minute.matches(59) {
		t.Error("wildcard minute should match full range")
	}
}

func TestParse_List(t *testing.T) {
	e, err := Parse("0,15,30,45 * * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !e.minute.matches(15) || e.minute.matches(16) {
		t.Error("list minute field matched incorrectly")
	}
}

func TestParse_Range(t *testing.T) {
	e, err := Parse("0 9-17 * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !e.hour.matches(9) || !e.hour.matches(17) || e.hour.matches(8) || e.hour.matches(18) {
		t.Error("range hour field matched incorrectly")
	}
}

func TestParse_Step(t *testing.T) {
	e, err := Parse("*/15 * * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for _, m := range []int{0, 15, 30, 45} {
		if !e.minute.matches(m) {
			t.Errorf("expected minute %d to match", m)
		}
	}
	if e.minute.matches(1) {
		t.Error("minute 1 should not match */15")
	}
}

func TestParse_StepRange(t *testing.T) {
	e, err := Parse("10-40/10 * * * *")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	for _, m := range []int{10, 20, 30, 40} {
		if !e.minute.matches(m) {
			t.Errorf("expected minute %d to match", m)
		}
	}
	if e.minute.matches(50) {
		t.Error("minute 50 should not match 10-40/10")
	}
}

func TestParse_SundayIsZero(t *testing.T) {
	e, err := Parse("0 0 * * 0")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !e.dow.matches(0) {
		t.Error("day-of-week 0 (Sunday) should match")
	}
}

func TestParse_RejectsWrongFieldCount(t *testing.T) {
	if _, err := Parse("* * * *"); err == nil {
		t.Error("expected error for 4-field expression")
	}
}

func TestParse_RejectsOutOfRange(t *testing.T) {
	if _, err := Parse("60 * * * *"); err == nil {
		t.Error("expected error for out-of-range minute")
	}
	if _, err := Parse("* * * 13 *"); err == nil {
		t.Error("expected error for out-of-range month")
	}
}

func TestParse_RejectsInvertedRange(t *testing.T) {
	if _, err := Parse("30-10 * * * *"); err == nil {
		t.Error("expected error for inverted range")
	}
}
