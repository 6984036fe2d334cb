package cron

import (
	"fmt"
	"strconv"
	"strings"
)

// fieldRange bounds one of the five cron fields.
type fieldRange struct {
	min, max int
}

var (
	minuteRange = fieldRange{0, 59}
	hourRange   = fieldRange{0, 23}
	domRange    = fieldRange{1, 31}
	monthRange  = fieldRange{1, 12}
	dowRange    = fieldRange{0, 6}
)

// field is a parsed cron field: the set of values it matches.
type field struct {
	values map[int]struct{}
}

func (f field) matches(v int) bool {
	_, ok := f.values[v]
	return ok
}

// Expression is a parsed 5-field cron expression: minute hour
// day-of-month month day-of-week.
type Expression struct {
	minute field
	hour   field
	dom    field
	month  field
	dow    field
	raw    string
}

// String returns the original expression text.
func (e *Expression) String() string { return e.raw }

// Parse parses a standard 5-field cron expression. Accepts `*`, lists
// (`a,b,c`), ranges (`a-b`), step-all (`*/n`), and step-range (`a/n`).
// Day-of-week uses Sunday=0.
func Parse(expr string) (*Expression, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return nil, fmt.Errorf("cron expression %q must have 5 fields, got %d", expr, len(parts))
	}

	minute, err := parseField(parts[0], minuteRange)
	if err != nil {
		return nil, fmt.Errorf("minute field: %w", err)
	}
	hour, err := parseField(parts[1], hourRange)
	if err != nil {
		return nil, fmt.Errorf("hour field: %w", err)
	}
	dom, err := parseField(parts[2], domRange)
	if err != nil {
		return nil, fmt.Errorf("day-of-month field: %w", err)
	}
	month, err := parseField(parts[3], monthRange)
	if err != nil {
		return nil, fmt.Errorf("month field: %w", err)
	}
	dow, err := parseField(parts[4], dowRange)
	if err != nil {
		return nil, fmt.Errorf("day-of-week field: %w", err)
	}

	return &Expression{minute: minute, hour: hour, dom: dom, month: month, dow: dow, raw: expr}, nil
}

func parseField(spec string, r fieldRange) (field, error) {
	values := make(map[int]struct{})

	for _, part := range strings.Split(spec, ",") {
		if part == "" {
			return field{}, fmt.Errorf("empty list item in %q", spec)
		}

		step := 1
		hasStep := false
		base := part
		if idx := strings.Index(part, "/"); idx >= 0 {
			base = part[:idx]
			n, err := strconv.Atoi(part[idx+1:])
			if err != nil || n <= 0 {
				return field{}, fmt.Errorf("invalid step in %q", part)
			}
			step = n
			hasStep = true
		}

		var lo, hi int
		switch {
		case base == "*":
			lo, hi = r.min, r.max
		case strings.Contains(base, "-"):
			bounds := strings.SplitN(base, "-", 2)
			var err error
			lo, err = strconv.Atoi(bounds[0])
			if err != nil {
				return field{}, fmt.Errorf("invalid range start in %q", part)
			}
			hi, err = strconv.Atoi(bounds[1])
			if err != nil {
				return field{}, fmt.Errorf("invalid range end in %q", part)
			}
		default:
			n, err := strconv.Atoi(base)
			if err != nil {
				return field{}, fmt.Errorf("invalid value %q", base)
			}
			lo, hi = n, n
			if hasStep {
				hi = r.max
			}
		}

		if lo < r.min || hi > r.max || lo > hi {
			return field{}, fmt.Errorf("value %q out of range [%d,%d]", part, r.min, r.max)
		}

		for v := lo; v <= hi; v += step {
			values[v] = struct{}{}
		}
	}

	if len(values) == 0 {
		return field{}, fmt.Errorf("field %q matches no values", spec)
	}
	return field{values: values}, nil
}
