package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultInterval is used when an expression cannot be parsed.
const DefaultInterval = time.Hour

// Recurrence is a parsed schedule expression.
//
// The grammar is a five-field cron subset: a fixed minute; an hour that is
// "*", a fixed hour or "*/N"; "*" for day of month and month; and "*" or a
// fixed weekday 0-6 (Sunday = 0). The aliases @hourly, @daily and @weekly are
// accepted. Times are evaluated in the location of the reference time.
type Recurrence struct {
	expr     string
	minute   int
	hour     int // -1 = every hour
	hourStep int // > 0 when hour is "*/N"
	weekday  int // -1 = every day
}

var aliases = map[string]string{
	"@hourly": "0 * * * *",
	"@daily":  "0 0 * * *",
	"@weekly": "0 0 * * 0",
}

// ParseRecurrence parses expr.
func ParseRecurrence(expr string) (Recurrence, error) {
	src := strings.TrimSpace(expr)
	if alias, ok := aliases[src]; ok {
		src = alias
	}

	fields := strings.Fields(src)
	if len(fields) != 5 {
		return Recurrence{}, fmt.Errorf("recurrence %q: expected 5 fields, got %d", expr, len(fields))
	}

	r := Recurrence{expr: expr, hour: -1, weekday: -1}

	minute, err := parseFixed(fields[0], 0, 59)
	if err != nil {
		return Recurrence{}, fmt.Errorf("recurrence %q: minute: %w", expr, err)
	}
	r.minute = minute

	switch h := fields[1]; {
	case h == "*":
	case strings.HasPrefix(h, "*/"):
		step, err := parseFixed(strings.TrimPrefix(h, "*/"), 1, 23)
		if err != nil {
			return Recurrence{}, fmt.Errorf("recurrence %q: hour step: %w", expr, err)
		}
		r.hourStep = step
	default:
		hour, err := parseFixed(h, 0, 23)
		if err != nil {
			return Recurrence{}, fmt.Errorf("recurrence %q: hour: %w", expr, err)
		}
		r.hour = hour
	}

	if fields[2] != "*" || fields[3] != "*" {
		return Recurrence{}, fmt.Errorf("recurrence %q: day of month and month must be *", expr)
	}

	if fields[4] != "*" {
		wd, err := parseFixed(fields[4], 0, 6)
		if err != nil {
			return Recurrence{}, fmt.Errorf("recurrence %q: weekday: %w", expr, err)
		}
		r.weekday = wd
	}

	return r, nil
}

func parseFixed(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%d out of range [%d, %d]", n, lo, hi)
	}
	return n, nil
}

func (r Recurrence) matches(t time.Time) bool {
	switch {
	case r.hourStep > 0:
		if t.Hour()%r.hourStep != 0 {
			return false
		}
	case r.hour >= 0:
		if t.Hour() != r.hour {
			return false
		}
	}
	return r.weekday < 0 || int(t.Weekday()) == r.weekday
}

// Next returns the first occurrence strictly after after.
func (r Recurrence) Next(after time.Time) time.Time {
	start := time.Date(after.Year(), after.Month(), after.Day(), after.Hour(), 0, 0, 0, after.Location())
	// A weekly expression repeats within 8 days of hourly candidates.
	for i := 0; i <= 8*24; i++ {
		h := start.Add(time.Duration(i) * time.Hour)
		c := time.Date(h.Year(), h.Month(), h.Day(), h.Hour(), r.minute, 0, 0, h.Location())
		if c.After(after) && r.matches(c) {
			return c
		}
	}
	return after.Add(DefaultInterval)
}

// Interval is the nominal period between two occurrences.
func (r Recurrence) Interval() time.Duration {
	switch {
	case r.weekday >= 0:
		return 7 * 24 * time.Hour
	case r.hour >= 0:
		return 24 * time.Hour
	case r.hourStep > 0:
		return time.Duration(r.hourStep) * time.Hour
	default:
		return time.Hour
	}
}

func (r Recurrence) String() string { return r.expr }

// NextRun computes the next due time for expr. Unrecognized expressions run
// one hour after now.
func NextRun(expr string, now time.Time) time.Time {
	r, err := ParseRecurrence(expr)
	if err != nil {
		return now.Add(DefaultInterval)
	}
	return r.Next(now)
}

// IntervalOf returns the nominal period of expr, DefaultInterval when unparsable.
func IntervalOf(expr string) time.Duration {
	r, err := ParseRecurrence(expr)
	if err != nil {
		return DefaultInterval
	}
	return r.Interval()
}
