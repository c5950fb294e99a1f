package scheduler

import (
	"testing"
	"time"
)

func at(s string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextRun(t *testing.T) {
	tests := []struct {
		name string
		expr string
		now  time.Time
		want time.Time
	}{
		{"hourly mid-hour", "0 * * * *", at("2026-10-18 10:30"), at("2026-10-18 11:00")},
		{"hourly on the boundary is strictly after", "0 * * * *", at("2026-10-18 10:00"), at("2026-10-18 11:00")},
		{"hourly alias", "@hourly", at("2026-10-18 23:59"), at("2026-10-19 00:00")},
		{"daily later today", "0 2 * * *", at("2026-10-18 01:00"), at("2026-10-18 02:00")},
		{"daily tomorrow", "0 2 * * *", at("2026-10-18 03:00"), at("2026-10-19 02:00")},
		{"daily at minute", "30 14 * * *", at("2026-10-18 14:29"), at("2026-10-18 14:30")},
		{"weekly from saturday", "0 3 * * 0", at("2026-10-17 12:00"), at("2026-10-18 03:00")},
		{"weekly from sunday after the slot", "0 3 * * 0", at("2026-10-18 10:00"), at("2026-10-25 03:00")},
		{"weekly alias", "@weekly", at("2026-10-18 00:00"), at("2026-10-25 00:00")},
		{"every six hours", "0 */6 * * *", at("2026-10-18 07:15"), at("2026-10-18 12:00")},
		{"every six hours across midnight", "0 */6 * * *", at("2026-10-18 19:00"), at("2026-10-19 00:00")},
		{"unrecognized falls back to one hour", "every tuesday", at("2026-10-18 07:15"), at("2026-10-18 08:15")},
		{"day of month unsupported", "0 0 1 * *", at("2026-10-18 07:15"), at("2026-10-18 08:15")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NextRun(tt.expr, tt.now)
			if !got.Equal(tt.want) {
				t.Errorf("NextRun(%q, %v) = %v, want %v", tt.expr, tt.now, got, tt.want)
			}
			if !got.After(tt.now) {
				t.Errorf("NextRun must be strictly after now")
			}
		})
	}
}

func TestParseRecurrence_Errors(t *testing.T) {
	for _, expr := range []string{"", "0 * * *", "61 * * * *", "0 24 * * *", "0 */0 * * *", "0 0 * * 7", "x * * * *"} {
		if _, err := ParseRecurrence(expr); err == nil {
			t.Errorf("ParseRecurrence(%q) expected error", expr)
		}
	}
}

func TestIntervalOf(t *testing.T) {
	tests := []struct {
		expr string
		want time.Duration
	}{
		{"0 * * * *", time.Hour},
		{"0 2 * * *", 24 * time.Hour},
		{"0 3 * * 0", 7 * 24 * time.Hour},
		{"0 */6 * * *", 6 * time.Hour},
		{"nonsense", DefaultInterval},
	}

	for _, tt := range tests {
		if got := IntervalOf(tt.expr); got != tt.want {
			t.Errorf("IntervalOf(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}
