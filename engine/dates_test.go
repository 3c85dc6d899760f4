package engine

import (
	"testing"
	"time"
)

func TestCompareDate_OlderThan(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	received := now.Add(-35 * 24 * time.Hour)

	if !compareDate(received, "30 days", directionLess, now) {
		t.Error("Expected 35-day-old message to be older than 30 days")
	}
	if compareDate(received, "50 days", directionLess, now) {
		t.Error("Expected 35-day-old message not to be older than 50 days")
	}
}

func TestCompareDate_NewerThan(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	received := now.Add(-5 * 24 * time.Hour)

	if !compareDate(received, "30 days", directionGreater, now) {
		t.Error("Expected 5-day-old message to be newer than 30 days")
	}
	if compareDate(received, "2 days", directionGreater, now) {
		t.Error("Expected 5-day-old message not to be newer than 2 days")
	}
}

func TestCompareDate_MonthApproximation(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	received := now.Add(-35 * 24 * time.Hour)

	// 1 month = 30 days, so a 35-day-old message is older than a month.
	if !compareDate(received, "1 month", directionLess, now) {
		t.Error("Expected 35-day-old message to be older than 1 month")
	}
	if compareDate(received, "2 months", directionLess, now) {
		t.Error("Expected 35-day-old message not to be older than 2 months")
	}
}

func TestCompareDate_Malformed(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	received := now.Add(-35 * 24 * time.Hour)

	exprs := []string{"bad", "", "30", "thirty days", "30 fortnights", "30 days ago", "3.5 days"}
	for _, expr := range exprs {
		if compareDate(received, expr, directionLess, now) {
			t.Errorf("Expected malformed expression %q to compare false", expr)
		}
	}
}

func TestCompareDate_ZeroTimestamp(t *testing.T) {
	now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
	if compareDate(time.Time{}, "30 days", directionLess, now) {
		t.Error("Expected zero timestamp to compare false")
	}
}

func TestParseRelativeDuration(t *testing.T) {
	tests := []struct {
		expr string
		want time.Duration
		ok   bool
	}{
		{"30 days", 30 * 24 * time.Hour, true},
		{"1 day", 24 * time.Hour, true},
		{"1 Month", 30 * 24 * time.Hour, true},
		{"2 MONTHS", 60 * 24 * time.Hour, true},
		{"  7 days  ", 7 * 24 * time.Hour, true},
		{"7days", 0, false},
		{"x days", 0, false},
		{"7 weeks", 0, false},
	}

	for _, tt := range tests {
		got, ok := parseRelativeDuration(tt.expr)
		if ok != tt.ok {
			t.Errorf("parseRelativeDuration(%q) ok = %v, want %v", tt.expr, ok, tt.ok)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("parseRelativeDuration(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}
