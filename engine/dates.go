package engine

import (
	"strconv"
	"strings"
	"time"
)

type direction int

const (
	directionLess direction = iota
	directionGreater
)

// Months are approximated as 30 days; the comparison is an age check,
// not calendar arithmetic.
const daysPerMonth = 30

// compareDate checks a message timestamp against a relative duration
// expression such as "30 days" or "1 month". directionLess means the
// timestamp is strictly older than the threshold, directionGreater
// strictly newer. A malformed expression or zero timestamp yields false.
func compareDate(ts time.Time, expr string, dir direction, now time.Time) bool {
	if ts.IsZero() {
		return false
	}

	d, ok := parseRelativeDuration(expr)
	if !ok {
		return false
	}

	threshold := now.Add(-d)
	if dir == directionLess {
		return ts.Before(threshold)
	}
	return ts.After(threshold)
}

// parseRelativeDuration tokenizes an expression of exactly the shape
// "<integer> <unit>" with unit day(s) or month(s), case-insensitive.
func parseRelativeDuration(expr string) (time.Duration, bool) {
	parts := strings.Fields(strings.TrimSpace(expr))
	if len(parts) != 2 {
		return 0, false
	}

	count, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, false
	}

	switch strings.ToLower(parts[1]) {
	case "day", "days":
		return time.Duration(count) * 24 * time.Hour, true
	case "month", "months":
		return time.Duration(count) * daysPerMonth * 24 * time.Hour, true
	default:
		return 0, false
	}
}
