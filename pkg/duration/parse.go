// Package duration parses the retention age format used by cleanup policies.
package duration

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Common duration constants for human-friendly units.
const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 30 * Day  // Approximate
	Year  = 365 * Day // Approximate
)

// unitMultipliers maps retention unit suffixes to their duration values.
var unitMultipliers = map[string]time.Duration{
	"d": Day,
	"w": Week,
	"m": Month,
	"y": Year,
}

// agePattern matches a retention age like "30d", "2w", "6m" or "1y".
var agePattern = regexp.MustCompile(`^(\d+)([dwmy])$`)

// Parse converts a retention age string of the form "<number><unit>" into a
// time.Duration. Supported units:
//   - d (days) = 24h
//   - w (weeks) = 7d
//   - m (months) = 30d (approximate)
//   - y (years) = 365d (approximate)
//
// Examples:
//
//	Parse("2d")  // 48 hours
//	Parse("1w")  // 7 days
//	Parse("6m")  // 180 days
//	Parse("1y")  // 365 days
func Parse(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}

	match := agePattern.FindStringSubmatch(s)
	if match == nil {
		return 0, fmt.Errorf("invalid duration %q (expected <number><unit>, units: d, w, m, y)", s)
	}

	value, err := strconv.ParseInt(match[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration value %q in %q", match[1], s)
	}

	multiplier, ok := unitMultipliers[match[2]]
	if !ok {
		return 0, fmt.Errorf("unknown duration unit %q in %q", match[2], s)
	}

	return time.Duration(value) * multiplier, nil
}
