// Package timeslot converts between "HH:MM" wall-clock strings and minute
// offsets from midnight.
//
// Parsing is lenient: malformed input yields 0 rather than an error, since
// validation belongs to the input layer. Formatting wraps modulo 24 hours.
package timeslot

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// MinutesPerDay is 24 hours * 60 minutes.
	MinutesPerDay = 1440

	// SlotMinutes is the snapping granularity for user-facing times.
	SlotMinutes = 15

	// MinDuration is the shortest window an entry may have.
	MinDuration = SlotMinutes
)

// TimeToMinutes parses "HH:MM" or "HH:MM:SS" into minutes since midnight.
// Seconds are accepted but ignored. Empty or malformed input returns 0.
func TimeToMinutes(s string) int {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}

	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0
	}
	if len(parts) == 3 {
		if sec, err := strconv.Atoi(parts[2]); err != nil || sec < 0 || sec > 59 {
			return 0
		}
	}

	return h*60 + m
}

// MinutesToTime snaps m to the nearest 15-minute boundary and formats it as
// "HH:MM". Values outside [0, 1440) wrap around midnight.
func MinutesToTime(m int) string {
	return Format(Snap(m))
}

// Format renders m as "HH:MM" without snapping. Values outside [0, 1440)
// wrap around midnight.
func Format(m int) string {
	n := normalize(m)
	return fmt.Sprintf("%02d:%02d", n/60, n%60)
}

// Snap rounds m to the nearest SlotMinutes boundary.
func Snap(m int) int {
	return int(math.Round(float64(m)/SlotMinutes)) * SlotMinutes
}

// Duration returns end - start in minutes for two "HH:MM" strings.
func Duration(start, end string) int {
	return TimeToMinutes(end) - TimeToMinutes(start)
}

// WithinDay reports whether [start, end) is a valid window inside one day:
// it starts at or after 00:00, ends by 23:59 and is at least MinDuration long.
// An end of 24:00 is not representable since it formats as "00:00".
func WithinDay(start, end int) bool {
	return start >= 0 && end < MinutesPerDay && end-start >= MinDuration
}

func normalize(m int) int {
	return ((m % MinutesPerDay) + MinutesPerDay) % MinutesPerDay
}
