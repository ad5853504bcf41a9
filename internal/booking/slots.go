package booking

import (
	"fmt"
	"regexp"
	"time"
)

// SlotInterval is the fixed appointment length. The schedule does not support
// variable or overlapping slot sizes.
const SlotInterval = 30 * time.Minute

var timePattern = regexp.MustCompile(`^\d{2}:\d{2}$`)

// TimeSlots expands a working window into the bookable start times:
// every 30-minute step t with startTime <= t < endTime, as zero-padded
// "HH:MM" strings. The window is half-open, so a slot starting exactly at
// endTime is excluded. A window with endTime <= startTime yields nil.
//
// Pure time-of-day arithmetic; the calendar date never participates.
func TimeSlots(startTime, endTime string) []string {
	start, err := parseHHMM(startTime)
	if err != nil {
		return nil
	}
	end, err := parseHHMM(endTime)
	if err != nil {
		return nil
	}

	var slots []string
	for t := start; t < end; t += SlotInterval {
		slots = append(slots, formatHHMM(t))
	}
	return slots
}

// ValidTime reports whether s is a well-formed zero-padded "HH:MM" value.
func ValidTime(s string) bool {
	return timePattern.MatchString(s)
}

// ValidDate reports whether s parses as "2006-01-02".
func ValidDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

func parseHHMM(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", s, err)
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

func formatHHMM(d time.Duration) string {
	return fmt.Sprintf("%02d:%02d", int(d.Hours()), int(d.Minutes())%60)
}
