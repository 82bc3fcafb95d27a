// Package countdown computes the next occurrence of a recurring weekly event
// and renders the time left until it.
//
// A schedule is the cross product of its active weekdays and its active
// times of day. Entries that do not parse are skipped individually; a
// schedule with nothing usable simply has no next occurrence.
package countdown

import (
	"fmt"
	"strings"
	"time"
)

// NoUpcoming is shown in place of a countdown when a schedule has no
// computable next occurrence.
const NoUpcoming = "No upcoming events"

// searchDays is the number of days after today that are examined. Today's
// weekday is seen again at offset searchDays, so a time that has already
// passed today rolls over to the same weekday next week.
const searchDays = 7

// Schedule is a recurring weekly pattern.
type Schedule struct {
	// Days holds weekday names ("Mon", "Tuesday", ...). Duplicates are allowed.
	Days []string
	// Times holds "HH:MM" 24-hour times of day.
	Times []string
}

// Result is a single evaluation of a schedule against a reference instant.
type Result struct {
	Next      time.Time
	Remaining time.Duration
	Text      string
	OK        bool
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tues": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thur": time.Thursday, "thurs": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseWeekday maps a weekday name to time.Weekday. Matching is
// case-insensitive and accepts both short and full names.
func ParseWeekday(name string) (time.Weekday, bool) {
	wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
	return wd, ok
}

// ParseClock parses an "HH:MM" time of day. Fields may have one or two
// digits; hour must be in [0,23] and minute in [0,59].
func ParseClock(s string) (hour, minute int, ok bool) {
	h, m, found := strings.Cut(strings.TrimSpace(s), ":")
	if !found {
		return 0, 0, false
	}
	hour, ok = parseField(h, 23)
	if !ok {
		return 0, 0, false
	}
	minute, ok = parseField(m, 59)
	if !ok {
		return 0, 0, false
	}
	return hour, minute, true
}

func parseField(s string, max int) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	if n > max {
		return 0, false
	}
	return n, true
}

type clock struct {
	hour, minute int
}

func activeDays(names []string) map[time.Weekday]struct{} {
	set := make(map[time.Weekday]struct{}, len(names))
	for _, name := range names {
		if wd, ok := ParseWeekday(name); ok {
			set[wd] = struct{}{}
		}
	}
	return set
}

func activeClocks(times []string) []clock {
	out := make([]clock, 0, len(times))
	for _, t := range times {
		if h, m, ok := ParseClock(t); ok {
			out = append(out, clock{hour: h, minute: m})
		}
	}
	return out
}

// NextOccurrence returns the earliest instant strictly after now that falls
// on one of the schedule's weekdays at one of its times of day, searching
// today and the following seven days in now's location. The second result is
// false when no such instant exists.
func NextOccurrence(s Schedule, now time.Time) (time.Time, bool) {
	days := activeDays(s.Days)
	if len(days) == 0 {
		return time.Time{}, false
	}
	clocks := activeClocks(s.Times)
	if len(clocks) == 0 {
		return time.Time{}, false
	}

	loc := now.Location()
	year, month, day := now.Date()

	var next time.Time
	found := false

	for offset := 0; offset <= searchDays; offset++ {
		// Noon always exists, even on days with a DST jump at midnight.
		wd := time.Date(year, month, day+offset, 12, 0, 0, 0, loc).Weekday()
		if _, ok := days[wd]; !ok {
			continue
		}
		for _, c := range clocks {
			candidate := time.Date(year, month, day+offset, c.hour, c.minute, 0, 0, loc)
			if !candidate.After(now) {
				continue
			}
			if !found || candidate.Before(next) {
				next = candidate
				found = true
			}
		}
	}

	return next, found
}

// Until returns the time left until the schedule's next occurrence.
func Until(s Schedule, now time.Time) (time.Duration, bool) {
	next, ok := NextOccurrence(s, now)
	if !ok {
		return 0, false
	}
	return next.Sub(now), true
}

// Evaluate computes the next occurrence and its rendered countdown.
// When there is none, Text is NoUpcoming.
func Evaluate(s Schedule, now time.Time) Result {
	next, ok := NextOccurrence(s, now)
	if !ok {
		return Result{Text: NoUpcoming}
	}
	remaining := next.Sub(now)
	return Result{
		Next:      next,
		Remaining: remaining,
		Text:      FormatCountdown(remaining),
		OK:        true,
	}
}

// FormatCountdown renders d using its most significant non-zero unit:
// "2d 3h", "4h 15m", "12m" or "45s". Units are truncated, never rounded.
// Negative durations render as "0s".
func FormatCountdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}

	seconds := int64(d / time.Second)
	minutes := seconds / 60
	hours := minutes / 60
	days := hours / 24

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh", days, hours%24)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes%60)
	case minutes > 0:
		return fmt.Sprintf("%dm", minutes)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// FormatMillis is FormatCountdown for a millisecond count.
func FormatMillis(ms int64) string {
	return FormatCountdown(time.Duration(ms) * time.Millisecond)
}
