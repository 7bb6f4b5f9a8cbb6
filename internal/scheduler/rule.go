package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

type ruleKind int

const (
	kindDaily ruleKind = iota
	kindHourly
	kindWeekly
	kindEvery
)

// Rule is one parsed recurrence rule. Supported forms:
//
//	daily@HH:MM          e.g. daily@09:00
//	hourly@MM            e.g. hourly@30
//	weekly@DAY HH:MM     e.g. weekly@mon 09:00
//	every <duration>     e.g. every 15m
//
// All occurrences are evaluated in UTC.
type Rule struct {
	raw    string
	kind   ruleKind
	hour   int
	minute int
	day    time.Weekday
	every  time.Duration
}

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

// ParseRule parses a recurrence rule. Invalid rules are rejected here so a
// bad schedule fails at load, not at the first tick.
func ParseRule(s string) (Rule, error) {
	r := Rule{raw: strings.TrimSpace(s)}

	switch {
	case strings.HasPrefix(r.raw, "daily@"):
		h, m, err := parseClock(strings.TrimPrefix(r.raw, "daily@"))
		if err != nil {
			return Rule{}, fmt.Errorf("scheduler: rule %q: %w", s, err)
		}
		r.kind, r.hour, r.minute = kindDaily, h, m

	case strings.HasPrefix(r.raw, "hourly@"):
		m, err := strconv.Atoi(strings.TrimPrefix(r.raw, "hourly@"))
		if err != nil || m < 0 || m > 59 {
			return Rule{}, fmt.Errorf("scheduler: rule %q: minute must be 0-59", s)
		}
		r.kind, r.minute = kindHourly, m

	case strings.HasPrefix(r.raw, "weekly@"):
		rest := strings.TrimPrefix(r.raw, "weekly@")
		fields := strings.Fields(rest)
		if len(fields) != 2 {
			return Rule{}, fmt.Errorf("scheduler: rule %q: want weekly@DAY HH:MM", s)
		}
		day, ok := weekdays[strings.ToLower(fields[0])]
		if !ok {
			return Rule{}, fmt.Errorf("scheduler: rule %q: unknown weekday %q", s, fields[0])
		}
		h, m, err := parseClock(fields[1])
		if err != nil {
			return Rule{}, fmt.Errorf("scheduler: rule %q: %w", s, err)
		}
		r.kind, r.day, r.hour, r.minute = kindWeekly, day, h, m

	case strings.HasPrefix(r.raw, "every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(r.raw, "every ")))
		if err != nil {
			return Rule{}, fmt.Errorf("scheduler: rule %q: %w", s, err)
		}
		if d < time.Minute {
			return Rule{}, fmt.Errorf("scheduler: rule %q: interval below 1m", s)
		}
		r.kind, r.every = kindEvery, d

	default:
		return Rule{}, fmt.Errorf("scheduler: unrecognized rule %q", s)
	}
	return r, nil
}

func parseClock(s string) (hour, minute int, err error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("hour must be 0-23, got %q", parts[0])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("minute must be 0-59, got %q", parts[1])
	}
	return hour, minute, nil
}

// String returns the rule as written.
func (r Rule) String() string { return r.raw }

// WindowStart returns the most recent occurrence of the rule at or before
// at, in UTC. Two invocations anywhere inside the same window agree on the
// same start, which makes the derived window id the run-once key.
func (r Rule) WindowStart(at time.Time) time.Time {
	at = at.UTC()

	switch r.kind {
	case kindDaily:
		c := time.Date(at.Year(), at.Month(), at.Day(), r.hour, r.minute, 0, 0, time.UTC)
		if c.After(at) {
			c = c.AddDate(0, 0, -1)
		}
		return c

	case kindHourly:
		c := time.Date(at.Year(), at.Month(), at.Day(), at.Hour(), r.minute, 0, 0, time.UTC)
		if c.After(at) {
			c = c.Add(-time.Hour)
		}
		return c

	case kindWeekly:
		back := (int(at.Weekday()) - int(r.day) + 7) % 7
		c := time.Date(at.Year(), at.Month(), at.Day(), r.hour, r.minute, 0, 0, time.UTC)
		c = c.AddDate(0, 0, -back)
		if c.After(at) {
			c = c.AddDate(0, 0, -7)
		}
		return c

	default: // kindEvery
		return at.Truncate(r.every)
	}
}

// Next returns the first occurrence strictly after at, in UTC.
func (r Rule) Next(at time.Time) time.Time {
	start := r.WindowStart(at)
	switch r.kind {
	case kindDaily:
		return start.AddDate(0, 0, 1)
	case kindHourly:
		return start.Add(time.Hour)
	case kindWeekly:
		return start.AddDate(0, 0, 7)
	default:
		return start.Add(r.every)
	}
}
