package scheduler

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MinInterval is the shortest interval ParseSchedule accepts.
const MinInterval = time.Minute

// CronField is the set of values one cron column allows. Any matches
// everything.
type CronField struct {
	Values []int // sorted
	Any    bool
}

// Contains checks if a value is allowed by this field
func (f *CronField) Contains(val int) bool {
	if f.Any {
		return true
	}
	i := sort.SearchInts(f.Values, val)
	return i < len(f.Values) && f.Values[i] == val
}

// ParseCronField parses "*", "5", "1-10", "*/15", "0-30/10", and comma
// separated lists of those.
func ParseCronField(field string, min, max int) (*CronField, error) {
	field = strings.TrimSpace(field)
	if field == "*" {
		return &CronField{Any: true}, nil
	}

	seen := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		if err := expandPart(strings.TrimSpace(part), min, max, seen); err != nil {
			return nil, err
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("no valid values in field: %s", field)
	}

	cf := &CronField{Values: make([]int, 0, len(seen))}
	for v := range seen {
		cf.Values = append(cf.Values, v)
	}
	sort.Ints(cf.Values)
	return cf, nil
}

func expandPart(part string, min, max int, into map[int]bool) error {
	step := 1
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			return fmt.Errorf("invalid step: %s", s)
		}
		step = n
		part = base
	}

	lo, hi := min, max
	if part != "*" {
		from, to, isRange := strings.Cut(part, "-")
		var err error
		if lo, err = strconv.Atoi(from); err != nil {
			return fmt.Errorf("invalid value: %s", from)
		}
		hi = lo
		if isRange {
			if hi, err = strconv.Atoi(to); err != nil {
				return fmt.Errorf("invalid range end: %s", to)
			}
		}
	}
	if lo < min || hi > max {
		return fmt.Errorf("value out of range [%d-%d]: %d-%d", min, max, lo, hi)
	}
	if lo > hi {
		return fmt.Errorf("invalid range: %d > %d", lo, hi)
	}

	for v := lo; v <= hi; v += step {
		into[v] = true
	}
	return nil
}

// Schedule is either a fixed interval or a five-column cron expression.
type Schedule struct {
	Expression string

	interval time.Duration

	minute, hour, dom, month, dow *CronField
}

// Every returns an interval schedule without the MinInterval floor.
func Every(d time.Duration) *Schedule {
	return &Schedule{Expression: "every " + d.String(), interval: d}
}

// ParseSchedule parses a schedule expression
// Supports:
// - Simple: "hourly", "daily", "weekly"
// - Intervals: "every 5m", "every 1h30m"
// - Cron: "*/10 * * * *" (minute hour dom month dow, with ranges, steps, lists)
func ParseSchedule(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(strings.ToLower(expr))

	switch expr {
	case "hourly":
		return &Schedule{Expression: expr, interval: time.Hour}, nil
	case "daily":
		return parseCron(expr, "0 2 * * *")
	case "weekly":
		return parseCron(expr, "0 2 * * 0")
	}

	if rest, ok := strings.CutPrefix(expr, "every "); ok {
		dur, err := time.ParseDuration(strings.TrimSpace(rest))
		if err != nil {
			return nil, fmt.Errorf("invalid interval: %s", rest)
		}
		if dur < MinInterval {
			return nil, fmt.Errorf("interval must be at least %s", MinInterval)
		}
		return &Schedule{Expression: expr, interval: dur}, nil
	}

	if len(strings.Fields(expr)) == 5 {
		return parseCron(expr, expr)
	}
	return nil, fmt.Errorf("unrecognized schedule format: %s", expr)
}

func parseCron(name, expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	s := &Schedule{Expression: name}

	columns := []struct {
		label    string
		dst      **CronField
		min, max int
	}{
		{"minute", &s.minute, 0, 59},
		{"hour", &s.hour, 0, 23},
		{"day of month", &s.dom, 1, 31},
		{"month", &s.month, 1, 12},
		{"day of week", &s.dow, 0, 6},
	}
	for i, c := range columns {
		f, err := ParseCronField(parts[i], c.min, c.max)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", c.label, err)
		}
		*c.dst = f
	}
	return s, nil
}

// IsInterval reports whether this is an interval schedule.
func (s *Schedule) IsInterval() bool {
	return s.interval > 0
}

// Interval returns the interval duration (0 for cron schedules)
func (s *Schedule) Interval() time.Duration {
	return s.interval
}

func (s *Schedule) String() string {
	return s.Expression
}

// NextRun returns the first run strictly after after. Cron schedules skip
// whole days and hours that cannot match; a schedule with no match within
// four years falls back to 24h.
func (s *Schedule) NextRun(after time.Time) time.Time {
	if s.interval > 0 {
		return after.Add(s.interval)
	}

	t := after.Truncate(time.Minute).Add(time.Minute)
	limit := after.AddDate(4, 0, 0)
	for t.Before(limit) {
		if !s.month.Contains(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.dom.Contains(t.Day()) || !s.dow.Contains(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !s.hour.Contains(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if s.minute.Contains(t.Minute()) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return after.Add(24 * time.Hour)
}
