package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type IntervalUnit string

const (
	IntervalDay   IntervalUnit = "day"
	IntervalWeek  IntervalUnit = "week"
	IntervalMonth IntervalUnit = "month"
	IntervalYear  IntervalUnit = "year"
)

// Interval is a billing cadence in provider-neutral form.
type Interval struct {
	Unit  IntervalUnit
	Count int
}

// Interval resolves a frequency into a unit and count. Custom frequencies
// read "interval_unit" and "interval_count" from metadata.
func (f Frequency) Interval(metadata map[string]any) (Interval, error) {
	switch f {
	case FrequencyDaily:
		return Interval{Unit: IntervalDay, Count: 1}, nil
	case FrequencyWeekly:
		return Interval{Unit: IntervalWeek, Count: 1}, nil
	case FrequencyBiweekly:
		return Interval{Unit: IntervalWeek, Count: 2}, nil
	case FrequencyMonthly:
		return Interval{Unit: IntervalMonth, Count: 1}, nil
	case FrequencyQuarterly:
		return Interval{Unit: IntervalMonth, Count: 3}, nil
	case FrequencyAnnual:
		return Interval{Unit: IntervalYear, Count: 1}, nil
	case FrequencyCustom:
		unit := IntervalUnit(strings.ToLower(strings.TrimSpace(fmt.Sprint(metadata["interval_unit"]))))
		switch unit {
		case IntervalDay, IntervalWeek, IntervalMonth, IntervalYear:
		default:
			return Interval{}, fmt.Errorf("%w: custom frequency needs interval_unit of day, week, month or year", ErrUnsupportedFrequency)
		}
		count := intFromAny(metadata["interval_count"])
		if count <= 0 {
			return Interval{}, fmt.Errorf("%w: custom frequency needs a positive interval_count", ErrUnsupportedFrequency)
		}
		return Interval{Unit: unit, Count: count}, nil
	default:
		return Interval{}, fmt.Errorf("%w: %q", ErrUnsupportedFrequency, f)
	}
}

// Days approximates the interval length in days, treating months as 30 days.
func (i Interval) Days() int {
	switch i.Unit {
	case IntervalWeek:
		return 7 * i.Count
	case IntervalMonth:
		return 30 * i.Count
	case IntervalYear:
		return 365 * i.Count
	default:
		return i.Count
	}
}

// Months returns the interval in whole months, or 0 for day/week units.
func (i Interval) Months() int {
	switch i.Unit {
	case IntervalMonth:
		return i.Count
	case IntervalYear:
		return 12 * i.Count
	default:
		return 0
	}
}

// At returns the k-th charge date counted from start. Computing from start
// avoids month-end drift from repeated AddDate calls.
func (i Interval) At(start time.Time, k int) time.Time {
	n := i.Count * k
	switch i.Unit {
	case IntervalWeek:
		return start.AddDate(0, 0, 7*n)
	case IntervalMonth:
		return start.AddDate(0, n, 0)
	case IntervalYear:
		return start.AddDate(n, 0, 0)
	default:
		return start.AddDate(0, 0, n)
	}
}

// Occurrences counts charges from start through end inclusive. It returns 0
// when end is nil, meaning open-ended.
func (i Interval) Occurrences(start time.Time, end *time.Time) int {
	if end == nil || end.Before(start) {
		return 0
	}
	n := 0
	for !i.At(start, n).After(*end) && n < 10000 {
		n++
	}
	return n
}

func intFromAny(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i)
		}
	case string:
		var out int
		if _, err := fmt.Sscanf(strings.TrimSpace(n), "%d", &out); err == nil {
			return out
		}
	}
	return 0
}
