package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// MaxExpansion caps how many occurrences a single Expand call produces.
const MaxExpansion = 500

var rruleWeekdays = map[time.Weekday]rrule.Weekday{
	time.Sunday:    rrule.SU,
	time.Monday:    rrule.MO,
	time.Tuesday:   rrule.TU,
	time.Wednesday: rrule.WE,
	time.Thursday:  rrule.TH,
	time.Friday:    rrule.FR,
	time.Saturday:  rrule.SA,
}

// Expand lists the starts of the occurrences of a series beginning at first
// whose [start, start+duration) intersects the half-open window [from, to).
func Expand(spec Spec, first time.Time, duration time.Duration, from, to time.Time) ([]time.Time, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if !from.Before(to) {
		return nil, nil
	}
	if len(spec.DaysOfWeek) > 0 && (spec.Frequency == Weekly || spec.Frequency == BiWeekly) {
		return expandByDay(spec, first, duration, from, to)
	}

	out := make([]time.Time, 0)
	cursor := first
	for i := 0; i < MaxExpansion*4 && cursor.Before(to); i++ {
		if cursor.Add(duration).After(from) {
			out = append(out, cursor)
			if len(out) == MaxExpansion {
				break
			}
		}
		next, err := Next(cursor, spec)
		if err != nil {
			return nil, err
		}
		cursor = next
	}
	return out, nil
}

func expandByDay(spec Spec, first time.Time, duration time.Duration, from, to time.Time) ([]time.Time, error) {
	interval := spec.Interval
	if spec.Frequency == BiWeekly {
		interval = 2
	}
	days := make([]rrule.Weekday, 0, len(spec.DaysOfWeek))
	for _, d := range spec.DaysOfWeek {
		days = append(days, rruleWeekdays[d])
	}

	rule, err := rrule.NewRRule(rrule.ROption{
		Freq:      rrule.WEEKLY,
		Interval:  interval,
		Dtstart:   first,
		Byweekday: days,
		Count:     MaxExpansion * 4,
	})
	if err != nil {
		return nil, fmt.Errorf("build rrule: %w", err)
	}

	starts := rule.Between(from.Add(-duration), to, false)
	if len(starts) > MaxExpansion {
		starts = starts[:MaxExpansion]
	}
	return starts, nil
}
