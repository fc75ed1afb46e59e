package recurrence

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Frequency is the repeat unit stored on a time event.
type Frequency string

const (
	Daily    Frequency = "daily"
	Weekly   Frequency = "weekly"
	BiWeekly Frequency = "bi-weekly"
	Monthly  Frequency = "monthly"
	Yearly   Frequency = "yearly"
)

var (
	ErrInvalidRecurrenceKind = errors.New("recurrence: invalid recurrence kind")
	ErrInvalidInterval       = errors.New("recurrence: invalid interval")
	ErrInvalidWeekday        = errors.New("recurrence: invalid weekday")
)

func (f Frequency) IsValid() bool {
	switch f {
	case Daily, Weekly, BiWeekly, Monthly, Yearly:
		return true
	default:
		return false
	}
}

// Spec describes how a time event repeats. A nil *Spec means a one-off event.
type Spec struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   int            `json:"interval"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek,omitempty"`
}

func (s Spec) Validate() error {
	if !s.Frequency.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecurrenceKind, s.Frequency)
	}
	if s.Interval < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidInterval, s.Interval)
	}
	seen := make(map[time.Weekday]bool, len(s.DaysOfWeek))
	for _, d := range s.DaysOfWeek {
		if d < time.Sunday || d > time.Saturday {
			return fmt.Errorf("%w: %d", ErrInvalidWeekday, d)
		}
		if seen[d] {
			return fmt.Errorf("%w: duplicate %s", ErrInvalidWeekday, d)
		}
		seen[d] = true
	}
	return nil
}

type wireSpec struct {
	Frequency  Frequency      `json:"frequency"`
	Interval   *int           `json:"interval"`
	DaysOfWeek []time.Weekday `json:"daysOfWeek"`
}

// Parse decodes a persisted recurrence payload. Unknown fields and shapes are
// rejected here so the calculator never sees them. A missing interval means 1.
func Parse(data []byte) (*Spec, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var w wireSpec
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("decode recurrence: %w", err)
	}
	spec := &Spec{Frequency: w.Frequency, Interval: 1}
	if w.Interval != nil {
		spec.Interval = *w.Interval
	}
	if len(w.DaysOfWeek) > 0 {
		spec.DaysOfWeek = append([]time.Weekday(nil), w.DaysOfWeek...)
		sort.Slice(spec.DaysOfWeek, func(i, j int) bool { return spec.DaysOfWeek[i] < spec.DaysOfWeek[j] })
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return spec, nil
}

// Encode validates and serializes a spec for storage.
func Encode(spec Spec) ([]byte, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(spec)
}

// taskIntervals maps task-level interval labels to event frequencies.
// "bi-monthly" is stored as bi-weekly (every 14 days).
var taskIntervals = map[string]Frequency{
	"daily":      Daily,
	"weekly":     Weekly,
	"bi-monthly": BiWeekly,
	"monthly":    Monthly,
}

// FromTaskInterval builds the event recurrence for a task interval label.
func FromTaskInterval(label string) (Spec, error) {
	freq, ok := taskIntervals[strings.ToLower(strings.TrimSpace(label))]
	if !ok {
		return Spec{}, fmt.Errorf("%w: task interval %q", ErrInvalidRecurrenceKind, label)
	}
	return Spec{Frequency: freq, Interval: 1}, nil
}

// Next returns the occurrence that follows ref. It never reads the clock.
func Next(ref time.Time, spec Spec) (time.Time, error) {
	if !spec.Frequency.IsValid() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidRecurrenceKind, spec.Frequency)
	}
	if spec.Interval < 1 {
		return time.Time{}, fmt.Errorf("%w: %d", ErrInvalidInterval, spec.Interval)
	}

	switch spec.Frequency {
	case Daily:
		return ref.AddDate(0, 0, spec.Interval), nil
	case Weekly:
		return ref.AddDate(0, 0, 7*spec.Interval), nil
	case BiWeekly:
		// Interval is ignored for bi-weekly.
		return ref.AddDate(0, 0, 14), nil
	case Monthly:
		return addMonths(ref, spec.Interval), nil
	case Yearly:
		return addMonths(ref, 12*spec.Interval), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidRecurrenceKind, spec.Frequency)
	}
}

// addMonths moves ref forward by n calendar months, clipping the day to the
// length of the target month (Jan 31 + 1 month is the last day of February).
func addMonths(ref time.Time, n int) time.Time {
	y, m, d := ref.Date()
	target := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, ref.Location())
	ty, tm, _ := target.Date()
	if last := DaysInMonth(tm, ty); d > last {
		d = last
	}
	return time.Date(ty, tm, d, ref.Hour(), ref.Minute(), ref.Second(), ref.Nanosecond(), ref.Location())
}

func DaysInMonth(month time.Month, year int) int {
	// Move to next month, roll back a day.
	firstOfMonth := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	firstOfNextMonth := firstOfMonth.AddDate(0, 1, 0)
	lastOfMonth := firstOfNextMonth.AddDate(0, 0, -1)
	return lastOfMonth.Day()
}

var rruleFreq = map[Frequency]string{
	Daily:    "DAILY",
	Weekly:   "WEEKLY",
	BiWeekly: "WEEKLY",
	Monthly:  "MONTHLY",
	Yearly:   "YEARLY",
}

var rruleDays = [...]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// RRule renders the spec as an RFC 5545 RRULE value.
func (s Spec) RRule() string {
	interval := s.Interval
	if s.Frequency == BiWeekly {
		interval = 2
	}
	if interval < 1 {
		interval = 1
	}
	parts := []string{"FREQ=" + rruleFreq[s.Frequency], fmt.Sprintf("INTERVAL=%d", interval)}
	if len(s.DaysOfWeek) > 0 {
		days := make([]string, 0, len(s.DaysOfWeek))
		for _, d := range s.DaysOfWeek {
			days = append(days, rruleDays[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}
	return strings.Join(parts, ";")
}
