package service

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

var ErrInvalidSchedule = errors.New("service: invalid schedule")

// Clock returns the current instant. Tests replace it.
type Clock func() time.Time

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// combineDateTime joins a YYYY-MM-DD date and an HH:MM clock in loc.
func combineDateTime(date, clock string, loc *time.Location) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, strings.TrimSpace(date), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q", ErrInvalidSchedule, date)
	}
	return withClock(day, clock)
}

// withClock keeps the calendar day of t and replaces its time of day.
func withClock(t time.Time, clock string) (time.Time, error) {
	hm, err := time.Parse(clockLayout, strings.TrimSpace(clock))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q", ErrInvalidSchedule, clock)
	}
	y, m, d := t.Date()
	return time.Date(y, m, d, hm.Hour(), hm.Minute(), 0, 0, t.Location()), nil
}
