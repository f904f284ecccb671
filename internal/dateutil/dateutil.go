// Package dateutil computes day offsets between catalog dates and today.
package dateutil

import (
	"fmt"
	"time"

	"github.com/naka-gawa/grade-report/internal/domain"
)

// layouts lists the ISO-8601 shapes accepted by Parse: calendar dates in extended or basic format, ordinal
// dates, and date-times with hour, minute or second precision, a T or space separator and an optional offset
// written as Z, ±hh, ±hhmm or ±hh:mm. Fractional seconds are optional and may use a dot or a comma.
var layouts = buildLayouts()

func buildLayouts() []string {
	offsets := []string{"", "Z07:00", "Z0700", "Z07"}
	formats := []struct {
		date  string
		seps  []string
		times []string
	}{
		{date: "2006-01-02", seps: []string{"T", " "}, times: []string{"15:04:05.999999999", "15:04", "15"}},
		{date: "20060102", seps: []string{"T"}, times: []string{"150405.999999999", "1504", "15"}},
	}

	layouts := []string{"2006-01-02", "20060102", "2006-002"}
	for _, f := range formats {
		for _, sep := range f.seps {
			for _, tm := range f.times {
				for _, off := range offsets {
					layouts = append(layouts, f.date+sep+tm+off)
				}
			}
		}
	}
	return layouts
}

const day = 24 * time.Hour

// Clock provides the current time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

// RealClock returns a Clock reading the system time.
func RealClock() Clock {
	return realClock{}
}

// Calculator computes days remaining relative to the date of its Clock.
type Calculator struct {
	Clock Clock
}

// Parse reads an ISO-8601 date or date-time. The returned time keeps the offset found in the string.
func Parse(s string) (time.Time, error) {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", domain.ErrParse, s)
}

// DateOnly returns the YYYY-MM-DD calendar date of an ISO-8601 string.
func DateOnly(s string) (string, error) {
	t, err := Parse(s)
	if err != nil {
		return "", err
	}
	return t.Format(time.DateOnly), nil
}

// DaysRemaining returns the signed number of days from today to the calendar date of s.
// The calendar date is taken in the offset written in s, today in the local time zone.
func (c Calculator) DaysRemaining(s string) (int, error) {
	t, err := Parse(s)
	if err != nil {
		return 0, err
	}
	clock := c.Clock
	if clock == nil {
		clock = realClock{}
	}
	return daysBetween(clock.Now(), t), nil
}

// DaysRemaining is Calculator.DaysRemaining with the system clock.
func DaysRemaining(s string) (int, error) {
	return Calculator{Clock: realClock{}}.DaysRemaining(s)
}

func daysBetween(from, to time.Time) int {
	start := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(end.Sub(start) / day)
}
