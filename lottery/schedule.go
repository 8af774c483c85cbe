package lottery

import (
	"fmt"
	"time"

	"loki/models"
	"loki/rng"
)

// DateFormat is the layout override dates are written in.
const DateFormat = "01-02"

// Date is a day of the year.
type Date struct {
	Month time.Month
	Day   int
}

// ParseDate reads an MM-DD date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateFormat, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q, expected MM-DD: %w", s, err)
	}
	return Date{Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%02d-%02d", int(d.Month), d.Day)
}

// Is reports whether t falls on the date, in t's location.
func (d Date) Is(t time.Time) bool {
	_, month, day := t.Date()
	return month == d.Month && day == d.Day
}

// Next returns the start of the next occurrence of the date after now.
func (d Date) Next(now time.Time) time.Time {
	next := time.Date(now.Year(), d.Month, d.Day, 0, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = time.Date(now.Year()+1, d.Month, d.Day, 0, 0, 0, 0, now.Location())
	}
	return next
}

// SampleWait picks how long to wait before the next draw. The wait is
// uniform over the interval, except that on the override date it is always
// the minimum, and a wait that would reach or skip past the override date
// ends exactly at its start.
func SampleWait(src rng.Source, interval models.Interval, now time.Time, override Date) time.Duration {
	if override.Is(now) {
		return interval.MinDuration()
	}

	seconds := interval.Min
	if span := interval.Max - interval.Min; span > 0 {
		seconds += src.Int64N(span + 1)
	}
	wait := time.Duration(seconds) * time.Second

	if until := override.Next(now).Sub(now); wait >= until {
		return until
	}
	return wait
}
