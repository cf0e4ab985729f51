package util

import (
	"fmt"
	"math"
	"time"

	"github.com/sosodev/duration"
)

// Period is an ISO-8601 duration split into calendar and clock fields.
// Calendar fields are applied with AddDate in the target location, so "P1D"
// across a DST switch moves to the same wall-clock time on the next day.
type Period struct {
	raw    string
	years  int
	months int
	days   int
	clock  time.Duration
}

// ParsePeriod parses an ISO-8601 duration such as "PT1S", "P7D" or "P1MT2H".
func ParsePeriod(s string) (Period, error) {
	d, err := duration.Parse(s)
	if err != nil {
		return Period{}, fmt.Errorf("parse period %q: %w", s, err)
	}
	for _, f := range []float64{d.Years, d.Months, d.Weeks, d.Days} {
		if f != math.Trunc(f) {
			return Period{}, fmt.Errorf("parse period %q: fractional calendar fields are not supported", s)
		}
	}

	p := Period{
		raw:    s,
		years:  int(d.Years),
		months: int(d.Months),
		days:   int(d.Weeks)*7 + int(d.Days),
		clock: time.Duration(d.Hours*float64(time.Hour)) +
			time.Duration(d.Minutes*float64(time.Minute)) +
			time.Duration(d.Seconds*float64(time.Second)),
	}
	if d.Negative {
		p.years, p.months, p.days, p.clock = -p.years, -p.months, -p.days, -p.clock
	}
	return p, nil
}

// MustParsePeriod is ParsePeriod for constants; it panics on error.
func MustParsePeriod(s string) Period {
	p, err := ParsePeriod(s)
	if err != nil {
		panic(err)
	}
	return p
}

// IsZero reports whether the period has no length at all.
func (p Period) IsZero() bool {
	return p.years == 0 && p.months == 0 && p.days == 0 && p.clock == 0
}

// IsNegative reports whether the period moves time backward.
func (p Period) IsNegative() bool {
	return p.years < 0 || p.months < 0 || p.days < 0 || p.clock < 0
}

// AddTo returns t moved forward by the period.
func (p Period) AddTo(t time.Time) time.Time {
	return t.AddDate(p.years, p.months, p.days).Add(p.clock)
}

// SubtractFrom returns t moved backward by the period.
func (p Period) SubtractFrom(t time.Time) time.Time {
	return t.AddDate(-p.years, -p.months, -p.days).Add(-p.clock)
}

// AddToMillis is AddTo on epoch milliseconds evaluated in loc.
func (p Period) AddToMillis(ms int64, loc *time.Location) int64 {
	return p.AddTo(FromMillis(ms, loc)).UnixMilli()
}

// SubtractFromMillis is SubtractFrom on epoch milliseconds evaluated in loc.
func (p Period) SubtractFromMillis(ms int64, loc *time.Location) int64 {
	return p.SubtractFrom(FromMillis(ms, loc)).UnixMilli()
}

func (p Period) String() string {
	if p.raw != "" {
		return p.raw
	}
	return fmt.Sprintf("P%dY%dM%dDT%s", p.years, p.months, p.days, p.clock)
}
