package util

import (
	"fmt"
	"time"
)

// Interval is a half-open time range [Start, End). The location of Start is
// the interval's chronology; all period arithmetic on the interval uses it.
type Interval struct {
	Start time.Time
	End   time.Time
}

// NewInterval builds an interval from epoch milliseconds in loc (UTC if nil).
func NewInterval(startMillis, endMillis int64, loc *time.Location) (Interval, error) {
	if endMillis < startMillis {
		return Interval{}, fmt.Errorf("interval end %d is before start %d", endMillis, startMillis)
	}
	return Interval{Start: FromMillis(startMillis, loc), End: FromMillis(endMillis, loc)}, nil
}

// FromMillis converts epoch milliseconds to a time in loc (UTC if nil).
func FromMillis(ms int64, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.UnixMilli(ms).In(loc)
}

func (i Interval) Location() *time.Location { return i.Start.Location() }

func (i Interval) StartMillis() int64 { return i.Start.UnixMilli() }

func (i Interval) EndMillis() int64 { return i.End.UnixMilli() }

func (i Interval) Duration() time.Duration { return i.End.Sub(i.Start) }

// Encloses reports whether [startMillis, endMillis) lies fully inside the interval.
func (i Interval) Encloses(startMillis, endMillis int64) bool {
	return startMillis >= i.StartMillis() && endMillis <= i.EndMillis()
}

// Overlaps reports whether [startMillis, endMillis) intersects the interval.
func (i Interval) Overlaps(startMillis, endMillis int64) bool {
	return startMillis < i.EndMillis() && endMillis > i.StartMillis()
}

// Widen returns the interval grown by before on the left and after on the right.
func (i Interval) Widen(before, after Period) Interval {
	return Interval{Start: before.SubtractFrom(i.Start), End: after.AddTo(i.End)}
}

func (i Interval) String() string {
	return fmt.Sprintf("[%s, %s)", i.Start.Format(time.RFC3339), i.End.Format(time.RFC3339))
}
