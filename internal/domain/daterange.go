package domain

import (
	"fmt"
	"time"
)

// DateLayout is the wire and storage format for calendar dates.
const DateLayout = "2006-01-02"

// Location is the time zone every upstream source reports in (UTC+8).
var Location = time.FixedZone("CST", 8*60*60)

// DateOf truncates t to midnight of its calendar day in Location.
func DateOf(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}

// ParseDate parses a "2006-01-02" prefixed value in Location. Trailing
// time-of-day text such as "2022-03-15 09:30:00" is accepted and dropped.
func ParseDate(value string) (time.Time, error) {
	if len(value) < len(DateLayout) {
		return time.Time{}, fmt.Errorf("parse date %q: too short", value)
	}
	t, err := time.ParseInLocation(DateLayout, value[:len(DateLayout)], Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", value, err)
	}
	return t, nil
}

// DateRange is an inclusive span of calendar days.
type DateRange struct {
	Start time.Time
	End   time.Time
}

// MonthRange returns the first through last day of the given month.
func MonthRange(year int, month time.Month) DateRange {
	start := time.Date(year, month, 1, 0, 0, 0, 0, Location)
	// day 0 of the next month normalizes to the last day of this one
	end := time.Date(year, month+1, 0, 0, 0, 0, 0, Location)
	return DateRange{Start: start, End: end}
}

// MonthRanges enumerates every calendar month of the given years, in order.
func MonthRanges(years []int) []DateRange {
	ranges := make([]DateRange, 0, len(years)*12)
	for _, year := range years {
		for month := time.January; month <= time.December; month++ {
			ranges = append(ranges, MonthRange(year, month))
		}
	}
	return ranges
}

// StartDate formats the first day.
func (r DateRange) StartDate() string {
	return r.Start.Format(DateLayout)
}

// EndDate formats the last day.
func (r DateRange) EndDate() string {
	return r.End.Format(DateLayout)
}

func (r DateRange) String() string {
	return r.StartDate() + "~" + r.EndDate()
}
