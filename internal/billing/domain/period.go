package billing

import (
	"fmt"
	"time"
)

const periodLayout = "2006-01"

// Period identifies a monthly billing cycle.
type Period struct {
	Year  int        `json:"year"`
	Month time.Month `json:"month"`
}

// NewPeriod validates and builds a period.
func NewPeriod(year int, month time.Month) (Period, error) {
	p := Period{Year: year, Month: month}
	if !p.IsValid() {
		return Period{}, ErrInvalidPeriod
	}
	return p, nil
}

// ParsePeriod parses a YYYY-MM key.
func ParsePeriod(value string) (Period, error) {
	t, err := time.Parse(periodLayout, value)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q must be YYYY-MM", ErrInvalidPeriod, value)
	}
	return NewPeriod(t.Year(), t.Month())
}

// PeriodOf returns the period containing t in its own location.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: t.Month()}
}

// PeriodsOfYear returns the twelve periods of a year in calendar order.
func PeriodsOfYear(year int) []Period {
	periods := make([]Period, 0, 12)
	for m := time.January; m <= time.December; m++ {
		periods = append(periods, Period{Year: year, Month: m})
	}
	return periods
}

// IsValid reports whether the period has a usable year and month.
func (p Period) IsValid() bool {
	return p.Year >= 1 && p.Month >= time.January && p.Month <= time.December
}

// Key returns the canonical YYYY-MM representation.
func (p Period) Key() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}

// String implements fmt.Stringer.
func (p Period) String() string { return p.Key() }

// Start returns the first instant of the period in loc.
func (p Period) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, loc)
}

// End returns the first instant of the following period in loc.
func (p Period) End(loc *time.Location) time.Time {
	return p.Start(loc).AddDate(0, 1, 0)
}

// DaysIn returns the number of calendar days in the period.
func (p Period) DaysIn() int {
	return time.Date(p.Year, p.Month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// LastInstant returns 23:59:59 on the last calendar day of the period.
func (p Period) LastInstant(loc *time.Location) time.Time {
	return p.DueInstant(loc, p.DaysIn())
}

// DueInstant returns 23:59:59 on the given day, clamped to the month length.
func (p Period) DueInstant(loc *time.Location, day int) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	last := p.DaysIn()
	if day <= 0 || day > last {
		day = last
	}
	return time.Date(p.Year, p.Month, day, 23, 59, 59, 0, loc)
}

// Next returns the following period.
func (p Period) Next() Period {
	if p.Month == time.December {
		return Period{Year: p.Year + 1, Month: time.January}
	}
	return Period{Year: p.Year, Month: p.Month + 1}
}

// Previous returns the preceding period.
func (p Period) Previous() Period {
	if p.Month == time.January {
		return Period{Year: p.Year - 1, Month: time.December}
	}
	return Period{Year: p.Year, Month: p.Month - 1}
}

// Before reports whether p precedes other.
func (p Period) Before(other Period) bool {
	if p.Year != other.Year {
		return p.Year < other.Year
	}
	return p.Month < other.Month
}
