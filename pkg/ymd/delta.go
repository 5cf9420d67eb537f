package ymd

import (
	"time"
)

// RelativeDelta is a signed calendar difference between two points in time.
//
// Unlike time.Duration it is expressed in calendar units: adding one month to
// Jan 31 lands on the last day of February rather than overflowing into March.
type RelativeDelta struct {
	Years        int `json:"years"`
	Months       int `json:"months"`
	Days         int `json:"days"`
	Hours        int `json:"hours,omitempty"`
	Minutes      int `json:"minutes,omitempty"`
	Seconds      int `json:"seconds,omitempty"`
	Microseconds int `json:"microseconds,omitempty"`
}

// Period returns a delta of the given years, months and days.
func Period(years, months, days int) RelativeDelta {
	return RelativeDelta{Years: years, Months: months, Days: days}.normalized()
}

// IsZero reports whether every component of the delta is zero.
func (d RelativeDelta) IsZero() bool {
	return d == RelativeDelta{}
}

// Negate returns the delta with every component sign-flipped.
func (d RelativeDelta) Negate() RelativeDelta {
	return RelativeDelta{
		Years:        -d.Years,
		Months:       -d.Months,
		Days:         -d.Days,
		Hours:        -d.Hours,
		Minutes:      -d.Minutes,
		Seconds:      -d.Seconds,
		Microseconds: -d.Microseconds,
	}
}

// AddTo applies the delta to t. Years and months go first, with the day
// clamped to the length of the resulting month; the remaining components are
// then added on the wall clock.
func (d RelativeDelta) AddTo(t time.Time) time.Time {
	out := addMonths(t, d.Years*12+d.Months)
	out = out.AddDate(0, 0, d.Days)
	return out.Add(time.Duration(d.Hours)*time.Hour +
		time.Duration(d.Minutes)*time.Minute +
		time.Duration(d.Seconds)*time.Second +
		time.Duration(d.Microseconds)*time.Microsecond)
}

// SubtractFrom returns t minus the delta.
func (d RelativeDelta) SubtractFrom(t time.Time) time.Time {
	return d.Negate().AddTo(t)
}

// Between returns the calendar difference to - from. The result is positive
// when to is after from.
//
// Both instants are compared by their wall clock readings, so two values in
// different zones are treated as if they were recorded in the same one.
func Between(to, from time.Time) RelativeDelta {
	dt1, dt2 := wall(to), wall(from)

	months := (dt1.Year()-dt2.Year())*12 + int(dt1.Month()) - int(dt2.Month())
	dtm := addMonths(dt2, months)
	if dt1.Before(dt2) {
		for dt1.After(dtm) {
			months++
			dtm = addMonths(dt2, months)
		}
	} else {
		for dt1.Before(dtm) {
			months--
			dtm = addMonths(dt2, months)
		}
	}

	rest := dt1.Sub(dtm)
	seconds := floorDiv(int64(rest), int64(time.Second))
	micros := (int64(rest) - seconds*int64(time.Second)) / int64(time.Microsecond)

	return RelativeDelta{
		Months:       months,
		Seconds:      int(seconds),
		Microseconds: int(micros),
	}.normalized()
}

// normalized carries overflowing components into the next larger unit,
// keeping the sign of each component.
func (d RelativeDelta) normalized() RelativeDelta {
	carry := func(v *int, next *int, base int) {
		if *v > base-1 || *v < -(base-1) {
			*next += *v / base
			*v = *v % base
		}
	}
	carry(&d.Microseconds, &d.Seconds, 1000000)
	carry(&d.Seconds, &d.Minutes, 60)
	carry(&d.Minutes, &d.Hours, 60)
	carry(&d.Hours, &d.Days, 24)
	carry(&d.Months, &d.Years, 12)
	return d
}

func addMonths(t time.Time, months int) time.Time {
	if months == 0 {
		return t
	}
	total := t.Year()*12 + int(t.Month()) - 1 + months
	year := floorDiv(int64(total), 12)
	month := time.Month(int64(total)-year*12) + 1

	day := t.Day()
	if last := daysIn(int(year), month); day > last {
		day = last
	}
	return time.Date(int(year), month, day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func wall(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}
