// Package ymd converts between birth dates and ages written in the compact
// "years months days" notation used on lab patient forms, e.g. "2y 5d".
package ymd

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	ErrType          = errors.New("type not supported")
	ErrInvalidPeriod = errors.New("no valid ymd")
)

// now is swapped in tests.
var now = time.Now

var periodPatterns = map[byte]*regexp.Regexp{
	'y': regexp.MustCompile(`(\d{1,2})y`),
	'm': regexp.MustCompile(`(\d{1,2})m`),
	'd': regexp.MustCompile(`(\d{1,2})d`),
}

// Ymd renders the years, months and days of the delta, skipping zero
// components. An all-zero delta renders as "".
func (d RelativeDelta) Ymd() string {
	parts := make([]string, 0, 3)
	for _, p := range []struct {
		n    int
		unit string
	}{{d.Years, "y"}, {d.Months, "m"}, {d.Days, "d"}} {
		if p.n != 0 {
			parts = append(parts, strconv.Itoa(p.n)+p.unit)
		}
	}
	return strings.Join(parts, " ")
}

func (d RelativeDelta) String() string {
	return d.Ymd()
}

// ToYmd returns the ymd representation of delta, which must be a
// RelativeDelta or a non-nil pointer to one.
func ToYmd(delta interface{}) (string, error) {
	switch d := delta.(type) {
	case RelativeDelta:
		return d.Ymd(), nil
	case *RelativeDelta:
		if d != nil {
			return d.Ymd(), nil
		}
	}
	return "", fmt.Errorf("%w: delta must be a relative delta, got %T", ErrType, delta)
}

// IsYmd reports whether text looks like a ymd period. The check only looks
// for any of the letters y, m or d, so "xyz" passes too.
func IsYmd(text string) bool {
	return strings.ContainsAny(text, "ymd")
}

// ParsePeriod extracts the years, months and days of a ymd period. Each
// component is the first one or two digit number directly followed by its
// unit letter; missing components are zero.
func ParsePeriod(text string) RelativeDelta {
	extract := func(unit byte) int {
		m := periodPatterns[unit].FindStringSubmatch(text)
		if m == nil {
			return 0
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return 0
		}
		return n
	}
	return RelativeDelta{Years: extract('y'), Months: extract('m'), Days: extract('d')}
}

// GetBirthDate returns the birth date of someone whose age was periodText on
// onDate. A nil or uncoercible onDate means now.
func GetBirthDate(periodText string, onDate interface{}) (time.Time, error) {
	on, _ := ToDatetime(onDate, now(), nil)

	period := ParsePeriod(periodText)
	if period.IsZero() {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, periodText)
	}
	return period.SubtractFrom(on), nil
}

// GetAgeYmd returns the age in ymd notation of someone born on birthDate, as
// of onDate or now when onDate is nil.
func GetAgeYmd(birthDate, onDate interface{}) (string, error) {
	delta, err := GetRelativeDelta(birthDate, onDate)
	if err != nil {
		return "", err
	}
	return delta.Ymd(), nil
}

// GetRelativeDelta returns toDate - fromDate. fromDate has no default and
// must be coercible; an empty toDate means now.
func GetRelativeDelta(fromDate, toDate interface{}) (RelativeDelta, error) {
	from, ok := ToDatetime(fromDate, nil, nil)
	if !ok {
		return RelativeDelta{}, fmt.Errorf("%w: from_date", ErrType)
	}

	if isEmpty(toDate) {
		toDate = now()
	}
	to, ok := ToDatetime(toDate, nil, nil)
	if !ok {
		return RelativeDelta{}, fmt.Errorf("%w: to_date", ErrType)
	}

	return Between(to, from), nil
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case time.Time:
		return t.IsZero()
	case *time.Time:
		return t == nil || t.IsZero()
	}
	return false
}
