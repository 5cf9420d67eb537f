package ymd

import (
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Layouts tried after cast's own set, for dates typed by hand into lab forms.
var extraLayouts = []string{
	"2006/01/02",
	"2006/01/02 15:04",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
	"02/01/2006",
	"02.01.2006",
	"January 2, 2006",
	"Jan 2, 2006",
}

// ParseDate is the generic date coercion primitive. It accepts time values,
// pointers to them, strings in the usual layouts and unix timestamps. Zone-less
// strings are read in the local zone.
func ParseDate(value interface{}) (time.Time, bool) {
	switch v := value.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case bool:
		return time.Time{}, false
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return time.Time{}, false
		}
		if t, err := cast.ToTimeInDefaultLocationE(s, time.Local); err == nil {
			return t, true
		}
		for _, layout := range extraLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	}

	t, err := cast.ToTimeInDefaultLocationE(value, time.Local)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t, true
}

// ToDatetime coerces value into a time.Time.
//
// A time.Time (or non-nil pointer to one) is returned untouched and loc is not
// applied to it. Anything else goes through ParseDate; when that fails the
// same coercion is tried once on def, and a nil def yields no value. A parsed
// value has its zone replaced by loc, keeping the wall clock. A nil loc means
// time.Local.
func ToDatetime(value, def interface{}, loc *time.Location) (time.Time, bool) {
	switch v := value.(type) {
	case time.Time:
		if !v.IsZero() {
			return v, true
		}
	case *time.Time:
		if v != nil && !v.IsZero() {
			return *v, true
		}
	}

	t, ok := ParseDate(value)
	if !ok {
		if def == nil {
			return time.Time{}, false
		}
		return ToDatetime(def, nil, loc)
	}

	if loc == nil {
		loc = time.Local
	}
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), loc), true
}
