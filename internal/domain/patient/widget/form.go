// Package widget normalises the raw values submitted by the patient form
// widgets into structured field values.
//
// Submitted values arrive loosely typed: plain strings, lists of strings
// (hidden fields duplicated by the browser) or nested mappings. The helpers in
// this file are the only place that deals with that shape; the widgets work on
// already coerced values.
package widget

import (
	"net/url"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/cast"
)

// Messages carries validation messages produced while processing a widget.
// None of the current widgets produce any.
type Messages map[string]string

// Form is a submitted form keyed by field name.
type Form map[string]interface{}

// Get returns the raw value submitted for the named field.
func (f Form) Get(name string) interface{} {
	if f == nil {
		return nil
	}
	return f[name]
}

// FormFromValues builds a Form from url-encoded values. Keys of the form
// "field.sub" (optionally with a ":record" style suffix) are gathered into a
// nested mapping under "field"; a key submitted more than once becomes a list.
func FormFromValues(values url.Values) Form {
	form := Form{}
	for key, vals := range values {
		if i := strings.IndexByte(key, ':'); i >= 0 {
			key = key[:i]
		}
		var v interface{}
		switch len(vals) {
		case 0:
			continue
		case 1:
			v = vals[0]
		default:
			list := make([]interface{}, len(vals))
			for i, s := range vals {
				list[i] = s
			}
			v = list
		}

		field, sub, nested := strings.Cut(key, ".")
		if !nested {
			if _, exists := form[field]; !exists {
				form[field] = v
			}
			continue
		}
		record, ok := form[field].(map[string]interface{})
		if !ok {
			record = map[string]interface{}{}
			form[field] = record
		}
		record[sub] = v
	}
	return form
}

// first unwraps a list to its first element, or nil when it is empty.
func first(v interface{}) interface{} {
	switch s := v.(type) {
	case []interface{}:
		if len(s) == 0 {
			return nil
		}
		return s[0]
	case []string:
		if len(s) == 0 {
			return nil
		}
		return s[0]
	case []map[string]interface{}:
		if len(s) == 0 {
			return nil
		}
		return s[0]
	}
	return v
}

// mapping coerces v into a record. It reports false for anything that is not
// map shaped.
func mapping(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Form:
		return m, true
	case map[string]string:
		out := make(map[string]interface{}, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, true
	case map[interface{}]interface{}:
		out, err := cast.ToStringMapE(m)
		return out, err == nil
	}
	return nil, false
}

// str reads a record entry as text; nil and missing entries are
// empty.
func str(record map[string]interface{}, key string) string {
	v, ok := record[key]
	if !ok || v == nil {
		return ""
	}
	return cast.ToString(v)
}

// truthy mirrors the usual notion of an empty form value: nil, false, zero
// numbers, empty strings and empty collections are all falsy.
func truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case time.Time:
		return !t.IsZero()
	case *time.Time:
		return t != nil && !t.IsZero()
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return cast.ToFloat64(t) != 0
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array:
		return rv.Len() > 0
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	}
	return true
}

// asTime reports whether v is already a concrete date.
func asTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t != nil && !t.IsZero() {
			return *t, true
		}
	}
	return time.Time{}, false
}
