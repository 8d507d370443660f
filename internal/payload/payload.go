// Package payload provides tolerant coercion helpers for the loosely typed
// JSON payloads carried by event rows. Producers differ in how they encode
// numbers and timestamps; consumers must not fail on shape drift.
package payload

import (
	"strconv"
	"strings"
	"time"
)

// Float coerces a JSON value to float64. Lists yield their first element.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case []any:
		if len(x) == 0 {
			return 0, false
		}
		return Float(x[0])
	}
	return 0, false
}

// Floats coerces a JSON value to a float slice, skipping bad elements.
func Floats(v any) []float64 {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(list))
	for _, e := range list {
		if f, ok := Float(e); ok {
			out = append(out, f)
		}
	}
	return out
}

// String coerces a JSON value to a trimmed string.
func String(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

// Bool coerces a JSON value to bool, accepting 0/1 and "true"/"1".
func Bool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case int:
		return x != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "1" || s == "true" || s == "yes" || s == "y" || s == "on"
	}
	return false
}

// tsLayouts are the timestamp shapes observed across recorder payloads.
var tsLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006/01/02 15:04:05.999999",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04:05",
}

// Time parses a timestamp-like value. A trailing Z is treated as UTC.
func Time(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range tsLayouts {
			if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
				return t, true
			}
		}
		return time.Time{}, false
	case float64:
		// epoch seconds
		if x <= 0 {
			return time.Time{}, false
		}
		sec := int64(x)
		nsec := int64((x - float64(sec)) * 1e9)
		return time.Unix(sec, nsec), true
	}
	return time.Time{}, false
}
