package forms

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseNumber converts a raw input value into a finite float64.
//
// Numbers of any Go numeric kind are accepted, as are strings holding a
// decimal number. Everything else, including NaN and infinities, fails.
func ParseNumber(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int8:
		f = float64(v)
	case int16:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case uint:
		f = float64(v)
	case uint8:
		f = float64(v)
	case uint16:
		f = float64(v)
	case uint32:
		f = float64(v)
	case uint64:
		f = float64(v)
	case json.Number:
		var err error
		if f, err = v.Float64(); err != nil {
			return 0, false
		}
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, false
		}
		var err error
		if f, err = strconv.ParseFloat(s, 64); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseBool converts a raw YES_NO input into a bool. It accepts booleans, the
// numbers 1 and 0 and the strings true/false/yes/no/1/0 in any case.
func ParseBool(raw any) (bool, bool) {
	switch v := raw.(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
		return false, false
	}
	if f, ok := ParseNumber(raw); ok {
		switch f {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	}
	return false, false
}

// isEmpty reports whether raw counts as "no value".
func isEmpty(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}

// textOf returns the textual form of a TEXT input. Strings pass through and
// numbers are formatted in their shortest form.
func textOf(raw any) (string, bool) {
	if s, ok := raw.(string); ok {
		return s, true
	}
	if f, ok := ParseNumber(raw); ok {
		return strconv.FormatFloat(f, 'f', -1, 64), true
	}
	return "", false
}

// valuesEqual compares two raw values after normalization: empty values are
// equal to each other, booleans compare against their string and numeric
// forms, numbers compare numerically and everything else textually.
func valuesEqual(a, b any) bool {
	if isEmpty(a) || isEmpty(b) {
		return isEmpty(a) && isEmpty(b)
	}
	if ab, ok := a.(bool); ok {
		bb, ok := ParseBool(b)
		return ok && ab == bb
	}
	if bb, ok := b.(bool); ok {
		ab, ok := ParseBool(a)
		return ok && ab == bb
	}
	if an, ok := ParseNumber(a); ok {
		if bn, ok := ParseNumber(b); ok {
			return an == bn
		}
	}
	return fmt.Sprint(a) == fmt.Sprint(b)
}
