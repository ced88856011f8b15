package schema

import (
	"strconv"
	"strings"
	"time"
)

// String returns opts[key] trimmed, or def when absent or blank.
func String(opts map[string]string, key, def string) string {
	if v, ok := present(opts, key); ok {
		return v
	}
	return def
}

// Int parses opts[key] as a base-10 integer within [min, max].
func Int(opts map[string]string, key string, def, min, max int) (int, error) {
	raw, ok := present(opts, key)
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &InvalidValueError{Key: key, Value: raw, Reason: "not an integer"}
	}
	if v < min || v > max {
		return 0, &InvalidValueError{Key: key, Value: raw, Reason: "out of range " + strconv.Itoa(min) + ".." + strconv.Itoa(max)}
	}
	return v, nil
}

// Bool parses opts[key] with strconv.ParseBool; "yes"/"no" are accepted too.
func Bool(opts map[string]string, key string, def bool) (bool, error) {
	raw, ok := present(opts, key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(raw) {
	case "yes", "y", "on":
		return true, nil
	case "no", "n", "off":
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, &InvalidValueError{Key: key, Value: raw, Reason: "not a boolean"}
	}
	return v, nil
}

// Duration reads an integer option expressed in unit.
func Duration(opts map[string]string, key string, def time.Duration, unit time.Duration, max int) (time.Duration, error) {
	if _, ok := present(opts, key); !ok {
		return def, nil
	}
	v, err := Int(opts, key, 0, 0, max)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * unit, nil
}
