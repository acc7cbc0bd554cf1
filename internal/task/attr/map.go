package attr

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// IntUnset is returned by Map.Int when the value is empty or not a number.
const IntUnset = math.MinInt

// Epoch is the instant Map.Timestamp falls back to when a value cannot be parsed.
var Epoch = time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC)

// Map is a job's parameter map: attribute id to string value.
// A Map is owned by exactly one job and is not safe for concurrent writes.
type Map map[string]string

// Clone returns an independent copy of m (never nil).
func (m Map) Clone() Map {
	out := make(Map, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (m Map) String(key string) string { return m[key] }

func (m Map) Set(key, value string) { m[key] = value }

// Has reports whether key is present, even with an empty value.
func (m Map) Has(key string) bool {
	_, ok := m[key]
	return ok
}

// Bool parses key as a boolean; "yes" is accepted as true.
// Anything that does not parse is false.
func (m Map) Bool(key string) bool {
	v := strings.TrimSpace(m[key])
	if strings.EqualFold(v, "yes") {
		return true
	}
	b, _ := strconv.ParseBool(strings.ToLower(v))
	return b
}

// BoolOr is Bool but returns def when the value is empty.
func (m Map) BoolOr(key string, def bool) bool {
	if strings.TrimSpace(m[key]) == "" {
		return def
	}
	return m.Bool(key)
}

// Int parses key as an integer, returning IntUnset when empty or malformed.
func (m Map) Int(key string) int {
	v := strings.TrimSpace(m[key])
	if v == "" {
		return IntUnset
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return IntUnset
	}
	return n
}

// IntOr is Int but returns def instead of IntUnset.
func (m Map) IntOr(key string, def int) int {
	if n := m.Int(key); n != IntUnset {
		return n
	}
	return def
}

// Duration parses key as a Go duration, returning def when empty or malformed.
func (m Map) Duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(m[key])
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Timestamp parses key with layout (Go reference layout) and falls back to
// Epoch when the value is missing or does not match.
func (m Map) Timestamp(key, layout string) time.Time {
	v := strings.TrimSpace(m[key])
	if v == "" || layout == "" {
		return Epoch
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		return Epoch
	}
	return t
}

// SetTimestamp formats t with layout and stores it under key.
func (m Map) SetTimestamp(key, layout string, t time.Time) {
	m[key] = t.Format(layout)
}

// Keys returns the parameter names sorted.
func (m Map) Keys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Dump renders the map as "{k=v, ...}" with sorted keys, for diagnostics.
func (m Map) Dump() string {
	var b strings.Builder
	b.WriteString("{")
	for i, k := range m.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(m[k])
	}
	b.WriteString("}")
	return b.String()
}
