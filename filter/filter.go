// Package filter implements the filtration predicates applied to underlay
// items before they take part in correlation.
//
// Every predicate examines one leaf value of an item, addressed by a
// configured path, and reports whether the item must be excluded. Predicates
// are built once from configuration through a factory registry (kind name ->
// constructor) and then reused for every incoming item. Construction is the
// only place configuration is checked; evaluation never fails, a value that
// cannot be interpreted simply excludes the item.
//
// Built-in kinds:
//
//	value         exact match on the value's string form
//	range-number  inclusive int64 range
//	range-string  inclusive lexicographic range
//	ipv4, ipv6    address prefix match
//	script        boolean expression (language "cel")
//	glob          glob pattern match
package filter

import (
	"fmt"
	"strconv"

	"github.com/maxpert/topocorr/item"
)

// Filtrator decides whether an underlay item is excluded
type Filtrator interface {
	// IsFiltered returns true when the item must be dropped
	IsFiltered(u *item.UnderlayItem) bool
}

// ConfigError reports an unusable filter declaration
type ConfigError struct {
	Kind   string
	Reason string
	Err    error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s filter: %s: %v", e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("invalid %s filter: %s", e.Kind, e.Reason)
}

func (e *ConfigError) Unwrap() error { return e.Err }

func configError(kind, reason string, err error) *ConfigError {
	return &ConfigError{Kind: kind, Reason: reason, Err: err}
}

// Chain excludes an item as soon as any member excludes it
type Chain []Filtrator

// All composes filters; an empty chain excludes nothing
func All(filters ...Filtrator) Chain {
	return Chain(filters)
}

// IsFiltered implements Filtrator
func (c Chain) IsFiltered(u *item.UnderlayItem) bool {
	for _, f := range c {
		if f.IsFiltered(u) {
			return true
		}
	}
	return false
}

// stringForm renders a leaf value the way the value filter compares it
func stringForm(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// toInt64 interprets a leaf value as a 64-bit integer
func toInt64(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int8:
		return int64(t), true
	case int16:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		if uint64(t) > 1<<63-1 {
			return 0, false
		}
		return int64(t), true
	case uint8:
		return int64(t), true
	case uint16:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		if t > 1<<63-1 {
			return 0, false
		}
		return int64(t), true
	case float64:
		if t != float64(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case float32:
		if t != float32(int64(t)) {
			return 0, false
		}
		return int64(t), true
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
