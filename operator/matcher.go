package operator

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/cespare/xxhash/v2"
	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/filter"
	"github.com/maxpert/topocorr/item"
	"github.com/rs/zerolog"
)

// Key is the matching key extracted from one underlay item
type Key struct {
	Values    []any
	Canonical string
}

// Value returns the single key value, or the value list for composite keys
func (k Key) Value() any {
	if len(k.Values) == 1 {
		return k.Values[0]
	}
	return k.Values
}

// extractKey reads every key field from u. The key is absent unless all
// fields are present.
func extractKey(fields []item.Field, u *item.UnderlayItem) (Key, bool) {
	if len(fields) == 0 {
		return Key{}, false
	}
	k := Key{Values: make([]any, 0, len(fields))}
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		v, ok := f.Value(u)
		if !ok || v == nil {
			return Key{}, false
		}
		k.Values = append(k.Values, v)
		parts = append(parts, canonical(v))
	}
	k.Canonical = strings.Join(parts, "\x1f")
	return k, true
}

func canonical(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	default:
		return fmt.Sprint(v)
	}
}

// Matcher decides whether a candidate key joins a group whose anchor has
// the given key
type Matcher interface {
	Match(candidate, anchor Key) bool
}

// HashMatcher is a Matcher whose matches always share a hash, letting the
// aggregator look groups up instead of scanning them
type HashMatcher interface {
	Matcher
	Hash(k Key) uint64
}

// EqualityMatcher matches identical canonical keys
type EqualityMatcher struct{}

func (EqualityMatcher) Hash(k Key) uint64 {
	return xxhash.Sum64String(k.Canonical)
}

func (EqualityMatcher) Match(candidate, anchor Key) bool {
	return candidate.Canonical == anchor.Canonical
}

// RangeMatcher matches numeric keys within Tolerance of the anchor. Only the
// first key value is compared; non-numeric keys never match.
type RangeMatcher struct {
	Tolerance float64
}

func (m RangeMatcher) Match(candidate, anchor Key) bool {
	a, ok := numeric(candidate)
	if !ok {
		return false
	}
	b, ok := numeric(anchor)
	if !ok {
		return false
	}
	return math.Abs(a-b) <= m.Tolerance
}

func numeric(k Key) (float64, bool) {
	if len(k.Values) == 0 {
		return 0, false
	}
	switch t := k.Values[0].(type) {
	case int:
		return float64(t), true
	case int8:
		return float64(t), true
	case int16:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint8:
		return float64(t), true
	case uint16:
		return float64(t), true
	case uint32:
		return float64(t), true
	case uint64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

// ScriptMatcher evaluates a boolean expression over a (the candidate key)
// and b (the anchor key). Evaluation errors never match.
type ScriptMatcher struct {
	program filter.ScriptProgram
	logger  zerolog.Logger
	failed  atomic.Bool
}

func (m *ScriptMatcher) Match(candidate, anchor Key) bool {
	ok, err := m.program.Eval(map[string]any{"a": candidate.Value(), "b": anchor.Value()})
	if err != nil {
		if m.failed.CompareAndSwap(false, true) {
			m.logger.Error().Err(err).Msg("Matcher script cannot compare keys; fix the aggregation configuration")
		}
		return false
	}
	return ok
}

// NewMatcher builds the matcher named by conf.Matcher; empty means equality
func NewMatcher(conf cfg.AggregationConfiguration, logger zerolog.Logger) (Matcher, error) {
	switch strings.ToLower(conf.Matcher) {
	case "", "equality":
		return EqualityMatcher{}, nil
	case "range":
		if conf.Tolerance < 0 {
			return nil, fmt.Errorf("range matcher: tolerance must not be negative, got %d", conf.Tolerance)
		}
		return RangeMatcher{Tolerance: float64(conf.Tolerance)}, nil
	case "script":
		if strings.TrimSpace(conf.Script) == "" {
			return nil, fmt.Errorf("script matcher: script is required")
		}
		prg, err := filter.CompileScript(conf.Language, conf.Script, "a", "b")
		if err != nil {
			return nil, fmt.Errorf("script matcher: %w", err)
		}
		return &ScriptMatcher{program: prg, logger: logger.With().Str("matcher", "script").Logger()}, nil
	}
	return nil, fmt.Errorf("unknown matcher %q", conf.Matcher)
}
