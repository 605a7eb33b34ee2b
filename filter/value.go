package filter

import (
	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/item"
	"github.com/rs/zerolog"
)

// ValueFiltrator keeps items whose leaf equals a configured value
type ValueFiltrator struct {
	field item.Field
	value string
}

func newValueFiltrator(conf cfg.FilterConfiguration, field item.Field, _ zerolog.Logger) (Filtrator, error) {
	if conf.Value == nil {
		return nil, configError(conf.Kind, "value is required", nil)
	}
	return &ValueFiltrator{field: field, value: *conf.Value}, nil
}

// IsFiltered implements Filtrator
func (f *ValueFiltrator) IsFiltered(u *item.UnderlayItem) bool {
	v, ok := f.field.Value(u)
	if !ok {
		return true
	}
	return stringForm(v) != f.value
}

// RangeNumberFiltrator keeps items whose numeric leaf lies in [min, max]
type RangeNumberFiltrator struct {
	field    item.Field
	min, max int64
}

func newRangeNumberFiltrator(conf cfg.FilterConfiguration, field item.Field, _ zerolog.Logger) (Filtrator, error) {
	if conf.Min == nil || conf.Max == nil {
		return nil, configError(conf.Kind, "min and max are required", nil)
	}
	lo, ok := toInt64(*conf.Min)
	if !ok {
		return nil, configError(conf.Kind, "min is not an integer: "+*conf.Min, nil)
	}
	hi, ok := toInt64(*conf.Max)
	if !ok {
		return nil, configError(conf.Kind, "max is not an integer: "+*conf.Max, nil)
	}
	if lo > hi {
		return nil, configError(conf.Kind, "min is greater than max", nil)
	}
	return &RangeNumberFiltrator{field: field, min: lo, max: hi}, nil
}

// IsFiltered implements Filtrator
func (f *RangeNumberFiltrator) IsFiltered(u *item.UnderlayItem) bool {
	v, ok := f.field.Value(u)
	if !ok {
		return true
	}
	n, ok := toInt64(v)
	if !ok {
		return true
	}
	return n < f.min || n > f.max
}

// RangeStringFiltrator keeps items whose leaf lies in [min, max] by code point order
type RangeStringFiltrator struct {
	field    item.Field
	min, max string
}

func newRangeStringFiltrator(conf cfg.FilterConfiguration, field item.Field, _ zerolog.Logger) (Filtrator, error) {
	if conf.Min == nil || conf.Max == nil {
		return nil, configError(conf.Kind, "min and max are required", nil)
	}
	if *conf.Min > *conf.Max {
		return nil, configError(conf.Kind, "min is greater than max", nil)
	}
	return &RangeStringFiltrator{field: field, min: *conf.Min, max: *conf.Max}, nil
}

// IsFiltered implements Filtrator
func (f *RangeStringFiltrator) IsFiltered(u *item.UnderlayItem) bool {
	v, ok := f.field.Value(u)
	if !ok {
		return true
	}
	s := stringForm(v)
	return s < f.min || s > f.max
}
