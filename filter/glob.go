package filter

import (
	"github.com/gobwas/glob"
	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/item"
	"github.com/rs/zerolog"
)

// GlobFiltrator keeps items whose leaf matches any configured glob pattern
type GlobFiltrator struct {
	field item.Field
	globs []glob.Glob
}

func newGlobFiltrator(conf cfg.FilterConfiguration, field item.Field, _ zerolog.Logger) (Filtrator, error) {
	if len(conf.Patterns) == 0 {
		return nil, configError(conf.Kind, "at least one pattern is required", nil)
	}

	f := &GlobFiltrator{
		field: field,
		globs: make([]glob.Glob, 0, len(conf.Patterns)),
	}
	for _, pattern := range conf.Patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, configError(conf.Kind, "invalid pattern "+pattern, err)
		}
		f.globs = append(f.globs, g)
	}
	return f, nil
}

// IsFiltered implements Filtrator
func (f *GlobFiltrator) IsFiltered(u *item.UnderlayItem) bool {
	v, ok := f.field.Value(u)
	if !ok {
		return true
	}
	s := stringForm(v)
	for _, g := range f.globs {
		if g.Match(s) {
			return false
		}
	}
	return true
}
