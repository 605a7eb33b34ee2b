package filter

import (
	"sync"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/item"
	"github.com/rs/zerolog"
)

// Factory builds a Filtrator for the given declaration. field is the leaf the
// filter examines, already registered in the pipeline's extractor.
type Factory func(conf cfg.FilterConfiguration, field item.Field, logger zerolog.Logger) (Filtrator, error)

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

func init() {
	Register("value", newValueFiltrator)
	Register("range-number", newRangeNumberFiltrator)
	Register("range-string", newRangeStringFiltrator)
	Register("ipv4", newIPv4Filtrator)
	Register("ipv6", newIPv6Filtrator)
	Register("script", newScriptFiltrator)
	Register("glob", newGlobFiltrator)
}

// Register registers a filter factory for a kind, replacing any previous one
func Register(kind string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[kind] = factory
}

// Kinds returns the registered filter kinds
func Kinds() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	return kinds
}

// New builds the filter described by conf. The path is registered in
// extractor so the listener pre-extracts it into UnderlayItem.Leaf.
func New(conf cfg.FilterConfiguration, extractor *item.Extractor, logger zerolog.Logger) (Filtrator, error) {
	factoryMu.RLock()
	factory, exists := factories[conf.Kind]
	factoryMu.RUnlock()

	if !exists {
		return nil, configError(conf.Kind, "unknown filter kind", nil)
	}
	if conf.Path == "" {
		return nil, configError(conf.Kind, "path is required", nil)
	}

	field, err := extractor.Register(conf.Path)
	if err != nil {
		return nil, configError(conf.Kind, "bad path", err)
	}

	return factory(conf, field, logger.With().Str("filter", conf.Kind).Str("path", field.Path.String()).Logger())
}

// NewChain builds every declared filter, failing on the first bad one
func NewChain(confs []cfg.FilterConfiguration, extractor *item.Extractor, logger zerolog.Logger) (Chain, error) {
	chain := make(Chain, 0, len(confs))
	for _, c := range confs {
		f, err := New(c, extractor, logger)
		if err != nil {
			return nil, err
		}
		chain = append(chain, f)
	}
	return chain, nil
}
