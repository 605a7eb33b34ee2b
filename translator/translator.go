// Package translator renders overlay item wrappers into the value written
// for them. Translators are pure: the same wrapper always yields the same
// value.
package translator

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/maxpert/topocorr/item"
)

// ErrNoMembers is returned for a wrapper without any complete member
var ErrNoMembers = errors.New("overlay item has no complete members")

// Translator converts a wrapper into its output value
type Translator interface {
	Translate(w *item.OverlayItemWrapper) (map[string]any, error)
}

// Factory creates a translator for one correlation kind
type Factory func(kind item.CorrelationKind) (Translator, error)

var (
	factories = make(map[string]Factory)
	factoryMu sync.RWMutex
)

func init() {
	Register("nt", newNetworkTopology)
	Register("inventory", newInventory)
}

// Register registers a translator factory for an output model
func Register(model string, factory Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[model] = factory
}

// Models returns the registered output models in lexical order
func Models() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(factories))
	for m := range factories {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

// New creates the translator for model and kind; empty model means "nt"
func New(model string, kind item.CorrelationKind) (Translator, error) {
	if model == "" {
		model = "nt"
	}
	factoryMu.RLock()
	factory, exists := factories[model]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown output model: %s", model)
	}
	return factory(kind)
}

// TranslatorFunc adapts a function to Translator
type TranslatorFunc func(w *item.OverlayItemWrapper) (map[string]any, error)

func (f TranslatorFunc) Translate(w *item.OverlayItemWrapper) (map[string]any, error) {
	return f(w)
}

// complete returns the wrapper's complete members in FIFO order
func complete(w *item.OverlayItemWrapper) ([]*item.UnderlayItem, error) {
	if w == nil {
		return nil, ErrNoMembers
	}
	var out []*item.UnderlayItem
	for _, m := range w.Members() {
		if m.Complete() {
			out = append(out, m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("translate %s: %w", w.ID, ErrNoMembers)
	}
	return out, nil
}
