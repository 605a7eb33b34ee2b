package operator

import (
	"fmt"
	"sync"

	"github.com/maxpert/topocorr/filter"
	"github.com/maxpert/topocorr/item"
	"github.com/maxpert/topocorr/store"
	"github.com/maxpert/topocorr/telemetry"
	"github.com/rs/zerolog"
)

// Filtrator is filtration without aggregation: every complete item that
// passes the filter becomes its own overlay item.
type Filtrator struct {
	cfg    Config
	emit   emitter
	filter filter.Filtrator
	logger zerolog.Logger

	mu       sync.Mutex
	stores   *store.Stores
	wrappers map[*item.UnderlayItem]*item.OverlayItemWrapper
}

// NewFiltrator creates a filtration-only operator
func NewFiltrator(c Config, f filter.Filtrator) (*Filtrator, error) {
	c, logger := c.withDefaults("filtrator")
	if c.Output == nil {
		return nil, fmt.Errorf("filtrator: output is required")
	}
	if f == nil {
		f = filter.All()
	}
	return &Filtrator{
		cfg:      c,
		emit:     emitter{topology: c.Topology, out: c.Output},
		filter:   f,
		logger:   logger,
		stores:   store.NewStores(),
		wrappers: make(map[*item.UnderlayItem]*item.OverlayItemWrapper),
	}, nil
}

// Stores exposes the operator's underlay state for read-only inspection
func (o *Filtrator) Stores() *store.Stores {
	return o.stores
}

// ProcessCreated implements Operator
func (o *Filtrator) ProcessCreated(key string, u *item.UnderlayItem, topologyID string) {
	if u == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	st := o.stores.For(topologyID)
	if prev, ok := st.Get(key); ok {
		o.reevaluate(prev, u)
		return
	}
	adopt(u, topologyID)
	populate(o.cfg.Extractor, u)
	st.Put(key, u)
	o.reevaluate(u, nil)
}

// ProcessUpdated implements Operator
func (o *Filtrator) ProcessUpdated(key string, u *item.UnderlayItem, topologyID string) {
	o.ProcessCreated(key, u, topologyID)
}

// ProcessRemoved implements Operator
func (o *Filtrator) ProcessRemoved(keys []string, topologyID string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	st, ok := o.stores.Lookup(topologyID)
	if !ok {
		return
	}
	for _, key := range keys {
		u, ok := st.Remove(key)
		if !ok {
			continue
		}
		if w, ok := o.wrappers[u]; ok {
			delete(o.wrappers, u)
			w.Items[0].Remove(u)
			o.emit.remove(w)
		}
	}
}

func (o *Filtrator) reevaluate(u, incoming *item.UnderlayItem) {
	if incoming != nil {
		u.Merge(incoming)
		populate(o.cfg.Extractor, u)
	}

	passes := u.Complete() && !o.filter.IsFiltered(u)
	w, had := o.wrappers[u]
	if u.Complete() && !passes {
		telemetry.FilteredItemsTotal.With(o.cfg.Topology).Inc()
	}

	switch {
	case passes && had:
		o.emit.update(w)
	case passes:
		w = item.NewOverlayItemWrapper(o.cfg.IDs.Next(o.cfg.Kind))
		w.AddOverlayItem(item.NewOverlayItem(w.ID, o.cfg.Kind, u))
		o.wrappers[u] = w
		o.emit.add(w)
	case had:
		delete(o.wrappers, u)
		w.Items[0].Remove(u)
		o.emit.remove(w)
	}
}
