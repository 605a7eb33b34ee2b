package operator

import (
	"sync"

	"github.com/maxpert/topocorr/filter"
	"github.com/maxpert/topocorr/item"
	"github.com/maxpert/topocorr/telemetry"
)

// PreAggregationFiltrator forwards only items that pass its filter to the
// next operator. It remembers which keys it forwarded so a later update can
// withdraw or introduce an item downstream.
type PreAggregationFiltrator struct {
	topology string
	filter   filter.Filtrator
	next     Operator

	mu        sync.Mutex
	items     map[string]map[string]*item.UnderlayItem
	forwarded map[string]map[string]struct{}
}

// NewPreAggregationFiltrator wraps next with filtration
func NewPreAggregationFiltrator(topology string, f filter.Filtrator, next Operator) *PreAggregationFiltrator {
	if f == nil {
		f = filter.All()
	}
	return &PreAggregationFiltrator{
		topology:  topology,
		filter:    f,
		next:      next,
		items:     make(map[string]map[string]*item.UnderlayItem),
		forwarded: make(map[string]map[string]struct{}),
	}
}

// ProcessCreated implements Operator
func (p *PreAggregationFiltrator) ProcessCreated(key string, u *item.UnderlayItem, topologyID string) {
	p.route(key, u, topologyID)
}

// ProcessUpdated implements Operator
func (p *PreAggregationFiltrator) ProcessUpdated(key string, u *item.UnderlayItem, topologyID string) {
	p.route(key, u, topologyID)
}

// ProcessRemoved implements Operator
func (p *PreAggregationFiltrator) ProcessRemoved(keys []string, topologyID string) {
	p.mu.Lock()
	var withdraw []string
	for _, key := range keys {
		delete(p.items[topologyID], key)
		if _, ok := p.forwarded[topologyID][key]; ok {
			delete(p.forwarded[topologyID], key)
			withdraw = append(withdraw, key)
		}
	}
	p.mu.Unlock()

	if len(withdraw) > 0 {
		p.next.ProcessRemoved(withdraw, topologyID)
	}
}

// route evaluates the merged view of an item; the filter must see the whole
// item, not just the partial update
func (p *PreAggregationFiltrator) route(key string, u *item.UnderlayItem, topologyID string) {
	if u == nil {
		return
	}

	p.mu.Lock()
	byKey := p.items[topologyID]
	if byKey == nil {
		byKey = make(map[string]*item.UnderlayItem)
		p.items[topologyID] = byKey
	}
	view, known := byKey[key]
	if !known {
		view = &item.UnderlayItem{TopologyID: topologyID, ItemID: u.ItemID, Kind: u.Kind}
		byKey[key] = view
	}
	view.Merge(u)

	fwd := p.forwarded[topologyID]
	if fwd == nil {
		fwd = make(map[string]struct{})
		p.forwarded[topologyID] = fwd
	}
	_, wasForwarded := fwd[key]
	passes := view.Complete() && !p.filter.IsFiltered(view)
	if passes {
		fwd[key] = struct{}{}
	} else {
		delete(fwd, key)
	}
	p.mu.Unlock()

	switch {
	case passes && wasForwarded:
		p.next.ProcessUpdated(key, u, topologyID)
	case passes:
		p.next.ProcessCreated(key, view.Clone(), topologyID)
	case wasForwarded:
		telemetry.FilteredItemsTotal.With(p.topology).Inc()
		p.next.ProcessRemoved([]string{key}, topologyID)
	default:
		if view.Complete() {
			telemetry.FilteredItemsTotal.With(p.topology).Inc()
		}
	}
}
