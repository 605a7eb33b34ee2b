package operator

import (
	"sync"

	"github.com/maxpert/topocorr/filter"
	"github.com/maxpert/topocorr/item"
	"github.com/maxpert/topocorr/telemetry"
)

// PostAggregationFiltrator is an Output decorator that shows an aggregated
// overlay item only while at least one of its complete members passes the
// filter.
type PostAggregationFiltrator struct {
	topology string
	filter   filter.Filtrator
	next     Output

	mu      sync.Mutex
	visible map[*item.OverlayItemWrapper]struct{}
}

// NewPostAggregationFiltrator wraps next with filtration of whole wrappers
func NewPostAggregationFiltrator(topology string, f filter.Filtrator, next Output) *PostAggregationFiltrator {
	if f == nil {
		f = filter.All()
	}
	return &PostAggregationFiltrator{
		topology: topology,
		filter:   f,
		next:     next,
		visible:  make(map[*item.OverlayItemWrapper]struct{}),
	}
}

func (p *PostAggregationFiltrator) AddOverlayItem(w *item.OverlayItemWrapper) {
	p.reevaluate(w)
}

func (p *PostAggregationFiltrator) UpdateOverlayItem(w *item.OverlayItemWrapper) {
	p.reevaluate(w)
}

func (p *PostAggregationFiltrator) RemoveOverlayItem(w *item.OverlayItemWrapper) {
	p.mu.Lock()
	_, shown := p.visible[w]
	delete(p.visible, w)
	p.mu.Unlock()

	if shown {
		p.next.RemoveOverlayItem(w)
	}
}

func (p *PostAggregationFiltrator) passes(w *item.OverlayItemWrapper) bool {
	for _, m := range w.Members() {
		if m.Complete() && !p.filter.IsFiltered(m) {
			return true
		}
	}
	return false
}

func (p *PostAggregationFiltrator) reevaluate(w *item.OverlayItemWrapper) {
	pass := p.passes(w)

	p.mu.Lock()
	_, shown := p.visible[w]
	if pass {
		p.visible[w] = struct{}{}
	} else {
		delete(p.visible, w)
	}
	p.mu.Unlock()

	switch {
	case pass && shown:
		p.next.UpdateOverlayItem(w)
	case pass:
		p.next.AddOverlayItem(w)
	case shown:
		telemetry.FilteredItemsTotal.With(p.topology).Inc()
		p.next.RemoveOverlayItem(w)
	default:
		telemetry.FilteredItemsTotal.With(p.topology).Inc()
	}
}
