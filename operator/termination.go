package operator

import (
	"fmt"
	"sync"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/id"
	"github.com/maxpert/topocorr/item"
)

// TerminationPointAggregator decorates an Output for node correlation. It
// folds the termination points of every member node into
// OverlayItemWrapper.TerminationPoints, one entry per TP key, before
// forwarding the decision.
type TerminationPointAggregator struct {
	next   Output
	ids    id.Generator
	list   *item.Path
	key    *item.Path
	mu     sync.Mutex
	tpByWr map[string]map[string]string
}

// NewTerminationPointAggregator wraps next
func NewTerminationPointAggregator(next Output, ids id.Generator, conf cfg.TerminationPointConfiguration) (*TerminationPointAggregator, error) {
	if next == nil {
		return nil, fmt.Errorf("termination points: output is required")
	}
	if ids == nil {
		ids = id.NewKindGenerator()
	}
	list, err := item.CompilePath(conf.Path)
	if err != nil {
		return nil, fmt.Errorf("termination points: bad path %q: %w", conf.Path, err)
	}
	key, err := item.CompilePath(conf.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("termination points: bad key path %q: %w", conf.KeyPath, err)
	}
	return &TerminationPointAggregator{
		next:   next,
		ids:    ids,
		list:   list,
		key:    key,
		tpByWr: make(map[string]map[string]string),
	}, nil
}

// AddOverlayItem implements Output
func (t *TerminationPointAggregator) AddOverlayItem(w *item.OverlayItemWrapper) {
	t.aggregate(w)
	t.next.AddOverlayItem(w)
}

// UpdateOverlayItem implements Output
func (t *TerminationPointAggregator) UpdateOverlayItem(w *item.OverlayItemWrapper) {
	t.aggregate(w)
	t.next.UpdateOverlayItem(w)
}

// RemoveOverlayItem implements Output
func (t *TerminationPointAggregator) RemoveOverlayItem(w *item.OverlayItemWrapper) {
	t.mu.Lock()
	delete(t.tpByWr, w.ID)
	t.mu.Unlock()
	t.next.RemoveOverlayItem(w)
}

func (t *TerminationPointAggregator) aggregate(w *item.OverlayItemWrapper) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.tpByWr[w.ID]
	if ids == nil {
		ids = make(map[string]string)
		t.tpByWr[w.ID] = ids
	}

	var order []string
	refs := make(map[string][]string)
	for _, m := range w.Members() {
		if !m.Complete() {
			continue
		}
		raw, ok := t.list.Lookup(m.Item)
		if !ok {
			continue
		}
		tps, ok := raw.([]any)
		if !ok {
			continue
		}
		for i, entry := range tps {
			tp, ok := entry.(map[string]any)
			if !ok {
				continue
			}
			kv, ok := t.key.Lookup(tp)
			if !ok || kv == nil {
				continue
			}
			k := canonical(kv)
			if _, seen := refs[k]; !seen {
				order = append(order, k)
			}
			refs[k] = append(refs[k], tpRef(m, tp, i))
		}
	}

	aggregated := make([]map[string]any, 0, len(order))
	for _, k := range order {
		tpID, ok := ids[k]
		if !ok {
			tpID = t.ids.Next(item.TerminationPoint)
			ids[k] = tpID
		}
		aggregated = append(aggregated, map[string]any{
			"tp-id":  tpID,
			"tp-ref": refs[k],
		})
	}
	w.TerminationPoints = aggregated
}

// tpRef points at one underlay termination point as topology/node/tp
func tpRef(node *item.UnderlayItem, tp map[string]any, index int) string {
	tpID := fmt.Sprint(index)
	if v, ok := tp["tp-id"]; ok && v != nil {
		tpID = canonical(v)
	}
	return node.TopologyID + "/" + node.ItemID + "/" + tpID
}
