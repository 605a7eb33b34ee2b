package operator

import (
	"fmt"
	"sync"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/item"
	"github.com/maxpert/topocorr/store"
	"github.com/rs/zerolog"
)

// group is one OverlayItem together with its wrapper and member keys
type group struct {
	overlay *item.OverlayItem
	wrapper *item.OverlayItemWrapper
	keys    map[*item.UnderlayItem]Key
	hash    uint64
	hashed  bool
}

func (g *group) anchorKey(except *item.UnderlayItem) (Key, bool) {
	for _, m := range g.overlay.Members() {
		if m != except {
			return g.keys[m], true
		}
	}
	return Key{}, false
}

// Aggregator groups underlay items whose matching keys match into shared
// overlay items. Each stored item belongs to at most one group.
type Aggregator struct {
	cfg     Config
	emit    emitter
	logger  zerolog.Logger
	fields  []item.Field
	matcher Matcher
	hasher  HashMatcher

	// aggregateInside allows two members from the same underlay topology
	aggregateInside bool

	mu     sync.Mutex
	stores *store.Stores
	groups map[string]*group
	order  []*group
	index  map[uint64][]*group
}

// NewAggregator creates an aggregator keyed on the configured paths
func NewAggregator(c Config, agg cfg.AggregationConfiguration) (*Aggregator, error) {
	c, logger := c.withDefaults("aggregator")
	if c.Output == nil {
		return nil, fmt.Errorf("aggregator: output is required")
	}
	if len(agg.Paths) == 0 {
		return nil, fmt.Errorf("aggregator: at least one matching key path is required")
	}
	ex := c.Extractor
	if ex == nil {
		ex = item.NewExtractor()
		c.Extractor = ex
	}

	fields := make([]item.Field, 0, len(agg.Paths))
	for _, p := range agg.Paths {
		f, err := ex.Register(p)
		if err != nil {
			return nil, fmt.Errorf("aggregator: bad key path %q: %w", p, err)
		}
		fields = append(fields, f)
	}

	m, err := NewMatcher(agg, logger)
	if err != nil {
		return nil, fmt.Errorf("aggregator: %w", err)
	}

	a := &Aggregator{
		cfg:             c,
		emit:            emitter{topology: c.Topology, out: c.Output},
		logger:          logger,
		fields:          fields,
		matcher:         m,
		aggregateInside: agg.AggregateInside,
		stores:          store.NewStores(),
		groups:          make(map[string]*group),
		index:           make(map[uint64][]*group),
	}
	a.hasher, _ = m.(HashMatcher)
	return a, nil
}

// Stores exposes the aggregator's underlay state for read-only inspection
func (a *Aggregator) Stores() *store.Stores {
	return a.stores
}

// Wrappers returns the live wrappers in creation order
func (a *Aggregator) Wrappers() []*item.OverlayItemWrapper {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*item.OverlayItemWrapper, 0, len(a.order))
	for _, g := range a.order {
		out = append(out, g.wrapper)
	}
	return out
}

// ProcessCreated implements Operator. A create for a known key is an update.
func (a *Aggregator) ProcessCreated(key string, u *item.UnderlayItem, topologyID string) {
	if u == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.stores.For(topologyID)
	if prev, ok := st.Get(key); ok {
		a.update(prev, u)
		return
	}
	adopt(u, topologyID)
	populate(a.cfg.Extractor, u)
	st.Put(key, u)
	a.place(u)
}

// ProcessUpdated implements Operator. An update for an unknown key is a create.
func (a *Aggregator) ProcessUpdated(key string, u *item.UnderlayItem, topologyID string) {
	if u == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.stores.For(topologyID)
	prev, ok := st.Get(key)
	if !ok {
		adopt(u, topologyID)
		populate(a.cfg.Extractor, u)
		st.Put(key, u)
		a.place(u)
		return
	}
	a.update(prev, u)
}

// ProcessRemoved implements Operator
func (a *Aggregator) ProcessRemoved(keys []string, topologyID string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	st, ok := a.stores.Lookup(topologyID)
	if !ok {
		return
	}
	for _, key := range keys {
		u, ok := st.Remove(key)
		if !ok {
			continue
		}
		if g := a.groups[u.OverlayID]; g != nil {
			a.leave(g, u)
		}
	}
}

func (a *Aggregator) update(prev, incoming *item.UnderlayItem) {
	prev.Merge(incoming)
	populate(a.cfg.Extractor, prev)

	g := a.groups[prev.OverlayID]
	if g == nil {
		a.place(prev)
		return
	}

	k, ok := extractKey(a.fields, prev)
	if !ok {
		// merges never drop data, so a grouped item keeps its key
		a.emit.update(g.wrapper)
		return
	}
	if old := g.keys[prev]; old.Canonical == k.Canonical {
		a.emit.update(g.wrapper)
		return
	}

	if anchor, others := g.anchorKey(prev); others {
		if a.matcher.Match(k, anchor) {
			g.keys[prev] = k
			a.emit.update(g.wrapper)
			return
		}
		a.leave(g, prev)
		a.place(prev)
		return
	}

	// sole member: keep the wrapper unless another group now matches
	if target := a.find(prev, k, g); target != nil {
		a.leave(g, prev)
		a.join(target, prev, k)
		return
	}
	g.keys[prev] = k
	a.reindex(g, k)
	a.emit.update(g.wrapper)
}

// place puts a stored, ungrouped item into a group if it is aggregable
func (a *Aggregator) place(u *item.UnderlayItem) {
	if !u.Complete() {
		return
	}
	k, ok := extractKey(a.fields, u)
	if !ok {
		a.logger.Debug().Str("item", u.ItemID).Str("underlay", u.TopologyID).Msg("Matching key missing, item not grouped yet")
		return
	}
	if g := a.find(u, k, nil); g != nil {
		a.join(g, u, k)
		return
	}

	w := item.NewOverlayItemWrapper(a.cfg.IDs.Next(a.cfg.Kind))
	g := &group{
		overlay: item.NewOverlayItem(w.ID, a.cfg.Kind),
		wrapper: w,
		keys:    make(map[*item.UnderlayItem]Key),
	}
	w.AddOverlayItem(g.overlay)
	g.overlay.Add(u)
	g.keys[u] = k
	a.groups[w.ID] = g
	a.order = append(a.order, g)
	a.reindex(g, k)
	a.emit.add(w)
}

func (a *Aggregator) join(g *group, u *item.UnderlayItem, k Key) {
	g.overlay.Add(u)
	g.keys[u] = k
	a.emit.update(g.wrapper)
}

func (a *Aggregator) leave(g *group, u *item.UnderlayItem) {
	g.overlay.Remove(u)
	delete(g.keys, u)
	if !g.overlay.Empty() {
		a.emit.update(g.wrapper)
		return
	}
	a.drop(g)
	a.emit.remove(g.wrapper)
}

// find returns the oldest group, other than skip, that admits u with key k
func (a *Aggregator) find(u *item.UnderlayItem, k Key, skip *group) *group {
	candidates := a.order
	if a.hasher != nil {
		candidates = a.index[a.hasher.Hash(k)]
	}
	for _, g := range candidates {
		if g == skip || !a.admits(g, u) {
			continue
		}
		anchor, ok := g.anchorKey(u)
		if ok && a.matcher.Match(k, anchor) {
			return g
		}
	}
	return nil
}

func (a *Aggregator) admits(g *group, u *item.UnderlayItem) bool {
	if a.aggregateInside {
		return true
	}
	for _, m := range g.overlay.Members() {
		if m != u && m.TopologyID == u.TopologyID {
			return false
		}
	}
	return true
}

func (a *Aggregator) reindex(g *group, k Key) {
	if a.hasher == nil {
		return
	}
	a.unindex(g)
	g.hash = a.hasher.Hash(k)
	g.hashed = true
	a.index[g.hash] = append(a.index[g.hash], g)
}

func (a *Aggregator) unindex(g *group) {
	if !g.hashed {
		return
	}
	bucket := a.index[g.hash]
	for i, other := range bucket {
		if other == g {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(a.index, g.hash)
	} else {
		a.index[g.hash] = bucket
	}
	g.hashed = false
}

func (a *Aggregator) drop(g *group) {
	a.unindex(g)
	delete(a.groups, g.wrapper.ID)
	for i, other := range a.order {
		if other == g {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}
