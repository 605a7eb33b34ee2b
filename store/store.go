// Package store keeps the last known state of every underlay item, one
// TopologyStore per underlay topology.
package store

import (
	"sort"

	"github.com/maxpert/topocorr/item"
	"github.com/puzpuzpuz/xsync/v3"
)

// TopologyStore maps a structural item key to its current UnderlayItem.
// Writes come from a single operator; reads may run concurrently.
type TopologyStore struct {
	topologyID string
	items      *xsync.MapOf[string, *item.UnderlayItem]
}

// NewTopologyStore creates an empty store for topologyID
func NewTopologyStore(topologyID string) *TopologyStore {
	return &TopologyStore{
		topologyID: topologyID,
		items:      xsync.NewMapOf[string, *item.UnderlayItem](),
	}
}

// TopologyID returns the underlay topology the store belongs to
func (s *TopologyStore) TopologyID() string {
	return s.topologyID
}

// Get returns the item stored at key
func (s *TopologyStore) Get(key string) (*item.UnderlayItem, bool) {
	return s.items.Load(key)
}

// Put stores u at key and returns the previous item, if any
func (s *TopologyStore) Put(key string, u *item.UnderlayItem) (*item.UnderlayItem, bool) {
	prev, loaded := s.items.Load(key)
	s.items.Store(key, u)
	return prev, loaded
}

// Remove deletes key and returns the removed item
func (s *TopologyStore) Remove(key string) (*item.UnderlayItem, bool) {
	return s.items.LoadAndDelete(key)
}

// Len returns the number of stored items
func (s *TopologyStore) Len() int {
	return s.items.Size()
}

// Range calls fn for every stored item until fn returns false
func (s *TopologyStore) Range(fn func(key string, u *item.UnderlayItem) bool) {
	s.items.Range(fn)
}

// Keys returns the stored keys in lexical order
func (s *TopologyStore) Keys() []string {
	keys := make([]string, 0, s.items.Size())
	s.items.Range(func(k string, _ *item.UnderlayItem) bool {
		keys = append(keys, k)
		return true
	})
	sort.Strings(keys)
	return keys
}

// KeysWithPrefix returns the stored keys equal to prefix or below it in the
// key tree, in lexical order.
func (s *TopologyStore) KeysWithPrefix(prefix string) []string {
	var keys []string
	s.items.Range(func(k string, _ *item.UnderlayItem) bool {
		if k == prefix || (len(k) > len(prefix) && k[:len(prefix)] == prefix && k[len(prefix)] == '/') {
			keys = append(keys, k)
		}
		return true
	})
	sort.Strings(keys)
	return keys
}

// Stores holds one TopologyStore per underlay topology, created on demand
type Stores struct {
	byTopology *xsync.MapOf[string, *TopologyStore]
}

// NewStores creates an empty set of stores
func NewStores() *Stores {
	return &Stores{byTopology: xsync.NewMapOf[string, *TopologyStore]()}
}

// For returns the store for topologyID, creating it if needed
func (s *Stores) For(topologyID string) *TopologyStore {
	st, _ := s.byTopology.LoadOrCompute(topologyID, func() *TopologyStore {
		return NewTopologyStore(topologyID)
	})
	return st
}

// Lookup returns the store for topologyID without creating it
func (s *Stores) Lookup(topologyID string) (*TopologyStore, bool) {
	return s.byTopology.Load(topologyID)
}

// Topologies returns the known topology ids in lexical order
func (s *Stores) Topologies() []string {
	ids := make([]string, 0, s.byTopology.Size())
	s.byTopology.Range(func(k string, _ *TopologyStore) bool {
		ids = append(ids, k)
		return true
	})
	sort.Strings(ids)
	return ids
}

// Len returns the number of items across every store
func (s *Stores) Len() int {
	n := 0
	s.byTopology.Range(func(_ string, st *TopologyStore) bool {
		n += st.Len()
		return true
	})
	return n
}
