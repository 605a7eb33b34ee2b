package item

// UnderlayItem is one raw item observed in an underlay topology.
//
// Item and Inventory are owned by the UnderlayItem. OverlayID is a weak
// reference to the containing OverlayItem; it is resolved through the
// operator's group index and never dereferenced directly.
type UnderlayItem struct {
	Item      map[string]any // topology-native payload, nil until populated
	Inventory map[string]any // cross-referenced augmentation, nil until populated
	Leaf      map[int]any    // extracted target fields keyed by Field.Index

	TopologyID string
	ItemID     string
	Kind       CorrelationKind

	// NeedsInventory marks items that are only complete once Inventory arrived
	NeedsInventory bool

	OverlayID string
}

// NewUnderlayItem creates an item carrying the topology-native payload
func NewUnderlayItem(payload map[string]any, topologyID, itemID string, kind CorrelationKind) *UnderlayItem {
	return &UnderlayItem{
		Item:       payload,
		Leaf:       make(map[int]any),
		TopologyID: topologyID,
		ItemID:     itemID,
		Kind:       kind,
	}
}

// Complete reports whether both halves of the item have arrived.
// Partial items are stored but never grouped or translated.
func (u *UnderlayItem) Complete() bool {
	if u.Item == nil {
		return false
	}
	return !u.NeedsInventory || u.Inventory != nil
}

// Merge folds the non-nil fields of incoming into u. Nothing already known
// is ever erased: nested maps merge key by key, absent keys are kept.
func (u *UnderlayItem) Merge(incoming *UnderlayItem) {
	if incoming == nil || incoming == u {
		return
	}
	if incoming.Item != nil {
		u.Item = mergeMaps(u.Item, incoming.Item)
	}
	if incoming.Inventory != nil {
		u.Inventory = mergeMaps(u.Inventory, incoming.Inventory)
	}
	if len(incoming.Leaf) > 0 {
		if u.Leaf == nil {
			u.Leaf = make(map[int]any, len(incoming.Leaf))
		}
		for idx, v := range incoming.Leaf {
			if v != nil {
				u.Leaf[idx] = v
			}
		}
	}
	if incoming.NeedsInventory {
		u.NeedsInventory = true
	}
	if u.ItemID == "" {
		u.ItemID = incoming.ItemID
	}
	if u.TopologyID == "" {
		u.TopologyID = incoming.TopologyID
	}
}

// mergeMaps deep-merges src into dst and returns dst (allocating it if nil)
func mergeMaps(dst, src map[string]any) map[string]any {
	if dst == nil {
		dst = make(map[string]any, len(src))
	}
	for k, v := range src {
		if v == nil {
			continue
		}
		srcChild, srcIsMap := v.(map[string]any)
		dstChild, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			dst[k] = mergeMaps(dstChild, srcChild)
			continue
		}
		if srcIsMap {
			dst[k] = mergeMaps(nil, srcChild)
			continue
		}
		dst[k] = v
	}
	return dst
}

// Clone returns a deep copy of u without its group back-reference
func (u *UnderlayItem) Clone() *UnderlayItem {
	c := &UnderlayItem{
		TopologyID:     u.TopologyID,
		ItemID:         u.ItemID,
		Kind:           u.Kind,
		NeedsInventory: u.NeedsInventory,
	}
	if u.Item != nil {
		c.Item = mergeMaps(nil, u.Item)
	}
	if u.Inventory != nil {
		c.Inventory = mergeMaps(nil, u.Inventory)
	}
	c.Leaf = make(map[int]any, len(u.Leaf))
	for k, v := range u.Leaf {
		c.Leaf[k] = v
	}
	return c
}
