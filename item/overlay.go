package item

// OverlayItem is a group of underlay items considered equivalent under a
// matching rule. It is garbage once its last member is removed.
type OverlayItem struct {
	ID      string
	Kind    CorrelationKind
	members []*UnderlayItem
}

// NewOverlayItem creates a group with the given initial members
func NewOverlayItem(id string, kind CorrelationKind, members ...*UnderlayItem) *OverlayItem {
	o := &OverlayItem{ID: id, Kind: kind}
	for _, m := range members {
		o.Add(m)
	}
	return o
}

// Add appends u as a member and points its back-reference at this group
func (o *OverlayItem) Add(u *UnderlayItem) {
	for _, m := range o.members {
		if m == u {
			return
		}
	}
	o.members = append(o.members, u)
	u.OverlayID = o.ID
}

// Remove drops u from the group, reporting whether it was a member
func (o *OverlayItem) Remove(u *UnderlayItem) bool {
	for i, m := range o.members {
		if m == u {
			o.members = append(o.members[:i], o.members[i+1:]...)
			if u.OverlayID == o.ID {
				u.OverlayID = ""
			}
			return true
		}
	}
	return false
}

// Members returns the members in insertion order
func (o *OverlayItem) Members() []*UnderlayItem {
	out := make([]*UnderlayItem, len(o.members))
	copy(out, o.members)
	return out
}

// Anchor returns the oldest member, or nil for an empty group
func (o *OverlayItem) Anchor() *UnderlayItem {
	if len(o.members) == 0 {
		return nil
	}
	return o.members[0]
}

func (o *OverlayItem) Len() int    { return len(o.members) }
func (o *OverlayItem) Empty() bool { return len(o.members) == 0 }

// HasTopology reports whether any member comes from the given underlay topology
func (o *OverlayItem) HasTopology(topologyID string) bool {
	for _, m := range o.members {
		if m.TopologyID == topologyID {
			return true
		}
	}
	return false
}

// OverlayItemWrapper is the externally visible overlay entity handed to
// translators and the writer. ID is assigned once and never changes.
type OverlayItemWrapper struct {
	ID    string
	Items []*OverlayItem

	// TerminationPoints optionally carries a pre-computed TP aggregate
	TerminationPoints []map[string]any
}

// NewOverlayItemWrapper wraps the given groups under a stable id
func NewOverlayItemWrapper(id string, items ...*OverlayItem) *OverlayItemWrapper {
	return &OverlayItemWrapper{ID: id, Items: items}
}

// AddOverlayItem appends a group at the back of the FIFO
func (w *OverlayItemWrapper) AddOverlayItem(o *OverlayItem) {
	w.Items = append(w.Items, o)
}

// RemoveOverlayItem removes a group, reporting whether it was present
func (w *OverlayItemWrapper) RemoveOverlayItem(o *OverlayItem) bool {
	for i, it := range w.Items {
		if it == o {
			w.Items = append(w.Items[:i], w.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Members flattens all groups' members in FIFO order
func (w *OverlayItemWrapper) Members() []*UnderlayItem {
	var out []*UnderlayItem
	for _, o := range w.Items {
		out = append(out, o.members...)
	}
	return out
}

// Kind returns the kind of the first group; wrappers never mix kinds
func (w *OverlayItemWrapper) Kind() CorrelationKind {
	if len(w.Items) == 0 {
		return Node
	}
	return w.Items[0].Kind
}

// Empty reports whether no group holds a member
func (w *OverlayItemWrapper) Empty() bool {
	for _, o := range w.Items {
		if !o.Empty() {
			return false
		}
	}
	return true
}
