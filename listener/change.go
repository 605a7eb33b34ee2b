// Package listener adapts change records from an underlay topology feed into
// operator notifications.
package listener

// Action classifies what a change means for one item
type Action uint8

const (
	ActionCreate Action = iota
	ActionUpdate
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "create"
	case ActionUpdate:
		return "update"
	case ActionRemove:
		return "remove"
	}
	return "unknown"
}

// Change is one modification in an underlay topology tree. Path is the
// "/"-separated location of the modified subtree; Before and After are its
// values, nil when absent.
type Change struct {
	Path   string         `msgpack:"path" json:"path"`
	Before map[string]any `msgpack:"before,omitempty" json:"before,omitempty"`
	After  map[string]any `msgpack:"after,omitempty" json:"after,omitempty"`
}

// Classify derives what a change means for the item it touches. known
// reports whether the item was seen before; a Before image also marks the
// item as existing upstream.
func (c Change) Classify(known bool) Action {
	switch {
	case c.After == nil:
		return ActionRemove
	case known || c.Before != nil:
		return ActionUpdate
	}
	return ActionCreate
}
