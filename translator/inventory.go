package translator

import (
	"github.com/maxpert/topocorr/item"
)

// newInventory renders like "nt" and adds the members' inventory to nodes
func newInventory(kind item.CorrelationKind) (Translator, error) {
	base, err := newNetworkTopology(kind)
	if err != nil || kind != item.Node {
		return base, err
	}
	return TranslatorFunc(func(w *item.OverlayItemWrapper) (map[string]any, error) {
		out, err := base.Translate(w)
		if err != nil {
			return nil, err
		}
		inv := make([]any, 0)
		for _, m := range w.Members() {
			if m.Complete() && m.Inventory != nil {
				inv = append(inv, map[string]any{
					"topology-ref": m.TopologyID,
					"node-ref":     m.ItemID,
					"data":         m.Inventory,
				})
			}
		}
		out["inventory"] = inv
		return out, nil
	}), nil
}
