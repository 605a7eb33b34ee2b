package translator

import (
	"fmt"

	"github.com/maxpert/topocorr/item"
)

func newNetworkTopology(kind item.CorrelationKind) (Translator, error) {
	switch kind {
	case item.Node:
		return TranslatorFunc(translateNode), nil
	case item.Link:
		return TranslatorFunc(translateLink), nil
	case item.TerminationPoint:
		return TranslatorFunc(translateTerminationPoint), nil
	}
	return nil, fmt.Errorf("nt: unsupported kind %s", kind)
}

func translateNode(w *item.OverlayItemWrapper) (map[string]any, error) {
	members, err := complete(w)
	if err != nil {
		return nil, err
	}
	supporting := make([]any, 0, len(members))
	for _, m := range members {
		supporting = append(supporting, map[string]any{
			"topology-ref": m.TopologyID,
			"node-ref":     m.ItemID,
		})
	}
	tps := make([]any, 0, len(w.TerminationPoints))
	for _, tp := range w.TerminationPoints {
		tps = append(tps, tp)
	}
	return map[string]any{
		"node-id":           w.ID,
		"supporting-node":   supporting,
		"termination-point": tps,
	}, nil
}

func translateLink(w *item.OverlayItemWrapper) (map[string]any, error) {
	members, err := complete(w)
	if err != nil {
		return nil, err
	}
	supporting := make([]any, 0, len(members))
	for _, m := range members {
		supporting = append(supporting, map[string]any{
			"topology-ref": m.TopologyID,
			"link-ref":     m.ItemID,
		})
	}
	out := map[string]any{
		"link-id":         w.ID,
		"supporting-link": supporting,
	}
	first := members[0].Item
	for _, end := range []string{"source", "destination"} {
		if v, ok := first[end]; ok && v != nil {
			out[end] = v
		}
	}
	return out, nil
}

func translateTerminationPoint(w *item.OverlayItemWrapper) (map[string]any, error) {
	members, err := complete(w)
	if err != nil {
		return nil, err
	}
	refs := make([]any, 0, len(members))
	for _, m := range members {
		refs = append(refs, map[string]any{
			"topology-ref": m.TopologyID,
			"tp-ref":       m.ItemID,
		})
	}
	return map[string]any{
		"tp-id":  w.ID,
		"tp-ref": refs,
	}, nil
}
