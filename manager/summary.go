package manager

import (
	"sort"

	"github.com/maxpert/topocorr/writer"
)

// UnderlaySummary describes one underlay topology feeding an overlay
type UnderlaySummary struct {
	TopologyID string `json:"topology_id"`
	Inventory  bool   `json:"inventory"`
	Items      int    `json:"items"`
}

// Summary is a point-in-time view of one topology pipeline
type Summary struct {
	Name            string            `json:"name"`
	Kind            string            `json:"kind"`
	OutputModel     string            `json:"output_model"`
	Root            string            `json:"root"`
	Running         bool              `json:"running"`
	Underlay        []UnderlaySummary `json:"underlay"`
	OverlayItems    int               `json:"overlay_items"`
	TranslateErrors uint64            `json:"translate_errors"`
	WriteErrors     uint64            `json:"write_errors"`
	Writer          writer.Stats      `json:"writer"`
}

// UnderlayDetail lists the item keys held for one underlay topology
type UnderlayDetail struct {
	TopologyID string   `json:"topology_id"`
	Keys       []string `json:"keys"`
}

// Summary returns the current state of the pipeline
func (m *TopologyManager) Summary() Summary {
	model := m.conf.OutputModel
	if model == "" {
		model = "nt"
	}
	s := Summary{
		Name:            m.name,
		Kind:            m.kind.String(),
		OutputModel:     model,
		Root:            m.writer.Root(),
		Running:         m.started.Load(),
		OverlayItems:    m.live.Size(),
		TranslateErrors: m.translateErrors.Load(),
		WriteErrors:     m.writeErrors.Load(),
		Writer:          m.writer.Stats(),
	}
	for _, u := range m.conf.Underlay {
		us := UnderlaySummary{TopologyID: u.TopologyID, Inventory: u.Inventory}
		if st, ok := m.stores.Lookup(u.TopologyID); ok {
			us.Items = st.Len()
		}
		s.Underlay = append(s.Underlay, us)
	}
	return s
}

// Underlay returns the keys stored for an underlay topology of this overlay
func (m *TopologyManager) Underlay(topologyID string) (UnderlayDetail, bool) {
	declared := false
	for _, u := range m.conf.Underlay {
		if u.TopologyID == topologyID {
			declared = true
			break
		}
	}
	if !declared {
		return UnderlayDetail{}, false
	}

	d := UnderlayDetail{TopologyID: topologyID, Keys: []string{}}
	if st, ok := m.stores.Lookup(topologyID); ok {
		d.Keys = st.Keys()
	}
	return d, true
}

// OverlayIDs returns the output ids of every live overlay item
func (m *TopologyManager) OverlayIDs() []string {
	out := make([]string, 0, m.live.Size())
	m.live.Range(func(_ string, outID string) bool {
		out = append(out, outID)
		return true
	})
	sort.Strings(out)
	return out
}
