// Package operator turns create, update and remove notifications for
// underlay items into add, update and remove decisions for overlay items.
//
// Every operator owns its TopologyStores. Notifications for one underlay
// topology arrive sequentially, different topologies may arrive
// concurrently, so operators serialize access to their shared state.
package operator

import (
	"github.com/maxpert/topocorr/common"
	"github.com/maxpert/topocorr/id"
	"github.com/maxpert/topocorr/item"
	"github.com/maxpert/topocorr/telemetry"
	"github.com/rs/zerolog"
)

// Operator consumes underlay item notifications
type Operator interface {
	ProcessCreated(key string, u *item.UnderlayItem, topologyID string)
	ProcessUpdated(key string, u *item.UnderlayItem, topologyID string)
	ProcessRemoved(keys []string, topologyID string)
}

// Output receives overlay decisions
type Output interface {
	AddOverlayItem(w *item.OverlayItemWrapper)
	UpdateOverlayItem(w *item.OverlayItemWrapper)
	RemoveOverlayItem(w *item.OverlayItemWrapper)
}

// Config carries what every operator needs
type Config struct {
	// Topology is the overlay topology name, used for logs and metrics
	Topology string
	Kind     item.CorrelationKind
	IDs      id.Generator
	Output   Output

	// Extractor refreshes UnderlayItem.Leaf after merges; optional
	Extractor *item.Extractor
	Logger    *zerolog.Logger
}

func (c Config) withDefaults(component string) (Config, zerolog.Logger) {
	if c.IDs == nil {
		c.IDs = id.NewKindGenerator()
	}
	logger := common.ComponentLogger(c.Logger, component).With().Str("topology", c.Topology).Logger()
	return c, logger
}

// emitter forwards decisions to an Output and counts them
type emitter struct {
	topology string
	out      Output
}

func (e emitter) add(w *item.OverlayItemWrapper) {
	telemetry.OverlayDecisionsTotal.With(e.topology, "add").Inc()
	e.out.AddOverlayItem(w)
}

func (e emitter) update(w *item.OverlayItemWrapper) {
	telemetry.OverlayDecisionsTotal.With(e.topology, "update").Inc()
	e.out.UpdateOverlayItem(w)
}

func (e emitter) remove(w *item.OverlayItemWrapper) {
	telemetry.OverlayDecisionsTotal.With(e.topology, "remove").Inc()
	e.out.RemoveOverlayItem(w)
}

func populate(ex *item.Extractor, u *item.UnderlayItem) {
	if ex != nil {
		ex.Populate(u)
	}
}

func adopt(u *item.UnderlayItem, topologyID string) {
	if u.TopologyID == "" {
		u.TopologyID = topologyID
	}
}
