package listener

import (
	"errors"
	"fmt"

	"github.com/maxpert/topocorr/common"
	"github.com/maxpert/topocorr/item"
	"github.com/maxpert/topocorr/operator"
	"github.com/maxpert/topocorr/store"
	"github.com/maxpert/topocorr/telemetry"
	"github.com/rs/zerolog"
)

// InventorySuffix is appended to an underlay topology id to name the feed
// carrying its inventory augmentation
const InventorySuffix = ".inventory"

// Config describes one listener
type Config struct {
	// TopologyID is the underlay topology the items belong to
	TopologyID string
	Kind       item.CorrelationKind
	Operator   operator.Operator
	Extractor  *item.Extractor

	// Augment listeners carry inventory data for items of TopologyID
	Augment bool

	// NeedsInventory marks items complete only once inventory arrived
	NeedsInventory bool

	Logger *zerolog.Logger
}

// Listener classifies change batches for one underlay topology and calls
// the operator. Batches must be delivered sequentially.
type Listener struct {
	cfg    Config
	known  *store.TopologyStore
	logger zerolog.Logger
}

// New creates a listener
func New(c Config) (*Listener, error) {
	if c.Operator == nil {
		return nil, fmt.Errorf("listener: operator is required")
	}
	if c.TopologyID == "" {
		return nil, fmt.Errorf("listener: topology id is required")
	}
	if _, ok := shapes[c.Kind]; !ok {
		return nil, fmt.Errorf("listener: unsupported kind %s", c.Kind)
	}
	logger := common.ComponentLogger(c.Logger, "listener").With().
		Str("underlay", c.TopologyID).
		Str("kind", c.Kind.String()).
		Bool("augment", c.Augment).
		Logger()
	return &Listener{cfg: c, known: store.NewTopologyStore(c.TopologyID), logger: logger}, nil
}

// TopologyID returns the underlay topology this listener feeds
func (l *Listener) TopologyID() string {
	return l.cfg.TopologyID
}

// batch collects removals so they reach the operator in one call after the
// creates and updates of the same batch
type batch struct {
	removed []string
	pending map[string]struct{}
}

func (b *batch) remove(key string) {
	if _, dup := b.pending[key]; dup {
		return
	}
	b.pending[key] = struct{}{}
	b.removed = append(b.removed, key)
}

// OnBatch dispatches one batch of changes in record order
func (l *Listener) OnBatch(changes []Change) {
	b := &batch{pending: make(map[string]struct{})}

	for _, c := range changes {
		loc, err := locate(l.cfg.Kind, c.Path)
		if errors.Is(err, errForeign) {
			continue
		}
		if err != nil {
			l.logger.Warn().Err(err).Str("path", c.Path).Msg("Skipping change with unexpected path")
			l.count("skip")
			continue
		}

		switch {
		case loc.key == "":
			// ancestor: only its deletion matters
			if c.After != nil || l.cfg.Augment {
				continue
			}
			for _, k := range l.below(loc.ancestor) {
				l.known.Remove(k)
				b.remove(k)
			}

		case len(loc.rest) == 0:
			if c.Classify(true) == ActionRemove {
				if l.cfg.Augment {
					l.logger.Debug().Str("key", loc.key).Msg("Ignoring inventory removal")
					continue
				}
				if _, ok := l.known.Remove(loc.key); ok {
					b.remove(loc.key)
				}
				continue
			}
			l.dispatch(b, loc, c, c.After)

		default:
			// a nil After below the item is a side effect of a parent change
			if c.After == nil {
				continue
			}
			l.dispatch(b, loc, c, nest(loc.rest, c.After))
		}
	}

	l.flush(b)
}

func (l *Listener) dispatch(b *batch, loc location, c Change, payload map[string]any) {
	// a key re-created after its removal in the same batch must see the
	// removal first
	if _, ok := b.pending[loc.key]; ok {
		l.flush(b)
	}

	u := &item.UnderlayItem{
		TopologyID:     l.cfg.TopologyID,
		ItemID:         loc.id,
		Kind:           l.cfg.Kind,
		NeedsInventory: l.cfg.NeedsInventory,
	}
	if l.cfg.Augment {
		u.Inventory = payload
	} else {
		u.Item = payload
	}
	if l.cfg.Extractor != nil {
		l.cfg.Extractor.Populate(u)
	}

	_, known := l.known.Get(loc.key)
	if !known {
		l.known.Put(loc.key, &item.UnderlayItem{ItemID: loc.id})
	}

	action := c.Classify(known)
	l.count(action.String())
	if action == ActionUpdate {
		l.cfg.Operator.ProcessUpdated(loc.key, u, l.cfg.TopologyID)
		return
	}
	l.cfg.Operator.ProcessCreated(loc.key, u, l.cfg.TopologyID)
}

func (l *Listener) flush(b *batch) {
	if len(b.removed) == 0 {
		return
	}
	telemetry.ChangesTotal.With(l.cfg.TopologyID, "remove").Add(float64(len(b.removed)))
	l.cfg.Operator.ProcessRemoved(b.removed, l.cfg.TopologyID)
	b.removed = nil
	b.pending = make(map[string]struct{})
}

func (l *Listener) below(ancestor string) []string {
	if ancestor == "" {
		return l.known.Keys()
	}
	return l.known.KeysWithPrefix(ancestor)
}

func (l *Listener) count(action string) {
	telemetry.ChangesTotal.With(l.cfg.TopologyID, action).Inc()
}
