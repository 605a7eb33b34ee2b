// Package manager assembles and runs the correlation pipeline of each
// overlay topology: feed -> listeners -> operator -> translator -> writer.
package manager

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/common"
	"github.com/maxpert/topocorr/feed"
	"github.com/maxpert/topocorr/filter"
	"github.com/maxpert/topocorr/id"
	"github.com/maxpert/topocorr/item"
	"github.com/maxpert/topocorr/listener"
	"github.com/maxpert/topocorr/operator"
	"github.com/maxpert/topocorr/store"
	"github.com/maxpert/topocorr/translator"
	"github.com/maxpert/topocorr/writer"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog"
)

// Config configures one TopologyManager
type Config struct {
	Topology cfg.TopologyConfiguration
	Writer   cfg.WriterConfiguration
	Sink     cfg.SinkConfiguration

	// Chain overrides Sink; the manager does not close a chain it was given
	Chain  writer.TransactionChain
	Source feed.Source
	IDs    id.Generator
	Logger *zerolog.Logger
}

// subscription binds a listener to the feed topic it reads
type subscription struct {
	topic    string
	listener *listener.Listener
}

// TopologyManager owns the pipeline of one overlay topology. It is the
// operator chain's final Output: every decision becomes a writer operation.
type TopologyManager struct {
	name   string
	kind   item.CorrelationKind
	conf   cfg.TopologyConfiguration
	logger zerolog.Logger

	source     feed.Source
	translator translator.Translator
	chain      writer.TransactionChain
	ownsChain  bool
	closeBound time.Duration
	writer     *writer.Writer
	operator   operator.Operator
	stores     *store.Stores
	subs       []subscription

	// live maps overlay wrapper ids to their output ids
	live *xsync.MapOf[string, string]

	translateErrors atomic.Uint64
	writeErrors     atomic.Uint64

	started   atomic.Bool
	mu        sync.Mutex
	cancels   []func()
	closeOnce sync.Once
	closeErr  error
}

// New builds the pipeline. Nothing is subscribed until Start.
func New(c Config) (*TopologyManager, error) {
	t := c.Topology
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("topology %q: %w", t.Name, err)
	}
	if c.Source == nil {
		return nil, fmt.Errorf("topology %q: feed source is required", t.Name)
	}

	kind, err := item.ParseCorrelationKind(t.Kind)
	if err != nil {
		return nil, err
	}
	tr, err := translator.New(t.OutputModel, kind)
	if err != nil {
		return nil, fmt.Errorf("topology %q: %w", t.Name, err)
	}

	m := &TopologyManager{
		name:       t.Name,
		kind:       kind,
		conf:       t,
		logger:     common.ComponentLogger(c.Logger, "manager").With().Str("topology", t.Name).Logger(),
		source:     c.Source,
		translator: tr,
		live:       xsync.NewMapOf[string, string](),
	}

	ids := c.IDs
	if ids == nil {
		ids = id.NewKindGenerator()
	}

	extractor := item.NewExtractor()
	filters, err := filter.NewChain(t.Filters, extractor, m.logger)
	if err != nil {
		return nil, fmt.Errorf("topology %q: %w", t.Name, err)
	}

	var out operator.Output = m
	if tp := t.TerminationPoints; tp != nil {
		tpa, err := operator.NewTerminationPointAggregator(out, ids, *tp)
		if err != nil {
			return nil, fmt.Errorf("topology %q: %w", t.Name, err)
		}
		out = tpa
	}

	opConf := operator.Config{
		Topology:  t.Name,
		Kind:      kind,
		IDs:       ids,
		Extractor: extractor,
		Logger:    c.Logger,
	}
	if agg := t.Aggregation; agg == nil {
		opConf.Output = out
		f, err := operator.NewFiltrator(opConf, filters)
		if err != nil {
			return nil, err
		}
		m.operator, m.stores = f, f.Stores()
	} else {
		if len(filters) > 0 && !agg.Prefilter {
			out = operator.NewPostAggregationFiltrator(t.Name, filters, out)
		}
		opConf.Output = out
		a, err := operator.NewAggregator(opConf, *agg)
		if err != nil {
			return nil, fmt.Errorf("topology %q: %w", t.Name, err)
		}
		m.operator, m.stores = a, a.Stores()
		if agg.Prefilter {
			m.operator = operator.NewPreAggregationFiltrator(t.Name, filters, a)
		}
	}

	for _, u := range t.Underlay {
		l, err := listener.New(listener.Config{
			TopologyID:     u.TopologyID,
			Kind:           kind,
			Operator:       m.operator,
			Extractor:      extractor,
			NeedsInventory: u.Inventory,
			Logger:         c.Logger,
		})
		if err != nil {
			return nil, err
		}
		m.subs = append(m.subs, subscription{topic: u.TopologyID, listener: l})

		if !u.Inventory {
			continue
		}
		inv, err := listener.New(listener.Config{
			TopologyID: u.TopologyID,
			Kind:       kind,
			Operator:   m.operator,
			Extractor:  extractor,
			Augment:    true,
			Logger:     c.Logger,
		})
		if err != nil {
			return nil, err
		}
		m.subs = append(m.subs, subscription{topic: u.TopologyID + listener.InventorySuffix, listener: inv})
	}

	m.chain = c.Chain
	if m.chain == nil {
		if m.chain, err = writer.NewChain(c.Sink, t.Name); err != nil {
			return nil, fmt.Errorf("topology %q: %w", t.Name, err)
		}
		m.ownsChain = true
	}

	wc := c.Writer.WithDefaults()
	m.closeBound = time.Duration(wc.TeardownTimeoutMS) * time.Millisecond
	m.writer, err = writer.New(writer.Config{
		Topology:        t.Name,
		Chain:           m.chain,
		MaxBatch:        wc.MaxBatch,
		MaxPending:      wc.MaxPending,
		TeardownTimeout: m.closeBound,
		Logger:          c.Logger,
	})
	if err != nil {
		m.closeChain()
		return nil, err
	}

	return m, nil
}

// Name returns the overlay topology name
func (m *TopologyManager) Name() string {
	return m.name
}

// Kind returns the correlation kind
func (m *TopologyManager) Kind() item.CorrelationKind {
	return m.kind
}

// Pending returns the writer queue depth
func (m *TopologyManager) Pending() int {
	return m.writer.Pending()
}

// Start creates the overlay root, starts the writer and subscribes every
// listener to its feed
func (m *TopologyManager) Start(ctx context.Context) error {
	if !m.started.CompareAndSwap(false, true) {
		return fmt.Errorf("topology %q already started", m.name)
	}

	m.writer.Start()
	if err := m.writer.Init(); err != nil {
		return fmt.Errorf("topology %q: failed to create overlay root: %w", m.name, err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.subs {
		cancel, err := m.source.Subscribe(ctx, s.topic, s.listener.OnBatch)
		if err != nil {
			for _, c := range m.cancels {
				c()
			}
			m.cancels = nil
			return fmt.Errorf("topology %q: failed to subscribe to %s: %w", m.name, s.topic, err)
		}
		m.cancels = append(m.cancels, cancel)
	}

	m.logger.Info().
		Str("kind", m.kind.String()).
		Int("listeners", len(m.subs)).
		Msg("Topology pipeline started")
	return nil
}

// Close cancels the subscriptions, then tears the writer down and waits
// for the final commit. Neither wait outlasts the teardown timeout, even
// when the sink is stalled.
func (m *TopologyManager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		cancels := m.cancels
		m.cancels = nil
		m.mu.Unlock()
		for _, c := range cancels {
			c()
		}

		_, err := m.writer.TearDown().Get()
		m.closeErr = err
		m.closeChain()

		m.logger.Info().Err(err).Msg("Topology pipeline closed")
	})
	return m.closeErr
}

func (m *TopologyManager) closeChain() {
	if !m.ownsChain {
		return
	}
	if err := writer.CloseChain(m.chain, m.closeBound); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to close transaction chain")
	}
}

// OutputID returns the id an overlay wrapper is written under
func (m *TopologyManager) OutputID(w *item.OverlayItemWrapper) string {
	return m.writer.Root() + "/" + m.kind.Prefix() + "/" + w.ID
}

// AddOverlayItem implements operator.Output
func (m *TopologyManager) AddOverlayItem(w *item.OverlayItemWrapper) {
	m.write(w)
}

// UpdateOverlayItem implements operator.Output
func (m *TopologyManager) UpdateOverlayItem(w *item.OverlayItemWrapper) {
	m.write(w)
}

// RemoveOverlayItem implements operator.Output
func (m *TopologyManager) RemoveOverlayItem(w *item.OverlayItemWrapper) {
	outID, ok := m.live.LoadAndDelete(w.ID)
	if !ok {
		outID = m.OutputID(w)
	}
	if err := m.writer.DeleteItem(outID); err != nil {
		m.writeErrors.Add(1)
		m.logger.Warn().Err(err).Str("id", outID).Msg("Failed to queue overlay delete")
	}
}

func (m *TopologyManager) write(w *item.OverlayItemWrapper) {
	value, err := m.translator.Translate(w)
	if err != nil {
		m.translateErrors.Add(1)
		m.logger.Error().Err(err).Str("wrapper", w.ID).Msg("Failed to translate overlay item")
		return
	}

	outID := m.OutputID(w)
	if err := m.writer.WriteItem(outID, detach(value)); err != nil {
		m.writeErrors.Add(1)
		m.logger.Warn().Err(err).Str("id", outID).Msg("Failed to queue overlay write")
		return
	}
	m.live.Store(w.ID, outID)
}
