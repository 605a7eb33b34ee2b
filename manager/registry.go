package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/common"
	"github.com/maxpert/topocorr/feed"
	"github.com/maxpert/topocorr/telemetry"
	"github.com/rs/zerolog"
)

const defaultCollectInterval = 5 * time.Second

// RegistryConfig configures the registry of all topology pipelines
type RegistryConfig struct {
	Config *cfg.Configuration
	Source feed.Source
	Logger *zerolog.Logger

	// CollectInterval is how often queue depths are sampled into gauges
	CollectInterval time.Duration
}

// Registry manages the lifecycle of every overlay topology pipeline
type Registry struct {
	managers  map[string]*TopologyManager
	order     []string
	collector *telemetry.MetricsCollector
	logger    zerolog.Logger
	running   atomic.Bool
	mu        sync.Mutex
}

// NewRegistry builds one TopologyManager per configured topology
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.Config == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if config.Source == nil {
		return nil, fmt.Errorf("feed source is required")
	}
	if config.CollectInterval <= 0 {
		config.CollectInterval = defaultCollectInterval
	}

	r := &Registry{
		managers: make(map[string]*TopologyManager, len(config.Config.Topologies)),
		logger:   common.ComponentLogger(config.Logger, "registry"),
	}

	for _, t := range config.Config.Topologies {
		m, err := New(Config{
			Topology: t,
			Writer:   config.Config.Writer,
			Sink:     config.Config.Sink,
			Source:   config.Source,
			Logger:   config.Logger,
		})
		if err != nil {
			// Cleanup on error: close every pipeline already built
			r.closeAll()
			return nil, fmt.Errorf("failed to build topology %q: %w", t.Name, err)
		}
		if err := r.add(m); err != nil {
			r.closeManager(m)
			r.closeAll()
			return nil, err
		}
	}

	r.collector = telemetry.NewMetricsCollector(r, config.CollectInterval)

	r.logger.Info().
		Int("topologies", len(r.order)).
		Msg("Topology registry initialized")

	return r, nil
}

func (r *Registry) add(m *TopologyManager) error {
	if _, dup := r.managers[m.Name()]; dup {
		return fmt.Errorf("duplicate topology name: %q", m.Name())
	}
	r.managers[m.Name()] = m
	r.order = append(r.order, m.Name())
	return nil
}

// Start starts every pipeline
func (r *Registry) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}

	r.logger.Info().Int("topologies", len(r.order)).Msg("Starting topology registry")

	for _, name := range r.order {
		if err := r.managers[name].Start(ctx); err != nil {
			r.closeAll()
			return err
		}
	}
	r.collector.Start()

	r.running.Store(true)
	return nil
}

// Stop closes every pipeline, last started first
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}

	r.logger.Info().Msg("Stopping topology registry")
	r.collector.Stop()

	r.closeAll()

	r.logger.Info().Msg("Topology registry stopped")
}

// closeAll closes every pipeline, last built first
func (r *Registry) closeAll() {
	for i := len(r.order) - 1; i >= 0; i-- {
		r.closeManager(r.managers[r.order[i]])
	}
}

func (r *Registry) closeManager(m *TopologyManager) {
	if err := m.Close(); err != nil {
		r.logger.Warn().Err(err).Str("topology", m.Name()).Msg("Topology teardown reported an error")
	}
}

// Get returns the pipeline of an overlay topology
func (r *Registry) Get(name string) (*TopologyManager, bool) {
	m, ok := r.managers[name]
	return m, ok
}

// ListTopologies implements telemetry.PipelineLister
func (r *Registry) ListTopologies() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	sort.Strings(out)
	return out
}

// Pipeline implements telemetry.PipelineLister
func (r *Registry) Pipeline(name string) telemetry.PendingProvider {
	m, ok := r.managers[name]
	if !ok {
		return nil
	}
	return m
}
