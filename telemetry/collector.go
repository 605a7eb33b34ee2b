package telemetry

import (
	"sync"
	"time"
)

// PendingProvider is implemented by components that queue writes
type PendingProvider interface {
	Pending() int
}

// PipelineLister lists overlay topologies and their writers
type PipelineLister interface {
	ListTopologies() []string
	Pipeline(name string) PendingProvider
}

// MetricsCollector periodically samples queue depths into gauges
type MetricsCollector struct {
	lister   PipelineLister
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(lister PipelineLister, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		lister:   lister,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector
func (mc *MetricsCollector) Stop() {
	mc.once.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.lister == nil {
		return
	}

	for _, name := range mc.lister.ListTopologies() {
		p := mc.lister.Pipeline(name)
		if p == nil {
			continue
		}
		PendingOperations.With(name).Set(float64(p.Pending()))
	}
}
