package telemetry

// BatchSizeBuckets for operations per write transaction
var BatchSizeBuckets = []float64{1, 2, 5, 10, 20, 30, 40, 50, 100, 250}

// Pipeline Metrics
var (
	// ChangesTotal counts listener dispatches by underlay topology and action (create, update, remove, skip)
	ChangesTotal CounterVec = noopCounterVec{}

	// OverlayDecisionsTotal counts operator decisions by overlay topology and decision (add, update, remove)
	OverlayDecisionsTotal CounterVec = noopCounterVec{}

	// FilteredItemsTotal counts items excluded by filtration per overlay topology
	FilteredItemsTotal CounterVec = noopCounterVec{}
)

// Writer Metrics
var (
	// WriteCyclesTotal counts writer cycles by overlay topology and result (success, failed)
	WriteCyclesTotal CounterVec = noopCounterVec{}

	// WriteBatchSize measures operations submitted per transaction
	WriteBatchSize Histogram = NoopStat{}

	// PendingOperations tracks queued writer operations per overlay topology
	PendingOperations GaugeVec = noopGaugeVec{}

	// TeardownTimeoutsTotal counts teardowns whose final commit did not finish in time
	TeardownTimeoutsTotal Counter = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	ChangesTotal = NewCounterVec(
		"changes_total",
		"Change records dispatched by the listener",
		[]string{"topology", "action"},
	)
	OverlayDecisionsTotal = NewCounterVec(
		"overlay_decisions_total",
		"Overlay item decisions emitted by operators",
		[]string{"topology", "decision"},
	)
	FilteredItemsTotal = NewCounterVec(
		"filtered_items_total",
		"Underlay items excluded by filtration",
		[]string{"topology"},
	)

	WriteCyclesTotal = NewCounterVec(
		"write_cycles_total",
		"Writer cycles by result",
		[]string{"topology", "result"},
	)
	WriteBatchSize = NewHistogramWithBuckets(
		"write_batch_size",
		"Operations submitted per write transaction",
		BatchSizeBuckets,
	)
	PendingOperations = NewGaugeVec(
		"pending_operations",
		"Operations queued in the writer",
		[]string{"topology"},
	)
	TeardownTimeoutsTotal = NewCounter(
		"teardown_timeouts_total",
		"Writer teardowns that timed out waiting for the final commit",
	)
}
