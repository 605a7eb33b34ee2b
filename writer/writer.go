// Package writer batches overlay writes into transactions. One worker runs
// at most one cycle at a time; producers only enqueue.
package writer

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/topocorr/common"
	"github.com/maxpert/topocorr/telemetry"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxBatch        = 50
	DefaultTeardownTimeout = time.Second
)

var (
	// ErrTornDown is returned for writes after TearDown
	ErrTornDown = errors.New("writer is torn down")

	// ErrQueueFull is returned when MaxPending operations are already queued
	ErrQueueFull = errors.New("writer queue is full")

	// ErrTeardownTimeout resolves a teardown whose final commit did not finish in time
	ErrTeardownTimeout = errors.New("timed out waiting for final commit")

	// ErrCloseTimeout is returned by a bounded chain close that abandoned a stalled commit
	ErrCloseTimeout = errors.New("timed out closing transaction chain")
)

// Config configures a Writer
type Config struct {
	// Topology is the overlay topology; its root id is "/" + Topology
	Topology string
	Chain    TransactionChain

	MaxBatch        int
	MaxPending      int // 0 means unbounded
	TeardownTimeout time.Duration

	Logger *zerolog.Logger
}

// Stats is a snapshot of writer counters
type Stats struct {
	Cycles         uint64 `json:"cycles"`
	Transactions   uint64 `json:"transactions"`
	Submitted      uint64 `json:"submitted"`
	CommitFailures uint64 `json:"commit_failures"`
	Pending        int    `json:"pending"`
}

// Writer queues operations and commits them in batches of at most MaxBatch
type Writer struct {
	cfg    Config
	root   string
	logger zerolog.Logger

	mu       sync.Mutex
	pending  []Operation
	draining bool

	scheduled atomic.Bool
	started   atomic.Bool
	wake      chan struct{}
	stopCh    chan struct{}
	doneCh    chan struct{}

	teardownOnce sync.Once
	teardown     *future.Future[error]

	cycles       atomic.Uint64
	transactions atomic.Uint64
	submitted    atomic.Uint64
	failures     atomic.Uint64
}

// New creates a writer; call Start to run its worker
func New(c Config) (*Writer, error) {
	if c.Chain == nil {
		return nil, fmt.Errorf("writer: transaction chain is required")
	}
	if c.Topology == "" {
		return nil, fmt.Errorf("writer: topology is required")
	}
	if c.MaxBatch <= 0 {
		c.MaxBatch = DefaultMaxBatch
	}
	if c.MaxPending < 0 {
		c.MaxPending = 0
	}
	if c.TeardownTimeout <= 0 {
		c.TeardownTimeout = DefaultTeardownTimeout
	}

	return &Writer{
		cfg:    c,
		root:   "/" + c.Topology,
		logger: common.ComponentLogger(c.Logger, "writer").With().Str("topology", c.Topology).Logger(),
		wake:   make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}, nil
}

// Root returns the id of the overlay topology root
func (w *Writer) Root() string {
	return w.root
}

// Start launches the worker goroutine. Calling it more than once is a no-op.
func (w *Writer) Start() {
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.loop()
}

// Init enqueues creation of the overlay topology root
func (w *Writer) Init() error {
	return w.enqueue(Merge(w.root, map[string]any{"topology-id": w.cfg.Topology}))
}

// WriteItem enqueues a put of value at id
func (w *Writer) WriteItem(id string, value any) error {
	return w.enqueue(Put(id, value))
}

// DeleteItem enqueues a delete of id
func (w *Writer) DeleteItem(id string) error {
	return w.enqueue(Delete(id))
}

// Pending returns the number of queued operations
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Stats returns the current counters
func (w *Writer) Stats() Stats {
	return Stats{
		Cycles:         w.cycles.Load(),
		Transactions:   w.transactions.Load(),
		Submitted:      w.submitted.Load(),
		CommitFailures: w.failures.Load(),
		Pending:        w.Pending(),
	}
}

func (w *Writer) enqueue(op Operation) error {
	w.mu.Lock()
	if w.draining {
		w.mu.Unlock()
		return ErrTornDown
	}
	if w.cfg.MaxPending > 0 && len(w.pending) >= w.cfg.MaxPending {
		w.mu.Unlock()
		return ErrQueueFull
	}
	w.pending = append(w.pending, op)
	n := len(w.pending)
	w.mu.Unlock()

	telemetry.PendingOperations.With(w.cfg.Topology).Set(float64(n))
	w.requestCycle()
	return nil
}

// requestCycle schedules a cycle unless one is already scheduled or running
func (w *Writer) requestCycle() {
	if !w.scheduled.CompareAndSwap(false, true) {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Writer) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.wake:
			w.runScheduled()
		case <-w.stopCh:
			w.flush()
			return
		}
	}
}

// runScheduled runs cycles while work remains, then releases the guard and
// rechecks for a request that raced with the release
func (w *Writer) runScheduled() {
	for {
		w.flush()
		w.scheduled.Store(false)
		if w.Pending() == 0 || !w.scheduled.CompareAndSwap(false, true) {
			return
		}
	}
}

// flush runs cycles until the queue is empty
func (w *Writer) flush() {
	for w.cycle() {
	}
}

// cycle drains up to MaxBatch operations into one transaction and submits
// it. It reports whether anything was submitted.
func (w *Writer) cycle() bool {
	w.mu.Lock()
	n := len(w.pending)
	if n == 0 {
		w.mu.Unlock()
		return false
	}
	if n > w.cfg.MaxBatch {
		n = w.cfg.MaxBatch
	}
	batch := make([]Operation, n)
	copy(batch, w.pending[:n])
	w.pending = append(w.pending[:0], w.pending[n:]...)
	left := len(w.pending)
	w.mu.Unlock()

	w.cycles.Add(1)
	tx := w.cfg.Chain.NewTransaction()
	for _, op := range batch {
		op.Apply(tx)
	}
	fut := tx.Submit()
	w.transactions.Add(1)
	w.submitted.Add(uint64(n))
	telemetry.WriteBatchSize.Observe(float64(n))
	telemetry.PendingOperations.With(w.cfg.Topology).Set(float64(left))

	go w.observe(fut, n)
	return true
}

func (w *Writer) observe(fut *future.Future[error], n int) {
	_, err := fut.Get()
	if err != nil {
		w.failures.Add(1)
		telemetry.WriteCyclesTotal.With(w.cfg.Topology, "failed").Inc()
		w.logger.Error().Err(err).Int("operations", n).Msg("Overlay transaction failed")
		return
	}
	telemetry.WriteCyclesTotal.With(w.cfg.Topology, "success").Inc()
}

// TearDown rejects further writes, flushes everything queued, then deletes
// the overlay root. The wait for the final commit is bounded by
// TeardownTimeout; the returned future always resolves. Repeated calls
// return the same future.
func (w *Writer) TearDown() *future.Future[error] {
	w.teardownOnce.Do(func() {
		w.mu.Lock()
		w.draining = true
		w.mu.Unlock()

		p := future.NewPromise[error]()
		w.teardown = p.Future()
		go w.finish(p)
	})
	return w.teardown
}

func (w *Writer) finish(p *future.Promise[error]) {
	if w.started.CompareAndSwap(false, true) {
		// no worker ever ran; flush on this goroutine
		w.flush()
		close(w.doneCh)
	} else {
		close(w.stopCh)
		<-w.doneCh
	}

	tx := w.cfg.Chain.NewTransaction()
	tx.Delete(w.root)
	fut := tx.Submit()
	w.transactions.Add(1)
	w.submitted.Add(1)

	done := make(chan error, 1)
	go func() {
		_, err := fut.Get()
		done <- err
	}()

	timer := time.NewTimer(w.cfg.TeardownTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			w.failures.Add(1)
			w.logger.Error().Err(err).Msg("Failed to delete overlay topology root")
		} else {
			w.logger.Info().Str("root", w.root).Msg("Overlay topology torn down")
		}
		p.Set(nil, err)
	case <-timer.C:
		telemetry.TeardownTimeoutsTotal.Inc()
		w.logger.Warn().
			Dur("timeout", w.cfg.TeardownTimeout).
			Msg("Timed out waiting for overlay root delete")
		p.Set(nil, ErrTeardownTimeout)
	}
	telemetry.PendingOperations.With(w.cfg.Topology).Set(0)
}
