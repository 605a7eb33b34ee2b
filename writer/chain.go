package writer

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/topocorr/cfg"
)

// Transaction collects operations and commits them as one unit. Operations
// are applied in the order they were added.
type Transaction interface {
	Put(id string, value any)
	Merge(id string, value any)
	Delete(id string)

	// Submit commits the transaction. The future resolves with the commit
	// error, nil on success.
	Submit() *future.Future[error]
}

// TransactionChain hands out transactions that commit in submission order
type TransactionChain interface {
	NewTransaction() Transaction
	Close() error
}

// BoundedChain is a chain whose Close can stop waiting for a stalled commit.
// CloseWithin returns ErrCloseTimeout when it gave up.
type BoundedChain interface {
	TransactionChain
	CloseWithin(timeout time.Duration) error
}

// CloseChain closes c, bounding the wait by timeout when c supports it
func CloseChain(c TransactionChain, timeout time.Duration) error {
	if b, ok := c.(BoundedChain); ok && timeout > 0 {
		return b.CloseWithin(timeout)
	}
	return c.Close()
}

// ChainFactory creates the chain for one overlay topology
type ChainFactory func(conf cfg.SinkConfiguration, topology string) (TransactionChain, error)

var (
	chainFactories = make(map[string]ChainFactory)
	factoryMu      sync.RWMutex
)

// RegisterChain registers a chain factory for a sink type
func RegisterChain(sinkType string, factory ChainFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	chainFactories[sinkType] = factory
}

// ChainTypes returns the registered sink types in lexical order
func ChainTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]string, 0, len(chainFactories))
	for t := range chainFactories {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// NewChain creates a chain for topology from the sink configuration
func NewChain(conf cfg.SinkConfiguration, topology string) (TransactionChain, error) {
	factoryMu.RLock()
	factory, exists := chainFactories[conf.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s", conf.Type)
	}
	return factory(conf, topology)
}

// Resolved returns a future already completed with err
func Resolved(err error) *future.Future[error] {
	p := future.NewPromise[error]()
	p.Set(nil, err)
	return p.Future()
}
