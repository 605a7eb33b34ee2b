package sink

import (
	"sort"
	"sync"
	"time"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/writer"
	"github.com/puzpuzpuz/xsync/v3"
)

func init() {
	writer.RegisterChain("memory", func(_ cfg.SinkConfiguration, topology string) (writer.TransactionChain, error) {
		m := NewMemoryChain()
		memoryChains.Store(topology, m)
		return m, nil
	})
}

// memoryChains holds the last memory chain created per topology so embedders
// and the admin API can read what was committed
var memoryChains = xsync.NewMapOf[string, *MemoryChain]()

// LookupMemory returns the memory chain created for topology
func LookupMemory(topology string) (*MemoryChain, bool) {
	return memoryChains.Load(topology)
}

// MemoryChain keeps committed overlay state in a map. It records every
// committed transaction and can be told to fail or stall commits.
type MemoryChain struct {
	c *committer

	mu        sync.RWMutex
	data      map[string]any
	committed [][]writer.Operation
	failWith  error
	delay     time.Duration
	gate      chan struct{}
}

func NewMemoryChain() *MemoryChain {
	m := &MemoryChain{data: make(map[string]any)}
	m.c = newCommitter(m.apply)
	return m
}

func (m *MemoryChain) NewTransaction() writer.Transaction {
	return &transaction{c: m.c}
}

func (m *MemoryChain) Close() error {
	m.c.close()
	return nil
}

// CloseWithin implements writer.BoundedChain
func (m *MemoryChain) CloseWithin(timeout time.Duration) error {
	return m.c.closeWithin(timeout)
}

// FailWith makes every following commit fail with err; nil restores success
func (m *MemoryChain) FailWith(err error) {
	m.mu.Lock()
	m.failWith = err
	m.mu.Unlock()
}

// SetDelay stalls every following commit by d
func (m *MemoryChain) SetDelay(d time.Duration) {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
}

// Hold blocks commits until the returned release function is called
func (m *MemoryChain) Hold() (release func()) {
	gate := make(chan struct{})
	m.mu.Lock()
	m.gate = gate
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			if m.gate == gate {
				m.gate = nil
			}
			m.mu.Unlock()
			close(gate)
		})
	}
}

func (m *MemoryChain) apply(ops []writer.Operation) error {
	m.mu.RLock()
	failWith, delay, gate := m.failWith, m.delay, m.gate
	m.mu.RUnlock()

	if gate != nil {
		<-gate
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if failWith != nil {
		return failWith
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range ops {
		switch o := op.(type) {
		case writer.PutOperation:
			m.data[o.ID] = copyValue(o.Value)
		case writer.MergeOperation:
			m.data[o.ID] = mergeValue(m.data[o.ID], o.Value)
		case writer.DeleteOperation:
			for key := range m.data {
				if covers(o.ID, key) {
					delete(m.data, key)
				}
			}
		}
	}
	m.committed = append(m.committed, ops)
	return nil
}

// Get returns the value committed at id
func (m *MemoryChain) Get(id string) (any, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[id]
	return v, ok
}

// Keys returns the committed ids in lexical order
func (m *MemoryChain) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.data))
	for k := range m.data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Snapshot returns a copy of all committed values
func (m *MemoryChain) Snapshot() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]any, len(m.data))
	for k, v := range m.data {
		out[k] = copyValue(v)
	}
	return out
}

// Committed returns the operations of every successful transaction in
// commit order
func (m *MemoryChain) Committed() [][]writer.Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([][]writer.Operation, len(m.committed))
	copy(out, m.committed)
	return out
}
