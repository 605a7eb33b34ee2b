package sink

import (
	"errors"
	"testing"
	"time"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/writer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commit(t *testing.T, chain writer.TransactionChain, fill func(tx writer.Transaction)) error {
	t.Helper()
	tx := chain.NewTransaction()
	fill(tx)
	_, err := tx.Submit().Get()
	return err
}

func TestMemoryChain_PutMergeDelete(t *testing.T) {
	m := NewMemoryChain()
	defer m.Close()

	require.NoError(t, commit(t, m, func(tx writer.Transaction) {
		tx.Merge("/ov", map[string]any{"topology-id": "ov"})
		tx.Put("/ov/node/1", map[string]any{"node-id": "node:1"})
		tx.Put("/ov/node/2", map[string]any{"node-id": "node:2"})
		tx.Put("/other/node/1", map[string]any{"node-id": "x"})
	}))

	require.NoError(t, commit(t, m, func(tx writer.Transaction) {
		tx.Merge("/ov", map[string]any{"extra": true})
		tx.Delete("/ov/node/2")
	}))

	root, ok := m.Get("/ov")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"topology-id": "ov", "extra": true}, root)
	assert.Equal(t, []string{"/other/node/1", "/ov", "/ov/node/1"}, m.Keys())

	require.NoError(t, commit(t, m, func(tx writer.Transaction) { tx.Delete("/ov") }))
	assert.Equal(t, []string{"/other/node/1"}, m.Keys())
	assert.Len(t, m.Committed(), 3)
}

func TestMemoryChain_PutIsolatedFromCaller(t *testing.T) {
	m := NewMemoryChain()
	defer m.Close()

	v := map[string]any{"node-id": "a"}
	require.NoError(t, commit(t, m, func(tx writer.Transaction) { tx.Put("/ov/node/a", v) }))
	v["node-id"] = "changed"

	got, _ := m.Get("/ov/node/a")
	assert.Equal(t, map[string]any{"node-id": "a"}, got)
}

func TestMemoryChain_Failure(t *testing.T) {
	m := NewMemoryChain()
	defer m.Close()

	boom := errors.New("boom")
	m.FailWith(boom)
	err := commit(t, m, func(tx writer.Transaction) { tx.Put("/ov/node/1", 1) })
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, m.Keys())
	assert.Empty(t, m.Committed())

	m.FailWith(nil)
	assert.NoError(t, commit(t, m, func(tx writer.Transaction) { tx.Put("/ov/node/1", 1) }))
}

func TestMemoryChain_OrderedCommits(t *testing.T) {
	m := NewMemoryChain()
	defer m.Close()

	release := m.Hold()
	var futs []interface{ Get() (error, error) }
	for i := 0; i < 10; i++ {
		tx := m.NewTransaction()
		tx.Put("/ov/node/x", i)
		futs = append(futs, tx.Submit())
	}
	assert.Empty(t, m.Committed())
	release()

	for _, f := range futs {
		_, err := f.Get()
		require.NoError(t, err)
	}
	v, _ := m.Get("/ov/node/x")
	assert.Equal(t, 9, v)
	assert.Len(t, m.Committed(), 10)
}

func TestMemoryChain_Delay(t *testing.T) {
	m := NewMemoryChain()
	defer m.Close()

	m.SetDelay(30 * time.Millisecond)
	start := time.Now()
	require.NoError(t, commit(t, m, func(tx writer.Transaction) { tx.Put("/a", 1) }))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestMemoryChain_SubmitAfterClose(t *testing.T) {
	m := NewMemoryChain()
	require.NoError(t, m.Close())

	err := commit(t, m, func(tx writer.Transaction) { tx.Put("/a", 1) })
	assert.ErrorIs(t, err, ErrChainClosed)
	assert.NoError(t, m.Close())
}

func TestMemoryChain_CloseWithinAbandonsStalledCommit(t *testing.T) {
	m := NewMemoryChain()
	release := m.Hold()
	defer release()

	tx := m.NewTransaction()
	tx.Put("/a", 1)
	inFlight := tx.Submit()
	time.Sleep(20 * time.Millisecond)

	tx = m.NewTransaction()
	tx.Put("/b", 2)
	queued := tx.Submit()

	start := time.Now()
	err := m.CloseWithin(50 * time.Millisecond)
	assert.ErrorIs(t, err, writer.ErrCloseTimeout)
	assert.Less(t, time.Since(start), time.Second)

	_, err = queued.Get()
	assert.ErrorIs(t, err, ErrChainClosed)

	release()
	_, err = inFlight.Get()
	assert.NoError(t, err)
	assert.Equal(t, []string{"/a"}, m.Keys())

	assert.ErrorIs(t, commit(t, m, func(tx writer.Transaction) { tx.Put("/c", 3) }), ErrChainClosed)
}

func TestCloseChain_UsesBoundWhenSupported(t *testing.T) {
	m := NewMemoryChain()
	release := m.Hold()
	defer release()

	tx := m.NewTransaction()
	tx.Put("/a", 1)
	tx.Submit()

	assert.ErrorIs(t, writer.CloseChain(m, 30*time.Millisecond), writer.ErrCloseTimeout)
}

func TestMemoryChain_CloseCommitsQueued(t *testing.T) {
	m := NewMemoryChain()
	release := m.Hold()

	tx := m.NewTransaction()
	tx.Put("/a", 1)
	fut := tx.Submit()

	go func() {
		time.Sleep(10 * time.Millisecond)
		release()
	}()
	require.NoError(t, m.Close())

	_, err := fut.Get()
	assert.NoError(t, err)
	assert.Equal(t, []string{"/a"}, m.Keys())
}

func TestMemoryFactory_Registered(t *testing.T) {
	chain, err := writer.NewChain(cfg.SinkConfiguration{Type: "memory"}, "factory-topo")
	require.NoError(t, err)
	defer chain.Close()

	m, ok := LookupMemory("factory-topo")
	require.True(t, ok)
	assert.Same(t, chain, m)

	assert.Subset(t, writer.ChainTypes(), []string{"kafka", "memory", "nats", "pebble"})
}

func TestMergeValue(t *testing.T) {
	dst := map[string]any{"a": 1, "sub": map[string]any{"x": 1, "y": 2}}
	src := map[string]any{"b": 2, "sub": map[string]any{"y": 3}}

	got := mergeValue(dst, src)
	assert.Equal(t, map[string]any{"a": 1, "b": 2, "sub": map[string]any{"x": 1, "y": 3}}, got)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, dst["sub"], "dst left untouched")

	assert.Equal(t, "v", mergeValue(map[string]any{"a": 1}, "v"))
	assert.Equal(t, map[string]any{"a": 1}, mergeValue(nil, map[string]any{"a": 1}))
}

func TestCovers(t *testing.T) {
	assert.True(t, covers("/ov", "/ov"))
	assert.True(t, covers("/ov", "/ov/node/1"))
	assert.False(t, covers("/ov", "/ov2/node/1"))
	assert.False(t, covers("/ov/node/1", "/ov"))
}
