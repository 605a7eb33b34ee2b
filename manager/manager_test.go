package manager

import (
	"context"
	"testing"
	"time"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/feed"
	"github.com/maxpert/topocorr/listener"
	"github.com/maxpert/topocorr/sink"
	"github.com/maxpert/topocorr/writer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

type harness struct {
	hub   *feed.Hub
	chain *sink.MemoryChain
	m     *TopologyManager
}

func start(t *testing.T, topo cfg.TopologyConfiguration) *harness {
	t.Helper()
	nop := zerolog.Nop()
	h := &harness{hub: feed.NewHub(), chain: sink.NewMemoryChain()}

	m, err := New(Config{
		Topology: topo,
		Writer:   cfg.WriterConfiguration{MaxBatch: 10},
		Chain:    h.chain,
		Source:   h.hub,
		Logger:   &nop,
	})
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	h.m = m

	t.Cleanup(func() {
		_ = m.Close()
		_ = h.hub.Close()
		_ = h.chain.Close()
	})
	return h
}

func (h *harness) publish(t *testing.T, topologyID string, changes ...listener.Change) {
	t.Helper()
	require.NoError(t, h.hub.Publish(context.Background(), topologyID, changes))
}

func (h *harness) eventually(t *testing.T, id string) map[string]any {
	t.Helper()
	var got map[string]any
	require.Eventually(t, func() bool {
		v, ok := h.chain.Get(id)
		if !ok {
			return false
		}
		got, _ = v.(map[string]any)
		return true
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s", id)
	return got
}

func (h *harness) gone(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := h.chain.Get(id)
		return !ok
	}, 2*time.Second, 5*time.Millisecond, "waiting for %s to be deleted", id)
}

func create(path string, after map[string]any) listener.Change {
	return listener.Change{Path: path, After: after}
}

func remove(path string) listener.Change {
	return listener.Change{Path: path, Before: map[string]any{}}
}

func aggregationTopology() cfg.TopologyConfiguration {
	return cfg.TopologyConfiguration{
		Name:     "ov",
		Kind:     "node",
		Underlay: []cfg.UnderlayConfiguration{{TopologyID: "t1"}, {TopologyID: "t2"}},
		Aggregation: &cfg.AggregationConfiguration{
			Matcher: "equality",
			Paths:   []string{"ip"},
		},
	}
}

func TestManager_AggregatesAcrossTopologies(t *testing.T) {
	h := start(t, aggregationTopology())

	root := h.eventually(t, "/ov")
	assert.Equal(t, "ov", root["topology-id"])

	h.publish(t, "t1", create("node/a", map[string]any{"ip": "10.0.0.1"}))
	h.publish(t, "t2", create("node/b", map[string]any{"ip": "10.0.0.1"}))

	require.Eventually(t, func() bool {
		v, ok := h.chain.Get("/ov/node/node:1")
		if !ok {
			return false
		}
		return len(v.(map[string]any)["supporting-node"].([]any)) == 2
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"/ov/node/node:1"}, h.m.OverlayIDs())

	h.publish(t, "t1", remove("node/a"))
	require.Eventually(t, func() bool {
		v, ok := h.chain.Get("/ov/node/node:1")
		return ok && len(v.(map[string]any)["supporting-node"].([]any)) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.publish(t, "t2", remove("node/b"))
	h.gone(t, "/ov/node/node:1")
	assert.Empty(t, h.m.OverlayIDs())

	require.NoError(t, h.m.Close())
	assert.Empty(t, h.chain.Keys(), "teardown deletes the overlay root and everything below it")
}

func TestManager_FiltrationOnly(t *testing.T) {
	h := start(t, cfg.TopologyConfiguration{
		Name:     "filtered",
		Kind:     "node",
		Underlay: []cfg.UnderlayConfiguration{{TopologyID: "t1"}},
		Filters: []cfg.FilterConfiguration{
			{Kind: "ipv4", Path: "ip", Prefix: strPtr("10.0.0.0/24")},
		},
	})

	h.publish(t, "t1",
		create("node/a", map[string]any{"ip": "10.0.0.7"}),
		create("node/b", map[string]any{"ip": "192.168.1.1"}),
	)
	got := h.eventually(t, "/filtered/node/node:1")
	assert.Equal(t, "node:1", got["node-id"])

	h.publish(t, "t1", create("node/a", map[string]any{"ip": "172.16.0.1"}))
	h.gone(t, "/filtered/node/node:1")

	for _, k := range h.chain.Keys() {
		assert.NotContains(t, k, "node:2", "filtered item must never be written")
	}
}

func TestManager_InventoryCompletesItems(t *testing.T) {
	h := start(t, cfg.TopologyConfiguration{
		Name:        "inv",
		Kind:        "node",
		OutputModel: "inventory",
		Underlay:    []cfg.UnderlayConfiguration{{TopologyID: "t1", Inventory: true}, {TopologyID: "t2"}},
		Aggregation: &cfg.AggregationConfiguration{Paths: []string{"name"}},
	})

	h.publish(t, "t1", create("node/a", map[string]any{"name": "r1"}))
	h.publish(t, "t2", create("node/b", map[string]any{"name": "r1"}))

	got := h.eventually(t, "/inv/node/node:1")
	assert.Len(t, got["supporting-node"], 1, "t1 member waits for its inventory")
	assert.Empty(t, got["inventory"])

	h.publish(t, "t1"+listener.InventorySuffix, create("node/a", map[string]any{"serial": "SN-1"}))
	require.Eventually(t, func() bool {
		v, _ := h.chain.Get("/inv/node/node:1")
		m, _ := v.(map[string]any)
		inv, _ := m["inventory"].([]any)
		return len(inv) == 1
	}, 2*time.Second, 5*time.Millisecond)

	v, _ := h.chain.Get("/inv/node/node:1")
	inv := v.(map[string]any)["inventory"].([]any)[0].(map[string]any)
	assert.Equal(t, "t1", inv["topology-ref"])
	assert.Equal(t, map[string]any{"serial": "SN-1"}, inv["data"])
}

func TestManager_PostAggregationFilter(t *testing.T) {
	topo := aggregationTopology()
	topo.Name = "post"
	topo.Filters = []cfg.FilterConfiguration{{Kind: "value", Path: "role", Value: strPtr("core")}}
	h := start(t, topo)

	h.publish(t, "t1", create("node/a", map[string]any{"ip": "10.0.0.1", "role": "edge"}))
	h.publish(t, "t2", create("node/b", map[string]any{"ip": "10.0.0.1", "role": "core"}))

	require.Eventually(t, func() bool {
		v, ok := h.chain.Get("/post/node/node:1")
		if !ok {
			return false
		}
		return len(v.(map[string]any)["supporting-node"].([]any)) == 2
	}, 2*time.Second, 5*time.Millisecond, "whole group shown once one member passes")
}

func TestManager_PrefilterAggregation(t *testing.T) {
	topo := aggregationTopology()
	topo.Name = "pre"
	topo.Filters = []cfg.FilterConfiguration{{Kind: "value", Path: "role", Value: strPtr("core")}}
	topo.Aggregation.Prefilter = true
	h := start(t, topo)

	h.publish(t, "t1", create("node/a", map[string]any{"ip": "10.0.0.1", "role": "edge"}))
	h.publish(t, "t2", create("node/b", map[string]any{"ip": "10.0.0.1", "role": "core"}))

	got := h.eventually(t, "/pre/node/node:1")
	assert.Len(t, got["supporting-node"], 1, "filtered member never joins")
}

func TestManager_TerminationPoints(t *testing.T) {
	topo := aggregationTopology()
	topo.Name = "tps"
	topo.TerminationPoints = &cfg.TerminationPointConfiguration{Path: "termination-point", KeyPath: "ip"}
	h := start(t, topo)

	h.publish(t, "t1", create("node/a", map[string]any{
		"ip":                "10.0.0.1",
		"termination-point": []any{map[string]any{"tp-id": "eth0", "ip": "192.168.0.1"}},
	}))
	h.publish(t, "t2", create("node/b", map[string]any{
		"ip":                "10.0.0.1",
		"termination-point": []any{map[string]any{"tp-id": "ge-0", "ip": "192.168.0.1"}},
	}))

	require.Eventually(t, func() bool {
		v, ok := h.chain.Get("/tps/node/node:1")
		if !ok {
			return false
		}
		tps, _ := v.(map[string]any)["termination-point"].([]any)
		if len(tps) != 1 {
			return false
		}
		refs, _ := tps[0].(map[string]any)["tp-ref"].([]string)
		return len(refs) == 2
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_SummaryAndUnderlay(t *testing.T) {
	h := start(t, aggregationTopology())

	h.publish(t, "t1",
		create("node/a", map[string]any{"ip": "10.0.0.1"}),
		create("node/c", map[string]any{"ip": "10.0.0.3"}),
	)
	h.eventually(t, "/ov/node/node:2")

	s := h.m.Summary()
	assert.Equal(t, "ov", s.Name)
	assert.Equal(t, "node", s.Kind)
	assert.Equal(t, "nt", s.OutputModel)
	assert.Equal(t, "/ov", s.Root)
	assert.True(t, s.Running)
	assert.Equal(t, 2, s.OverlayItems)
	require.Len(t, s.Underlay, 2)
	assert.Equal(t, UnderlaySummary{TopologyID: "t1", Items: 2}, s.Underlay[0])
	assert.Equal(t, UnderlaySummary{TopologyID: "t2"}, s.Underlay[1])

	d, ok := h.m.Underlay("t1")
	require.True(t, ok)
	assert.Equal(t, []string{"node/a", "node/c"}, d.Keys)

	d, ok = h.m.Underlay("t2")
	require.True(t, ok)
	assert.Empty(t, d.Keys)

	_, ok = h.m.Underlay("nope")
	assert.False(t, ok)
}

func TestManager_Lifecycle(t *testing.T) {
	h := start(t, aggregationTopology())

	assert.Error(t, h.m.Start(context.Background()), "second start")
	assert.Equal(t, 2, func() int { return h.hub.Subscribers("t1") + h.hub.Subscribers("t2") }())

	require.NoError(t, h.m.Close())
	require.NoError(t, h.m.Close())
	assert.Equal(t, 0, h.hub.Subscribers("t1"))
}

func TestManager_CloseIsBoundedWhenSinkStalls(t *testing.T) {
	hub := feed.NewHub()
	defer hub.Close()
	nop := zerolog.Nop()

	topo := aggregationTopology()
	topo.Name = "stalled"
	m, err := New(Config{
		Topology: topo,
		Writer:   cfg.WriterConfiguration{MaxBatch: 10, TeardownTimeoutMS: 100},
		Sink:     cfg.SinkConfiguration{Type: "memory"},
		Source:   hub,
		Logger:   &nop,
	})
	require.NoError(t, err)

	chain, ok := sink.LookupMemory("stalled")
	require.True(t, ok)
	release := chain.Hold()
	defer release()

	require.NoError(t, m.Start(context.Background()))

	done := make(chan error, 1)
	go func() { done <- m.Close() }()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, writer.ErrTeardownTimeout)
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a stalled sink")
	}
	assert.Equal(t, 0, hub.Subscribers("t1"))
}

func TestNew_Errors(t *testing.T) {
	hub := feed.NewHub()
	defer hub.Close()

	_, err := New(Config{Topology: aggregationTopology()})
	assert.Error(t, err, "missing source")

	bad := aggregationTopology()
	bad.OutputModel = "yang"
	_, err = New(Config{Topology: bad, Source: hub, Chain: sink.NewMemoryChain()})
	assert.Error(t, err)

	bad = aggregationTopology()
	bad.Underlay = nil
	_, err = New(Config{Topology: bad, Source: hub, Chain: sink.NewMemoryChain()})
	assert.Error(t, err)

	bad = aggregationTopology()
	bad.Filters = []cfg.FilterConfiguration{{Kind: "ipv4", Path: "ip", Prefix: strPtr("not-a-prefix")}}
	_, err = New(Config{Topology: bad, Source: hub, Chain: sink.NewMemoryChain()})
	assert.Error(t, err)

	_, err = New(Config{Topology: aggregationTopology(), Source: hub, Sink: cfg.SinkConfiguration{Type: "carrier-pigeon"}})
	assert.Error(t, err)
}

func TestDetach(t *testing.T) {
	inner := map[string]any{"x": 1}
	v := map[string]any{"list": []map[string]any{inner}, "m": inner}
	out := detach(v).(map[string]any)

	inner["x"] = 2
	assert.Equal(t, 1, out["m"].(map[string]any)["x"])
	assert.Equal(t, 1, out["list"].([]any)[0].(map[string]any)["x"])
}
