package manager

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/feed"
	"github.com/maxpert/topocorr/listener"
	"github.com/maxpert/topocorr/sink"
	"github.com/maxpert/topocorr/telemetry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ telemetry.PipelineLister = (*Registry)(nil)

func registryConfig() *cfg.Configuration {
	c := cfg.Default()
	c.Sink.Type = "memory"
	a := aggregationTopology()
	a.Name = "reg-a"
	b := cfg.TopologyConfiguration{
		Name:     "reg-b",
		Kind:     "link",
		Underlay: []cfg.UnderlayConfiguration{{TopologyID: "t1"}},
		Filters:  []cfg.FilterConfiguration{{Kind: "glob", Path: "link-id", Patterns: []string{"core-*"}}},
	}
	c.Topologies = []cfg.TopologyConfiguration{a, b}
	return c
}

func TestRegistry_Lifecycle(t *testing.T) {
	hub := feed.NewHub()
	defer hub.Close()
	nop := zerolog.Nop()

	r, err := NewRegistry(RegistryConfig{Config: registryConfig(), Source: hub, Logger: &nop, CollectInterval: 10 * time.Millisecond})
	require.NoError(t, err)

	assert.Equal(t, []string{"reg-a", "reg-b"}, r.ListTopologies())
	assert.NotNil(t, r.Pipeline("reg-a"))
	assert.Nil(t, r.Pipeline("missing"))

	require.NoError(t, r.Start(context.Background()))
	assert.Error(t, r.Start(context.Background()))

	require.NoError(t, hub.Publish(context.Background(), "t1", []listener.Change{
		create("link/core-1", map[string]any{"link-id": "core-1", "source": "a", "destination": "b"}),
		create("link/edge-1", map[string]any{"link-id": "edge-1"}),
	}))

	chainB, ok := sink.LookupMemory("reg-b")
	require.True(t, ok)
	require.Eventually(t, func() bool {
		_, ok := chainB.Get("/reg-b/link/link:1")
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	v, _ := chainB.Get("/reg-b/link/link:1")
	link := v.(map[string]any)
	assert.Equal(t, "a", link["source"])
	assert.Equal(t, "b", link["destination"])

	m, ok := r.Get("reg-b")
	require.True(t, ok)
	assert.Equal(t, []string{"/reg-b/link/link:1"}, m.OverlayIDs())

	r.Stop()
	r.Stop()
	assert.Equal(t, 0, hub.Subscribers("t1"))
}

func TestNewRegistry_Errors(t *testing.T) {
	_, err := NewRegistry(RegistryConfig{Source: feed.NewHub()})
	assert.Error(t, err)

	_, err = NewRegistry(RegistryConfig{Config: registryConfig()})
	assert.Error(t, err)

	c := registryConfig()
	c.Topologies[1].OutputModel = "unknown"
	_, err = NewRegistry(RegistryConfig{Config: c, Source: feed.NewHub()})
	assert.Error(t, err)

	c = registryConfig()
	c.Topologies[1].Name = "reg-a"
	_, err = NewRegistry(RegistryConfig{Config: c, Source: feed.NewHub()})
	assert.Error(t, err)
}

func TestRegistry_RollbackLogsCloseErrors(t *testing.T) {
	hub := feed.NewHub()
	defer hub.Close()
	chain := sink.NewMemoryChain()
	defer chain.Close()
	chain.FailWith(assert.AnError)
	nop := zerolog.Nop()

	m, err := New(Config{
		Topology: aggregationTopology(),
		Writer:   cfg.WriterConfiguration{MaxBatch: 10, TeardownTimeoutMS: 100},
		Chain:    chain,
		Source:   hub,
		Logger:   &nop,
	})
	require.NoError(t, err)

	var buf bytes.Buffer
	r := &Registry{managers: map[string]*TopologyManager{}, logger: zerolog.New(&buf)}
	require.NoError(t, r.add(m))

	r.closeAll()
	assert.Contains(t, buf.String(), "Topology teardown reported an error")
	assert.Contains(t, buf.String(), `"topology":"ov"`)
}
