package operator

import (
	"testing"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/id"
	"github.com/maxpert/topocorr/item"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostAggregationFiltrator_GatesWrappers(t *testing.T) {
	out := newRecordingOutput()
	post := NewPostAggregationFiltrator("overlay", ipFilter(t, "10.0.0.0/24"), out)

	agg, err := NewAggregator(Config{Topology: "overlay", Kind: item.Node, IDs: id.NewKindGenerator(), Output: post},
		cfg.AggregationConfiguration{Paths: []string{"name"}})
	require.NoError(t, err)

	// neither member passes yet
	agg.ProcessCreated("node/a", nodeItem("t1", "a", map[string]any{"name": "r1", "ip": "192.168.0.1"}), "t1")
	assert.Empty(t, out.ops())

	// second member passes, group becomes visible
	agg.ProcessCreated("node/b", nodeItem("t2", "b", map[string]any{"name": "r1", "ip": "10.0.0.9"}), "t2")
	assert.Equal(t, []string{"add"}, out.ops())
	assert.Equal(t, []string{"t1/a", "t2/b"}, out.last().members)

	agg.ProcessUpdated("node/a", nodeItem("t1", "a", map[string]any{"mtu": 1500}), "t1")
	assert.Equal(t, "update", out.last().op)

	// the passing member moves away, the rest of the group is hidden
	agg.ProcessUpdated("node/b", nodeItem("t2", "b", map[string]any{"ip": "172.16.0.1"}), "t2")
	assert.Equal(t, "remove", out.last().op)

	agg.ProcessRemoved([]string{"node/a", "node/b"}, "t1")
	agg.ProcessRemoved([]string{"node/b"}, "t2")
	assert.Equal(t, []string{"add", "update", "remove"}, out.ops(), "hidden wrappers are never removed twice")
}

func TestPostAggregationFiltrator_RemoveOfHiddenIsSilent(t *testing.T) {
	out := newRecordingOutput()
	post := NewPostAggregationFiltrator("overlay", ipFilter(t, "10.0.0.0/24"), out)

	w := item.NewOverlayItemWrapper("node:1", item.NewOverlayItem("node:1", item.Node, nodeItem("t1", "a", map[string]any{"ip": "1.1.1.1"})))
	post.AddOverlayItem(w)
	post.RemoveOverlayItem(w)
	assert.Empty(t, out.ops())
}
