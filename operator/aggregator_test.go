package operator

import (
	"testing"

	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/id"
	"github.com/maxpert/topocorr/item"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAggregator(t *testing.T, agg cfg.AggregationConfiguration) (*Aggregator, *recordingOutput) {
	t.Helper()
	out := newRecordingOutput()
	nop := zerolog.Nop()
	a, err := NewAggregator(Config{
		Topology: "overlay",
		Kind:     item.Node,
		IDs:      id.NewKindGenerator(),
		Output:   out,
		Logger:   &nop,
	}, agg)
	require.NoError(t, err)
	return a, out
}

func byName() cfg.AggregationConfiguration {
	return cfg.AggregationConfiguration{Matcher: "equality", Paths: []string{"name"}}
}

func TestNewAggregator_Errors(t *testing.T) {
	_, err := NewAggregator(Config{Kind: item.Node}, byName())
	assert.Error(t, err, "missing output")

	out := newRecordingOutput()
	_, err = NewAggregator(Config{Kind: item.Node, Output: out}, cfg.AggregationConfiguration{})
	assert.Error(t, err, "missing paths")

	_, err = NewAggregator(Config{Kind: item.Node, Output: out}, cfg.AggregationConfiguration{Matcher: "fuzzy", Paths: []string{"x"}})
	assert.Error(t, err, "unknown matcher")
}

func TestAggregator_GroupsAcrossTopologies(t *testing.T) {
	a, out := newAggregator(t, byName())

	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1"}), "t1")
	a.ProcessCreated("node/9", nodeItem("t2", "9", map[string]any{"name": "r1"}), "t2")
	a.ProcessCreated("node/2", nodeItem("t1", "2", map[string]any{"name": "r2"}), "t1")

	assert.Equal(t, []string{"add", "update", "add"}, out.ops())
	assert.Equal(t, [][]string{{"t1/1", "t2/9"}, {"t1/2"}}, out.groups())

	ws := a.Wrappers()
	require.Len(t, ws, 2)
	assert.Equal(t, "node:1", ws[0].ID)
	assert.Equal(t, "node:2", ws[1].ID)
}

func TestAggregator_SameTopologyMembersNeedAggregateInside(t *testing.T) {
	a, out := newAggregator(t, byName())
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1"}), "t1")
	a.ProcessCreated("node/2", nodeItem("t1", "2", map[string]any{"name": "r1"}), "t1")
	assert.Equal(t, [][]string{{"t1/1"}, {"t1/2"}}, out.groups())

	inside := byName()
	inside.AggregateInside = true
	b, out := newAggregator(t, inside)
	b.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1"}), "t1")
	b.ProcessCreated("node/2", nodeItem("t1", "2", map[string]any{"name": "r1"}), "t1")
	assert.Equal(t, [][]string{{"t1/1", "t1/2"}}, out.groups())
}

func TestAggregator_LastMemberRemovalIsRemove(t *testing.T) {
	a, out := newAggregator(t, byName())
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1"}), "t1")
	a.ProcessCreated("node/1", nodeItem("t2", "1", map[string]any{"name": "r1"}), "t2")

	a.ProcessRemoved([]string{"node/1"}, "t1")
	assert.Equal(t, "update", out.last().op)
	assert.Equal(t, []string{"t2/1"}, out.last().members)

	a.ProcessRemoved([]string{"node/1"}, "t2")
	last := out.last()
	assert.Equal(t, "remove", last.op)
	assert.Empty(t, last.members)
	assert.Empty(t, out.groups())
	assert.Empty(t, a.Wrappers())

	a.ProcessRemoved([]string{"node/1", "node/unknown"}, "t2")
	a.ProcessRemoved([]string{"node/1"}, "never-seen")
	assert.Len(t, out.ops(), 4, "unknown keys produce no decisions")
}

func TestAggregator_PartialUpdateKeepsKnownData(t *testing.T) {
	a, out := newAggregator(t, byName())
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{
		"name":  "r1",
		"attrs": map[string]any{"vendor": "acme", "os": "v1"},
	}), "t1")

	a.ProcessUpdated("node/1", nodeItem("t1", "1", map[string]any{
		"attrs": map[string]any{"os": "v2"},
	}), "t1")

	assert.Equal(t, []string{"add", "update"}, out.ops())
	st, ok := a.Stores().Lookup("t1")
	require.True(t, ok)
	u, ok := st.Get("node/1")
	require.True(t, ok)
	assert.Equal(t, "r1", u.Item["name"])
	assert.Equal(t, map[string]any{"vendor": "acme", "os": "v2"}, u.Item["attrs"])
}

func TestAggregator_MissingKeyIsNotGroupedUntilSupplied(t *testing.T) {
	a, out := newAggregator(t, byName())
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"mgmt": "10.0.0.1"}), "t1")
	assert.Empty(t, out.ops())
	assert.Equal(t, 1, a.Stores().Len())

	a.ProcessUpdated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1"}), "t1")
	assert.Equal(t, []string{"add"}, out.ops())
}

func TestAggregator_PartialItemWaitsForInventory(t *testing.T) {
	a, out := newAggregator(t, byName())
	u := nodeItem("t1", "1", map[string]any{"name": "r1"})
	u.NeedsInventory = true
	a.ProcessCreated("node/1", u, "t1")
	assert.Empty(t, out.ops())

	inv := &item.UnderlayItem{Inventory: map[string]any{"serial": "abc"}, ItemID: "1"}
	a.ProcessUpdated("node/1", inv, "t1")
	assert.Equal(t, []string{"add"}, out.ops())
}

func TestAggregator_UpdateMovesItemBetweenGroups(t *testing.T) {
	a, out := newAggregator(t, byName())
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1"}), "t1")
	a.ProcessCreated("node/1", nodeItem("t2", "1", map[string]any{"name": "r1"}), "t2")
	a.ProcessCreated("node/1", nodeItem("t3", "1", map[string]any{"name": "r2"}), "t3")
	require.Equal(t, [][]string{{"t1/1", "t2/1"}, {"t3/1"}}, out.groups())

	a.ProcessUpdated("node/1", nodeItem("t2", "1", map[string]any{"name": "r2"}), "t2")
	assert.Equal(t, [][]string{{"t1/1"}, {"t2/1", "t3/1"}}, out.groups())
	assert.Equal(t, []string{"add", "update", "add", "update", "update"}, out.ops())
}

func TestAggregator_SoleMemberKeyChangeKeepsWrapper(t *testing.T) {
	a, out := newAggregator(t, byName())
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1"}), "t1")
	a.ProcessUpdated("node/1", nodeItem("t1", "1", map[string]any{"name": "r9"}), "t1")

	assert.Equal(t, []string{"add", "update"}, out.ops())
	assert.Equal(t, "node:1", out.last().id)

	// the new key is indexed: a matching item joins the same wrapper
	a.ProcessCreated("node/5", nodeItem("t2", "5", map[string]any{"name": "r9"}), "t2")
	assert.Equal(t, "node:1", out.last().id)
	assert.Equal(t, []string{"t1/1", "t2/5"}, out.last().members)

	// and the old key is not
	a.ProcessCreated("node/6", nodeItem("t2", "6", map[string]any{"name": "r1"}), "t2")
	assert.Equal(t, "add", out.last().op)
}

func TestAggregator_SoleMemberJoinsExistingGroup(t *testing.T) {
	a, out := newAggregator(t, byName())
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1"}), "t1")
	a.ProcessCreated("node/2", nodeItem("t2", "2", map[string]any{"name": "r2"}), "t2")

	a.ProcessUpdated("node/2", nodeItem("t2", "2", map[string]any{"name": "r1"}), "t2")
	assert.Equal(t, [][]string{{"t1/1", "t2/2"}}, out.groups())
	assert.Equal(t, []string{"add", "add", "remove", "update"}, out.ops())
}

func TestAggregator_CreateOnKnownKeyMerges(t *testing.T) {
	a, out := newAggregator(t, byName())
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"name": "r1", "os": "v1"}), "t1")
	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"os": "v2"}), "t1")

	assert.Equal(t, []string{"add", "update"}, out.ops())
	assert.Equal(t, 1, a.Stores().Len())
}

// Convergence: whatever order the creates, updates and removes of items that
// end up sharing a key arrive in, the wrapper holds exactly the live items.
func TestAggregator_ConvergesRegardlessOfOrder(t *testing.T) {
	type step func(a *Aggregator)
	create := func(topo string, payload map[string]any) step {
		return func(a *Aggregator) {
			a.ProcessCreated("node/x", nodeItem(topo, "x", payload), topo)
		}
	}
	update := func(topo string, payload map[string]any) step {
		return func(a *Aggregator) {
			a.ProcessUpdated("node/x", nodeItem(topo, "x", payload), topo)
		}
	}
	remove := func(topo string) step {
		return func(a *Aggregator) { a.ProcessRemoved([]string{"node/x"}, topo) }
	}

	// t1 and t3 arrive with the final key, t2 gets it late, t4 comes and goes
	perTopology := [][]step{
		{create("t1", map[string]any{"name": "core"})},
		{create("t2", map[string]any{"mgmt": "10.0.0.2"}), update("t2", map[string]any{"name": "core"})},
		{create("t3", map[string]any{"name": "edge"}), update("t3", map[string]any{"name": "core"})},
		{create("t4", map[string]any{"name": "core"}), remove("t4")},
	}

	orders := interleavings(perTopology)
	require.NotEmpty(t, orders)
	for _, order := range orders {
		agg := byName()
		a, out := newAggregator(t, agg)
		for _, s := range order {
			s(a)
		}
		assert.Equal(t, [][]string{{"t1/x", "t2/x", "t3/x"}}, out.groups())
		assert.Len(t, a.Wrappers(), 1)
	}
}

// interleavings returns a sample of merges of the sequences that keep each
// sequence's own order: every rotation of the sequence list, flattened
// round-robin and back-to-back.
func interleavings[T any](seqs [][]T) [][]T {
	var out [][]T
	n := len(seqs)
	for r := 0; r < n; r++ {
		rotated := append(append([][]T{}, seqs[r:]...), seqs[:r]...)

		var serial []T
		for _, s := range rotated {
			serial = append(serial, s...)
		}
		out = append(out, serial)

		var robin []T
		for i := 0; ; i++ {
			added := false
			for _, s := range rotated {
				if i < len(s) {
					robin = append(robin, s[i])
					added = true
				}
			}
			if !added {
				break
			}
		}
		out = append(out, robin)

		reversed := make([][]T, n)
		for i := range rotated {
			reversed[i] = rotated[n-1-i]
		}
		var rev []T
		for _, s := range reversed {
			rev = append(rev, s...)
		}
		out = append(out, rev)
	}
	return out
}

func TestAggregator_RangeMatcher(t *testing.T) {
	a, out := newAggregator(t, cfg.AggregationConfiguration{Matcher: "range", Paths: []string{"asn"}, Tolerance: 5})

	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"asn": 100}), "t1")
	a.ProcessCreated("node/2", nodeItem("t2", "2", map[string]any{"asn": 105}), "t2")
	a.ProcessCreated("node/3", nodeItem("t3", "3", map[string]any{"asn": 106}), "t3")
	a.ProcessCreated("node/4", nodeItem("t4", "4", map[string]any{"asn": "not-a-number"}), "t4")

	assert.Equal(t, [][]string{{"t1/1", "t2/2"}, {"t3/3"}, {"t4/4"}}, out.groups())
}

func TestAggregator_ScriptMatcher(t *testing.T) {
	a, out := newAggregator(t, cfg.AggregationConfiguration{
		Matcher: "script",
		Paths:   []string{"asn"},
		Script:  "int(a) / 10 == int(b) / 10",
	})

	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"asn": 11}), "t1")
	a.ProcessCreated("node/2", nodeItem("t2", "2", map[string]any{"asn": 15}), "t2")
	a.ProcessCreated("node/3", nodeItem("t3", "3", map[string]any{"asn": 21}), "t3")

	assert.Equal(t, [][]string{{"t1/1", "t2/2"}, {"t3/3"}}, out.groups())
}

func TestAggregator_CompositeKey(t *testing.T) {
	a, out := newAggregator(t, cfg.AggregationConfiguration{Paths: []string{"site", "rack"}})

	a.ProcessCreated("node/1", nodeItem("t1", "1", map[string]any{"site": "fra", "rack": 1}), "t1")
	a.ProcessCreated("node/2", nodeItem("t2", "2", map[string]any{"site": "fra", "rack": 1}), "t2")
	a.ProcessCreated("node/3", nodeItem("t3", "3", map[string]any{"site": "fra", "rack": 2}), "t3")
	a.ProcessCreated("node/4", nodeItem("t4", "4", map[string]any{"site": "fra"}), "t4")

	assert.Equal(t, [][]string{{"t1/1", "t2/2"}, {"t3/3"}}, out.groups())
}
