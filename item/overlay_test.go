package item

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOverlayItemMembership(t *testing.T) {
	a := NewUnderlayItem(map[string]any{}, "t1", "a", Node)
	b := NewUnderlayItem(map[string]any{}, "t2", "b", Node)

	o := NewOverlayItem("g1", Node, a)
	o.Add(b)
	o.Add(b)

	assert.Equal(t, 2, o.Len())
	assert.Equal(t, "g1", a.OverlayID)
	assert.Same(t, a, o.Anchor())
	assert.True(t, o.HasTopology("t2"))

	assert.True(t, o.Remove(a))
	assert.False(t, o.Remove(a))
	assert.Empty(t, a.OverlayID)
	assert.Same(t, b, o.Anchor())

	o.Remove(b)
	assert.True(t, o.Empty())
	assert.Nil(t, o.Anchor())
}

func TestWrapperFIFOMembers(t *testing.T) {
	a := NewUnderlayItem(map[string]any{}, "t1", "a", Link)
	b := NewUnderlayItem(map[string]any{}, "t1", "b", Link)
	c := NewUnderlayItem(map[string]any{}, "t2", "c", Link)

	first := NewOverlayItem("g1", Link, a, b)
	second := NewOverlayItem("g2", Link, c)
	w := NewOverlayItemWrapper("link:1", first)
	w.AddOverlayItem(second)

	assert.Equal(t, []*UnderlayItem{a, b, c}, w.Members())
	assert.Equal(t, Link, w.Kind())
	assert.False(t, w.Empty())

	assert.True(t, w.RemoveOverlayItem(first))
	assert.Equal(t, []*UnderlayItem{c}, w.Members())
	second.Remove(c)
	assert.True(t, w.Empty())
}

func TestParseCorrelationKind(t *testing.T) {
	for _, k := range Kinds {
		parsed, err := ParseCorrelationKind(k.String())
		assert.NoError(t, err)
		assert.Equal(t, k, parsed)
	}

	k, err := ParseCorrelationKind("tp")
	assert.NoError(t, err)
	assert.Equal(t, TerminationPoint, k)

	_, err = ParseCorrelationKind("router")
	assert.Error(t, err)
}
