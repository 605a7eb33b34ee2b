package id

import (
	"strconv"
	"sync/atomic"

	"github.com/maxpert/topocorr/item"
)

// Generator allocates identifiers for synthesized overlay entities.
type Generator interface {
	Next(kind item.CorrelationKind) string
}

// KindGenerator keeps an independent counter per correlation kind.
// Identifiers look like "node:1", "link:1", "tp:1"; values start at 1, are
// strictly increasing per kind and are never reused.
// Thread-safe via atomic counters.
type KindGenerator struct {
	counters [3]atomic.Uint64
}

// NewKindGenerator creates a generator with every counter at zero
func NewKindGenerator() *KindGenerator {
	return &KindGenerator{}
}

// Next returns the next identifier for kind
func (g *KindGenerator) Next(kind item.CorrelationKind) string {
	n := g.counter(kind).Add(1)
	return kind.Prefix() + ":" + strconv.FormatUint(n, 10)
}

// Issued returns how many identifiers were allocated for kind
func (g *KindGenerator) Issued(kind item.CorrelationKind) uint64 {
	return g.counter(kind).Load()
}

func (g *KindGenerator) counter(kind item.CorrelationKind) *atomic.Uint64 {
	if int(kind) >= len(g.counters) {
		// Unknown kinds share the node counter rather than panicking mid-stream
		return &g.counters[0]
	}
	return &g.counters[kind]
}
