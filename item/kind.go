package item

import "fmt"

// CorrelationKind is the category of entity being correlated
type CorrelationKind uint8

const (
	Node CorrelationKind = iota
	Link
	TerminationPoint
)

// Kinds lists every correlation kind in declaration order
var Kinds = []CorrelationKind{Node, Link, TerminationPoint}

// String returns the configuration name of the kind
func (k CorrelationKind) String() string {
	switch k {
	case Node:
		return "node"
	case Link:
		return "link"
	case TerminationPoint:
		return "termination-point"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Prefix returns the short prefix used in synthesized identifiers (node:1, tp:7)
func (k CorrelationKind) Prefix() string {
	switch k {
	case Node:
		return "node"
	case Link:
		return "link"
	case TerminationPoint:
		return "tp"
	default:
		return "unknown"
	}
}

// ParseCorrelationKind parses a configuration name or prefix into a kind
func ParseCorrelationKind(s string) (CorrelationKind, error) {
	switch s {
	case "node":
		return Node, nil
	case "link":
		return Link, nil
	case "termination-point", "tp":
		return TerminationPoint, nil
	default:
		return 0, fmt.Errorf("unknown correlation kind: %q", s)
	}
}
