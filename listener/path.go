package listener

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maxpert/topocorr/item"
)

// shape describes the item key layout for one correlation kind, as
// alternating literal and id segments
type shape []string

const idSegment = ""

var shapes = map[item.CorrelationKind]shape{
	item.Node:             {"node", idSegment},
	item.Link:             {"link", idSegment},
	item.TerminationPoint: {"node", idSegment, "termination-point", idSegment},
}

// errForeign marks paths outside the kind's subtree, such as links seen by a
// node listener
var errForeign = errors.New("path outside the item subtree")

// location is a change path split against a kind's key shape
type location struct {
	key      string   // item key, empty for ancestors
	id       string   // item id, empty for ancestors
	rest     []string // segments below the item
	ancestor string
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

// locate maps a change path onto the key shape of kind
func locate(kind item.CorrelationKind, path string) (location, error) {
	sh, ok := shapes[kind]
	if !ok {
		return location{}, fmt.Errorf("no key shape for kind %s", kind)
	}
	segs := splitPath(path)
	for i, s := range segs {
		if s == "" {
			return location{}, fmt.Errorf("empty segment %d in %q", i, path)
		}
		if i < len(sh) && sh[i] != idSegment && sh[i] != s {
			return location{}, fmt.Errorf("segment %q in %q: %w", s, path, errForeign)
		}
	}
	if len(segs) < len(sh) {
		return location{ancestor: strings.Join(segs, "/")}, nil
	}
	return location{
		key:  strings.Join(segs[:len(sh)], "/"),
		id:   segs[len(sh)-1],
		rest: segs[len(sh):],
	}, nil
}

// nest places value at the relative path segments, innermost last
func nest(rest []string, value map[string]any) map[string]any {
	out := value
	for i := len(rest) - 1; i >= 0; i-- {
		out = map[string]any{rest[i]: out}
	}
	return out
}
