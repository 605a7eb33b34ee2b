package item

import (
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/ohler55/ojg/jp"
)

// Cache size for compiled leaf paths shared by all extractors
const pathCacheSize = 512

var pathCache *lru.Cache[string, jp.Expr]

func init() {
	var err error
	pathCache, err = lru.New[string, jp.Expr](pathCacheSize)
	if err != nil {
		panic("failed to create path cache: " + err.Error())
	}
}

// Path is a compiled JSONPath pointing at a sub-value of an item payload
type Path struct {
	raw  string
	expr jp.Expr
}

// CompilePath normalizes and compiles a leaf path. Bare paths ("a.b") are
// treated as rooted ("$.a.b").
func CompilePath(path string) (*Path, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("empty leaf path")
	}
	if !strings.HasPrefix(path, "$") {
		path = "$." + strings.TrimPrefix(path, ".")
	}

	if expr, ok := pathCache.Get(path); ok {
		return &Path{raw: path, expr: expr}, nil
	}

	expr, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid leaf path '%s': %w", path, err)
	}
	pathCache.Add(path, expr)
	return &Path{raw: path, expr: expr}, nil
}

// String returns the normalized path
func (p *Path) String() string { return p.raw }

// Lookup returns the first value at the path, or false when absent
func (p *Path) Lookup(payload map[string]any) (any, bool) {
	if payload == nil {
		return nil, false
	}
	v := p.expr.First(payload)
	if v == nil {
		return nil, false
	}
	return v, true
}

// LookupAll returns every value at the path (for list-valued selections)
func (p *Path) LookupAll(payload map[string]any) []any {
	if payload == nil {
		return nil
	}
	return p.expr.Get(payload)
}

// Field binds a compiled path to its slot in UnderlayItem.Leaf
type Field struct {
	Index int
	Path  *Path
}

// Value returns the field's value, preferring the pre-extracted leaf and
// falling back to the payloads. A missing value is not an error.
func (f Field) Value(u *UnderlayItem) (any, bool) {
	if u == nil {
		return nil, false
	}
	if v, ok := u.Leaf[f.Index]; ok && v != nil {
		return v, true
	}
	if f.Path == nil {
		return nil, false
	}
	if v, ok := f.Path.Lookup(u.Item); ok {
		return v, true
	}
	return f.Path.Lookup(u.Inventory)
}

// Extractor owns the ordered, deduplicated table of target fields for one
// pipeline and fills UnderlayItem.Leaf from it.
type Extractor struct {
	mu     sync.RWMutex
	fields []Field
	byPath map[string]int
}

// NewExtractor creates an empty field table
func NewExtractor() *Extractor {
	return &Extractor{byPath: make(map[string]int)}
}

// Register compiles path and returns its field, reusing an existing slot
// when the same path was registered before.
func (e *Extractor) Register(path string) (Field, error) {
	p, err := CompilePath(path)
	if err != nil {
		return Field{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if idx, ok := e.byPath[p.raw]; ok {
		return e.fields[idx], nil
	}
	f := Field{Index: len(e.fields), Path: p}
	e.fields = append(e.fields, f)
	e.byPath[p.raw] = f.Index
	return f, nil
}

// Fields returns a copy of the registered fields
func (e *Extractor) Fields() []Field {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Field, len(e.fields))
	copy(out, e.fields)
	return out
}

// Populate extracts every registered field present in u's payloads into
// u.Leaf. Fields absent from the payloads are left untouched so a partial
// item never loses previously extracted values on merge.
func (e *Extractor) Populate(u *UnderlayItem) {
	if u == nil {
		return
	}
	e.mu.RLock()
	defer e.mu.RUnlock()

	if u.Leaf == nil {
		u.Leaf = make(map[int]any, len(e.fields))
	}
	for _, f := range e.fields {
		if v, ok := f.Path.Lookup(u.Item); ok {
			u.Leaf[f.Index] = v
			continue
		}
		if v, ok := f.Path.Lookup(u.Inventory); ok {
			u.Leaf[f.Index] = v
		}
	}
}
