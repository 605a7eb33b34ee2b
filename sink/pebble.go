package sink

import (
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/topocorr/cfg"
	"github.com/maxpert/topocorr/encoding"
	"github.com/maxpert/topocorr/writer"
	"github.com/rs/zerolog/log"
)

// prefixOverlay namespaces overlay ids: /overlay{id}
const prefixOverlay = "/overlay"

const (
	memTableSize                = 64 << 20 // 64MB
	memTableStopWritesThreshold = 4
	l0CompactionThreshold       = 2
	l0StopWritesThreshold       = 12
	maxConcurrentCompactions    = 3
)

func init() {
	writer.RegisterChain("pebble", func(conf cfg.SinkConfiguration, topology string) (writer.TransactionChain, error) {
		path := conf.Path
		if path == "" {
			path = filepath.Join(cfg.Config.DataDir, "overlay")
		}
		codec, err := encoding.NewCodec(conf.Compression)
		if err != nil {
			return nil, err
		}
		return OpenPebbleChain(path, topology, codec)
	})
}

// pebbleStore is one database shared by every chain opened on its path
type pebbleStore struct {
	db   *pebble.DB
	path string
	refs int
}

var (
	storesMu sync.Mutex
	stores   = make(map[string]*pebbleStore)
)

func acquireStore(path string) (*pebbleStore, error) {
	storesMu.Lock()
	defer storesMu.Unlock()

	if s, ok := stores[path]; ok {
		s.refs++
		return s, nil
	}

	opts := &pebble.Options{
		MemTableSize:                memTableSize,
		MemTableStopWritesThreshold: memTableStopWritesThreshold,
		L0CompactionThreshold:       l0CompactionThreshold,
		L0StopWritesThreshold:       l0StopWritesThreshold,
		MaxConcurrentCompactions:    func() int { return maxConcurrentCompactions },
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open overlay store at %s: %w", path, err)
	}
	s := &pebbleStore{db: db, path: path, refs: 1}
	stores[path] = s
	log.Info().Str("path", path).Msg("Opened overlay store")
	return s, nil
}

func releaseStore(s *pebbleStore) error {
	storesMu.Lock()
	defer storesMu.Unlock()

	s.refs--
	if s.refs > 0 {
		return nil
	}
	delete(stores, s.path)
	return s.db.Close()
}

// PebbleChain commits overlay transactions as synced Pebble batches
type PebbleChain struct {
	store    *pebbleStore
	topology string
	codec    *encoding.Codec
	c        *committer
	closed   atomic.Bool
}

// OpenPebbleChain opens (or shares) the database at path
func OpenPebbleChain(path, topology string, codec *encoding.Codec) (*PebbleChain, error) {
	if codec == nil {
		codec, _ = encoding.NewCodec("")
	}
	s, err := acquireStore(path)
	if err != nil {
		return nil, err
	}
	p := &PebbleChain{store: s, topology: topology, codec: codec}
	p.c = newCommitter(p.apply)
	return p, nil
}

func (p *PebbleChain) NewTransaction() writer.Transaction {
	return &transaction{c: p.c}
}

func (p *PebbleChain) apply(ops []writer.Operation) error {
	batch := p.store.db.NewIndexedBatch()
	defer batch.Close()

	for _, op := range ops {
		key := []byte(prefixOverlay + op.Target())
		switch o := op.(type) {
		case writer.PutOperation:
			val, err := p.codec.Encode(o.Value)
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", o.ID, err)
			}
			if err := batch.Set(key, val, nil); err != nil {
				return err
			}
		case writer.MergeOperation:
			prev, err := p.read(batch, key)
			if err != nil {
				return err
			}
			val, err := p.codec.Encode(mergeValue(prev, o.Value))
			if err != nil {
				return fmt.Errorf("failed to encode %s: %w", o.ID, err)
			}
			if err := batch.Set(key, val, nil); err != nil {
				return err
			}
		case writer.DeleteOperation:
			if err := batch.Delete(key, nil); err != nil {
				return err
			}
			children := append([]byte(prefixOverlay+o.ID), '/')
			if err := batch.DeleteRange(children, prefixUpperBound(children), nil); err != nil {
				return err
			}
		}
	}

	return batch.Commit(pebble.Sync)
}

func (p *PebbleChain) read(r pebble.Reader, key []byte) (any, error) {
	raw, closer, err := r.Get(key)
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	var v any
	if err := p.codec.Decode(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return v, nil
}

// Get returns the committed value at id
func (p *PebbleChain) Get(id string) (any, bool, error) {
	v, err := p.read(p.store.db, []byte(prefixOverlay+id))
	if err != nil {
		return nil, false, err
	}
	return v, v != nil, nil
}

// Scan returns every committed value at or below id, keyed by overlay id
func (p *PebbleChain) Scan(id string) (map[string]any, error) {
	out := make(map[string]any)
	v, ok, err := p.Get(id)
	if err != nil {
		return nil, err
	}
	if ok {
		out[id] = v
	}

	lower := []byte(prefixOverlay + id + "/")
	iter, err := p.store.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: prefixUpperBound(lower),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		raw, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var v any
		if err := p.codec.Decode(raw, &v); err != nil {
			return nil, err
		}
		out[string(iter.Key()[len(prefixOverlay):])] = v
	}
	return out, iter.Error()
}

// Close waits for queued commits and releases the database
func (p *PebbleChain) Close() error {
	return p.CloseWithin(0)
}

// CloseWithin implements writer.BoundedChain. A stalled commit keeps its
// database reference until it finishes.
func (p *PebbleChain) CloseWithin(timeout time.Duration) error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := p.c.closeWithin(timeout); err != nil {
		go func() {
			<-p.c.done
			_ = releaseStore(p.store)
		}()
		return err
	}
	return releaseStore(p.store)
}

// prefixUpperBound returns the upper bound for a prefix scan
func prefixUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
