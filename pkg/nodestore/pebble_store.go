package nodestore

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/ssargent/bepsilontree/pkg/bepsilon"
)

var (
	rootKey   = []byte("__bepsilon_root__")
	nextIDKey = []byte("__bepsilon_next_handle__")
)

// PebbleNodeStore is a bepsilon.Store backed by a Pebble LSM tree, keyed by
// big-endian NodeHandle bytes. Unlike FileStore it has no bounded cache:
// Pebble's own block cache absorbs repeated reads, so Deref always decodes
// straight from the database. A node marked dirty is staged when its
// ScopedRef is released and written to the database on Close.
type PebbleNodeStore struct {
	mu sync.Mutex
	db *pebble.DB

	dirty      map[bepsilon.NodeHandle]*bepsilon.Node
	nextHandle bepsilon.NodeHandle
	root       bepsilon.NodeHandle
	hasRoot    bool
}

// OpenPebbleNodeStore opens (or creates) a Pebble-backed node store at path.
func OpenPebbleNodeStore(path string) (*PebbleNodeStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("nodestore: open pebble: %w", err)
	}

	s := &PebbleNodeStore{
		db:         db,
		dirty:      make(map[bepsilon.NodeHandle]*bepsilon.Node),
		nextHandle: 1,
	}
	if err := s.loadMeta(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *PebbleNodeStore) loadMeta() error {
	if v, closer, err := s.db.Get(nextIDKey); err == nil {
		s.nextHandle = bepsilon.NodeHandle(binary.LittleEndian.Uint64(v))
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("nodestore: read next handle: %w", err)
	}

	if v, closer, err := s.db.Get(rootKey); err == nil {
		s.root = bepsilon.NodeHandle(binary.LittleEndian.Uint64(v))
		s.hasRoot = true
		closer.Close()
	} else if err != pebble.ErrNotFound {
		return fmt.Errorf("nodestore: read root: %w", err)
	}
	return nil
}

func handleKey(h bepsilon.NodeHandle) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(h))
	return buf
}

// Allocate assigns a fresh handle and stages n in the dirty set for
// writing on Close; it is immediately visible to
// subsequent Derefs in the same process even before it hits Pebble.
func (s *PebbleNodeStore) Allocate(n *bepsilon.Node) (bepsilon.NodeHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.nextHandle
	s.nextHandle++
	s.dirty[h] = n

	if err := s.db.Set(nextIDKey, encodeUint64(uint64(s.nextHandle)), pebble.NoSync); err != nil {
		return bepsilon.NilHandle, fmt.Errorf("nodestore: persist next handle: %w", err)
	}
	return h, nil
}

// Deref resolves h to a mutable reference. A handle still pending write in
// the dirty set is served from there directly so a node allocated earlier
// in the same flush is visible before it is ever persisted.
func (s *PebbleNodeStore) Deref(h bepsilon.NodeHandle) (bepsilon.ScopedRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n, ok := s.dirty[h]; ok {
		return &pebbleScopedRef{store: s, handle: h, node: n}, nil
	}

	data, closer, err := s.db.Get(handleKey(h))
	if err != nil {
		return nil, fmt.Errorf("nodestore: get node %d: %w", h, err)
	}
	n, decodeErr := decodeNode(data)
	closer.Close()
	if decodeErr != nil {
		return nil, fmt.Errorf("nodestore: decode node %d: %w", h, decodeErr)
	}
	return &pebbleScopedRef{store: s, handle: h, node: n}, nil
}

// MarkDirty stages the node behind h for write-through; the node must
// already have been loaded (and thus be held) through a live ScopedRef.
func (s *PebbleNodeStore) MarkDirty(h bepsilon.NodeHandle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dirty[h]; ok {
		return
	}
	// The ScopedRef that called MarkDirty still owns the authoritative
	// *Node; record presence here and let Release stage that *Node so
	// Close serializes it once, after mutation is complete.
	s.dirty[h] = nil
}

func (s *PebbleNodeStore) writeThrough(h bepsilon.NodeHandle, n *bepsilon.Node) error {
	data := encodeNode(n)
	if err := s.db.Set(handleKey(h), data, pebble.NoSync); err != nil {
		return fmt.Errorf("nodestore: set node %d: %w", h, err)
	}
	delete(s.dirty, h)
	return nil
}

// ReleaseOnDelete removes a merged-away node from Pebble and the dirty set.
func (s *PebbleNodeStore) ReleaseOnDelete(h bepsilon.NodeHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.dirty, h)
	if err := s.db.Delete(handleKey(h), pebble.NoSync); err != nil {
		return fmt.Errorf("nodestore: delete node %d: %w", h, err)
	}
	return nil
}

func (s *PebbleNodeStore) Root() (bepsilon.NodeHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.root, s.hasRoot
}

func (s *PebbleNodeStore) SetRoot(h bepsilon.NodeHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.root = h
	s.hasRoot = h != bepsilon.NilHandle
	if err := s.db.Set(rootKey, encodeUint64(uint64(h)), pebble.NoSync); err != nil {
		return fmt.Errorf("nodestore: persist root: %w", err)
	}
	return nil
}

// Close writes through anything still staged and closes the database.
func (s *PebbleNodeStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h, n := range s.dirty {
		if n == nil {
			continue
		}
		if err := s.writeThrough(h, n); err != nil {
			return err
		}
	}
	return s.db.Close()
}

func encodeUint64(v uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	return buf
}

// pebbleScopedRef is the ScopedRef PebbleNodeStore hands back from Deref.
// Release stages the node for writing on Close if MarkDirty was called on
// its handle since it was materialized.
type pebbleScopedRef struct {
	store    *PebbleNodeStore
	handle   bepsilon.NodeHandle
	node     *bepsilon.Node
	released bool
}

func (r *pebbleScopedRef) Node() *bepsilon.Node {
	return r.node
}

func (r *pebbleScopedRef) Release() {
	if r.released {
		return
	}
	r.released = true

	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if _, staged := r.store.dirty[r.handle]; staged {
		r.store.dirty[r.handle] = r.node
	}
}
