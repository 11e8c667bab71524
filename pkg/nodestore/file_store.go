package nodestore

import (
	"container/list"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ssargent/bepsilontree/pkg/bepsilon"
)

const metaFileName = "meta"

// cacheEntry holds one materialized node alongside its LRU list element,
// dirty flag and pin count. A pinned entry (pinCount > 0) is never chosen
// for eviction: it is still borrowed by a live ScopedRef somewhere up the
// call stack.
type cacheEntry struct {
	node     *bepsilon.Node
	dirty    bool
	pinCount int
	element  *list.Element
}

// FileStore is a bepsilon.Store backed by one file per node under baseDir,
// with an in-memory LRU cache bounding how many nodes are materialized at
// once. Dirty, evicted entries are written back before they leave the
// cache; Close flushes everything still dirty.
type FileStore struct {
	mu sync.Mutex

	baseDir  string
	capacity int

	cache map[bepsilon.NodeHandle]*cacheEntry
	lru   *list.List // front = most recently used

	nextHandle bepsilon.NodeHandle
	root       bepsilon.NodeHandle
	hasRoot    bool

	metaDirty bool
}

// OpenFileStore opens (or creates) a node store rooted at baseDir, caching
// up to cacheCapacity materialized nodes at a time.
func OpenFileStore(baseDir string, cacheCapacity int) (*FileStore, error) {
	if cacheCapacity <= 0 {
		cacheCapacity = 1
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("nodestore: create base dir: %w", err)
	}

	fs := &FileStore{
		baseDir:    baseDir,
		capacity:   cacheCapacity,
		cache:      make(map[bepsilon.NodeHandle]*cacheEntry),
		lru:        list.New(),
		nextHandle: 1,
	}

	if err := fs.loadMeta(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) nodePath(h bepsilon.NodeHandle) string {
	return filepath.Join(fs.baseDir, fmt.Sprintf("%016x.node", uint64(h)))
}

func (fs *FileStore) metaPath() string {
	return filepath.Join(fs.baseDir, metaFileName)
}

// loadMeta reads the persisted nextHandle counter and root pointer. A
// freshly created store directory has no meta file yet; that is not an
// error, it just means the store starts empty.
func (fs *FileStore) loadMeta() error {
	data, err := os.ReadFile(fs.metaPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("nodestore: read meta: %w", err)
	}
	if len(data) < 17 {
		return fmt.Errorf("nodestore: meta file too short: %d bytes", len(data))
	}
	fs.nextHandle = bepsilon.NodeHandle(binary.LittleEndian.Uint64(data[0:8]))
	fs.root = bepsilon.NodeHandle(binary.LittleEndian.Uint64(data[8:16]))
	fs.hasRoot = data[16] != 0
	return nil
}

func (fs *FileStore) saveMeta() error {
	var buf [17]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(fs.nextHandle))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(fs.root))
	if fs.hasRoot {
		buf[16] = 1
	}
	tmp := fs.metaPath() + ".tmp"
	if err := os.WriteFile(tmp, buf[:], 0o644); err != nil {
		return fmt.Errorf("nodestore: write meta: %w", err)
	}
	if err := os.Rename(tmp, fs.metaPath()); err != nil {
		return fmt.Errorf("nodestore: rename meta: %w", err)
	}
	fs.metaDirty = false
	return nil
}

// Allocate assigns a fresh handle, caches the node unpinned and marks it
// dirty so it is guaranteed to reach disk even if never explicitly
// mutated again before eviction.
func (fs *FileStore) Allocate(n *bepsilon.Node) (bepsilon.NodeHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	h := fs.nextHandle
	fs.nextHandle++
	fs.metaDirty = true

	entry := &cacheEntry{node: n, dirty: true}
	entry.element = fs.lru.PushFront(h)
	fs.cache[h] = entry

	if err := fs.evictIfNeeded(); err != nil {
		return bepsilon.NilHandle, err
	}
	return h, nil
}

// Deref resolves h to a pinned, mutable reference, loading it from disk on
// a cache miss.
func (fs *FileStore) Deref(h bepsilon.NodeHandle) (bepsilon.ScopedRef, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if entry, ok := fs.cache[h]; ok {
		entry.pinCount++
		fs.lru.MoveToFront(entry.element)
		return &fileScopedRef{store: fs, handle: h}, nil
	}

	data, err := os.ReadFile(fs.nodePath(h))
	if err != nil {
		return nil, fmt.Errorf("nodestore: read node %d: %w", h, err)
	}
	n, err := decodeNode(data)
	if err != nil {
		return nil, fmt.Errorf("nodestore: decode node %d: %w", h, err)
	}

	entry := &cacheEntry{node: n, pinCount: 1}
	entry.element = fs.lru.PushFront(h)
	fs.cache[h] = entry

	if err := fs.evictIfNeeded(); err != nil {
		return nil, err
	}
	return &fileScopedRef{store: fs, handle: h}, nil
}

// MarkDirty records that the node behind h was mutated through a
// previously returned ScopedRef.
func (fs *FileStore) MarkDirty(h bepsilon.NodeHandle) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if entry, ok := fs.cache[h]; ok {
		entry.dirty = true
	}
}

// ReleaseOnDelete drops a merged-away node from cache and disk. The
// caller guarantees the handle will never be dereferenced again.
func (fs *FileStore) ReleaseOnDelete(h bepsilon.NodeHandle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if entry, ok := fs.cache[h]; ok {
		fs.lru.Remove(entry.element)
		delete(fs.cache, h)
	}
	if err := os.Remove(fs.nodePath(h)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("nodestore: remove node %d: %w", h, err)
	}
	return nil
}

func (fs *FileStore) Root() (bepsilon.NodeHandle, bool) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.root, fs.hasRoot
}

func (fs *FileStore) SetRoot(h bepsilon.NodeHandle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.root = h
	fs.hasRoot = h != bepsilon.NilHandle
	return fs.saveMeta()
}

// Close writes back every dirty cached node and the meta file.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	for h, entry := range fs.cache {
		if entry.dirty {
			if err := fs.writeBack(h, entry); err != nil {
				return err
			}
		}
	}
	if fs.metaDirty {
		return fs.saveMeta()
	}
	return nil
}

func (fs *FileStore) writeBack(h bepsilon.NodeHandle, entry *cacheEntry) error {
	data := encodeNode(entry.node)
	tmp := fs.nodePath(h) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("nodestore: write node %d: %w", h, err)
	}
	if err := os.Rename(tmp, fs.nodePath(h)); err != nil {
		return fmt.Errorf("nodestore: rename node %d: %w", h, err)
	}
	entry.dirty = false
	return nil
}

// evictIfNeeded writes back and drops least-recently-used unpinned entries
// until the cache is back at or under capacity. Pinned entries are left
// in place: evictIfNeeded assumes the caller still holds fs.mu.
func (fs *FileStore) evictIfNeeded() error {
	for fs.lru.Len() > fs.capacity {
		elem := fs.lru.Back()
		if elem == nil {
			return nil
		}
		h := elem.Value.(bepsilon.NodeHandle)
		entry := fs.cache[h]
		if entry == nil {
			fs.lru.Remove(elem)
			continue
		}
		if entry.pinCount > 0 {
			// Every remaining entry behind this one is at least as
			// recently used, so nothing further back is evictable
			// either; stop rather than spin.
			return nil
		}
		if entry.dirty {
			if err := fs.writeBack(h, entry); err != nil {
				return err
			}
		}
		fs.lru.Remove(elem)
		delete(fs.cache, h)
	}
	return nil
}

func (fs *FileStore) release(h bepsilon.NodeHandle) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if entry, ok := fs.cache[h]; ok && entry.pinCount > 0 {
		entry.pinCount--
	}
}

// fileScopedRef is the ScopedRef FileStore hands back from Deref.
type fileScopedRef struct {
	store    *FileStore
	handle   bepsilon.NodeHandle
	released bool
}

func (r *fileScopedRef) Node() *bepsilon.Node {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.cache[r.handle].node
}

func (r *fileScopedRef) Release() {
	if r.released {
		return
	}
	r.released = true
	r.store.release(r.handle)
}
