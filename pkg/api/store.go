package api

import (
	"fmt"

	"github.com/segmentio/ksuid"
	"github.com/ssargent/bepsilontree/pkg/bepsilon"
	"github.com/ssargent/bepsilontree/pkg/storage"
)

// recordTag marks whether a tree value holds the caller's bytes directly or
// a pointer into the overflow blob store.
type recordTag byte

const (
	recordInline   recordTag = 0
	recordOverflow recordTag = 1
)

// TreeStore adapts a *bepsilon.Tree to the KVStore interface the HTTP
// handlers depend on. Values larger than maxInline are held in an overflow
// blob store instead of the tree itself, since a B-epsilon tree's buffer
// flushes move whole messages around and a handful of oversized values can
// dominate that cost.
type TreeStore struct {
	tree      *bepsilon.Tree
	overflow  *storage.DefaultStorage
	maxInline int
}

// NewTreeStore wraps tree for use by the API server. All values are stored
// inline; use NewTreeStoreWithOverflow to spill large values out of the tree.
func NewTreeStore(tree *bepsilon.Tree) *TreeStore {
	return &TreeStore{tree: tree}
}

// NewTreeStoreWithOverflow wraps tree and routes values larger than
// maxInline bytes through overflow instead of storing them in the tree.
func NewTreeStoreWithOverflow(tree *bepsilon.Tree, overflow *storage.DefaultStorage, maxInline int) *TreeStore {
	return &TreeStore{tree: tree, overflow: overflow, maxInline: maxInline}
}

// Put stores value under key, overwriting any existing entry.
func (s *TreeStore) Put(key, value []byte) error {
	if s.overflow != nil && s.maxInline > 0 && len(value) > s.maxInline {
		id, err := s.overflow.Create(value)
		if err != nil {
			return fmt.Errorf("failed to store overflow value: %w", err)
		}
		record := make([]byte, 1+ksuid.ByteLength)
		record[0] = byte(recordOverflow)
		copy(record[1:], id.Bytes())
		return s.tree.Insert(key, record)
	}

	record := make([]byte, 1+len(value))
	record[0] = byte(recordInline)
	copy(record[1:], value)
	return s.tree.Insert(key, record)
}

// Get returns the value stored under key, or ErrKeyNotFound if absent.
func (s *TreeStore) Get(key []byte) ([]byte, error) {
	record, ok, err := s.tree.PointQuery(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrKeyNotFound
	}
	if len(record) < 1 {
		return nil, fmt.Errorf("corrupt record for key %q: empty", key)
	}

	switch recordTag(record[0]) {
	case recordOverflow:
		if s.overflow == nil {
			return nil, fmt.Errorf("overflow record for key %q but no overflow store configured", key)
		}
		if len(record) < 1+ksuid.ByteLength {
			return nil, fmt.Errorf("corrupt overflow pointer for key %q", key)
		}
		id, err := ksuid.FromBytes(record[1 : 1+ksuid.ByteLength])
		if err != nil {
			return nil, fmt.Errorf("invalid overflow pointer for key %q: %w", key, err)
		}
		return s.overflow.Read(&id)
	default:
		return record[1:], nil
	}
}

// Delete removes key. It is a no-op if the key is absent.
func (s *TreeStore) Delete(key []byte) error {
	if s.overflow != nil {
		record, ok, err := s.tree.PointQuery(key)
		if err != nil {
			return err
		}
		if ok && len(record) >= 1+ksuid.ByteLength && recordTag(record[0]) == recordOverflow {
			id, err := ksuid.FromBytes(record[1 : 1+ksuid.ByteLength])
			if err == nil {
				_ = s.overflow.Delete(&id)
			}
		}
	}

	return s.tree.Delete(key)
}

// Stats reports the current key count.
func (s *TreeStore) Stats() (Stats, error) {
	n, err := s.tree.Size()
	if err != nil {
		return Stats{}, err
	}
	return Stats{Keys: n}, nil
}
