package bepsilon_test

import (
	"fmt"

	"github.com/ssargent/bepsilontree/pkg/bepsilon"
)

// memStore is a trivial in-memory bepsilon.Store used by the external
// tree_test.go suite. It has no eviction and no pinning discipline, since
// these tests exercise tree correctness end to end, not paging (that
// lives in package nodestore).
type memStore struct {
	nodes      map[bepsilon.NodeHandle]*bepsilon.Node
	nextHandle bepsilon.NodeHandle
	root       bepsilon.NodeHandle
	hasRoot    bool
}

func newMemStore() *memStore {
	return &memStore{nodes: make(map[bepsilon.NodeHandle]*bepsilon.Node), nextHandle: 1}
}

type memRef struct {
	n *bepsilon.Node
}

func (r *memRef) Node() *bepsilon.Node { return r.n }
func (r *memRef) Release()             {}

func (s *memStore) Allocate(n *bepsilon.Node) (bepsilon.NodeHandle, error) {
	h := s.nextHandle
	s.nextHandle++
	s.nodes[h] = n
	return h, nil
}

func (s *memStore) Deref(h bepsilon.NodeHandle) (bepsilon.ScopedRef, error) {
	n, ok := s.nodes[h]
	if !ok {
		return nil, fmt.Errorf("memStore: no such handle %d", h)
	}
	return &memRef{n: n}, nil
}

func (s *memStore) MarkDirty(h bepsilon.NodeHandle) {}

func (s *memStore) ReleaseOnDelete(h bepsilon.NodeHandle) error {
	delete(s.nodes, h)
	return nil
}

func (s *memStore) Root() (bepsilon.NodeHandle, bool) { return s.root, s.hasRoot }

func (s *memStore) SetRoot(h bepsilon.NodeHandle) error {
	s.root = h
	s.hasRoot = h != bepsilon.NilHandle
	return nil
}

func (s *memStore) Close() error { return nil }
