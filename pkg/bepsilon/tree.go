package bepsilon

import "bytes"

// Tree is an ordered key-value index backed by a Store. A Tree is not
// safe for concurrent use by multiple goroutines; callers that need
// concurrent access must serialize it themselves.
type Tree struct {
	store Store
	cfg   resolved
}

// New constructs a Tree over store using cfg's fanout and buffer sizing.
// store may already hold a tree (store.Root() returns ok=true); New does
// not itself create anything until the first write.
func New(store Store, cfg Config) (*Tree, error) {
	r, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	return &Tree{store: store, cfg: r}, nil
}

// Insert sets key to value, creating the key if absent.
func (t *Tree) Insert(key, value []byte) error {
	k := append([]byte(nil), key...)
	v := append([]byte(nil), value...)
	return t.apply(Message{Opcode: OpInsert, Key: k, Value: v})
}

// Delete removes key. Deleting an absent key is a no-op.
func (t *Tree) Delete(key []byte) error {
	k := append([]byte(nil), key...)
	return t.apply(Message{Opcode: OpDelete, Key: k})
}

func (t *Tree) apply(m Message) error {
	root, ok := t.store.Root()
	if !ok {
		h, err := t.store.Allocate(newLeaf())
		if err != nil {
			return err
		}
		if err := t.store.SetRoot(h); err != nil {
			return err
		}
		root = h
	}

	n, ref, err := deref(t.store, root)
	if err != nil {
		return err
	}
	n.Buffer = injectMessage(n.Buffer, m)
	t.store.MarkDirty(root)
	ref.Release()

	newRoot, err := flushNode(t.store, t.cfg, root, false)
	if err != nil {
		return err
	}
	if newRoot != NilHandle {
		return t.store.SetRoot(newRoot)
	}
	return t.collapseRootIfNeeded(root)
}

// collapseRootIfNeeded replaces an internal root that has been whittled
// down to a single child (via cascading merges on delete) with that
// child, repeating until the root genuinely has more than one child or
// is a leaf.
func (t *Tree) collapseRootIfNeeded(root NodeHandle) error {
	for {
		n, ref, err := deref(t.store, root)
		if err != nil {
			return err
		}
		if n.IsLeaf || len(n.Keys) > 0 || len(n.Children) != 1 {
			ref.Release()
			return nil
		}
		onlyChild := n.Children[0]
		ref.Release()

		cn, cref, err := deref(t.store, onlyChild)
		if err != nil {
			return err
		}
		cn.Parent = NilHandle
		t.store.MarkDirty(onlyChild)
		cref.Release()

		if err := t.store.ReleaseOnDelete(root); err != nil {
			return err
		}
		if err := t.store.SetRoot(onlyChild); err != nil {
			return err
		}
		root = onlyChild
	}
}

// PointQuery looks up key, checking buffered messages at every level from
// the root down before consulting materialized leaf data: a message
// closer to the root is always more recent than anything below it, since
// writes only ever enter at the root and move downward as buffers fill.
func (t *Tree) PointQuery(key []byte) ([]byte, bool, error) {
	root, ok := t.store.Root()
	if !ok {
		return nil, false, nil
	}

	h := root
	for {
		n, ref, err := deref(t.store, h)
		if err != nil {
			return nil, false, err
		}
		if m, ok := lookupMessage(n.Buffer, key); ok {
			ref.Release()
			if m.Opcode == OpInsert {
				return append([]byte(nil), m.Value...), true, nil
			}
			return nil, false, nil
		}
		if n.IsLeaf {
			ix := keyIndex(n.Keys, key)
			if ix < len(n.Keys) && bytes.Equal(n.Keys[ix], key) {
				val := append([]byte(nil), n.Values[ix]...)
				ref.Release()
				return val, true, nil
			}
			ref.Release()
			return nil, false, nil
		}
		ci := childIndexForKey(n.Keys, key)
		child := n.Children[ci]
		ref.Release()
		h = child
	}
}

// Contains reports whether key is present.
func (t *Tree) Contains(key []byte) (bool, error) {
	_, found, err := t.PointQuery(key)
	return found, err
}

// Size forces every pending message down to the leaves and returns the
// number of materialized keys. It is O(n) and meant for tests and
// diagnostics, not a hot path.
func (t *Tree) Size() (int, error) {
	root, ok := t.store.Root()
	if !ok {
		return 0, nil
	}
	newRoot, err := flushNode(t.store, t.cfg, root, true)
	if err != nil {
		return 0, err
	}
	if newRoot != NilHandle {
		if err := t.store.SetRoot(newRoot); err != nil {
			return 0, err
		}
		root = newRoot
	}

	h, err := t.leftmostLeaf(root)
	if err != nil {
		return 0, err
	}

	count := 0
	for h != NilHandle {
		n, ref, err := deref(t.store, h)
		if err != nil {
			return 0, err
		}
		count += len(n.Keys)
		next := n.RightSibling
		ref.Release()
		h = next
	}
	return count, nil
}

func (t *Tree) leftmostLeaf(h NodeHandle) (NodeHandle, error) {
	for {
		n, ref, err := deref(t.store, h)
		if err != nil {
			return NilHandle, err
		}
		if n.IsLeaf {
			ref.Release()
			return h, nil
		}
		child := n.Children[0]
		ref.Release()
		h = child
	}
}

// Close releases the underlying store.
func (t *Tree) Close() error {
	return t.store.Close()
}
