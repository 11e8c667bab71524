package bepsilon

import "bytes"

// Flushing: pushing a node's message buffer one level down (internal) or
// applying it to materialized keys (leaf) once the buffer has reached
// BufferCapacity. A write never descends past the root on its own; it is
// flushing that moves messages deeper, amortizing the I/O of many writes
// into one pass over the affected children.

// keyIndex returns the position of the first entry in keys that is >= key.
func keyIndex(keys [][]byte, key []byte) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// childIndexForKey returns the index of the child that owns key: the
// smallest i with key < keys[i], or len(keys) (the last child) if none.
func childIndexForKey(keys [][]byte, key []byte) int {
	lo, hi := 0, len(keys)
	for lo < hi {
		mid := (lo + hi) / 2
		if bytes.Compare(key, keys[mid]) < 0 {
			hi = mid
		} else {
			lo = mid + 1
		}
	}
	return lo
}

func applyInsertToLeaf(n *Node, key, value []byte) {
	ix := keyIndex(n.Keys, key)
	if ix < len(n.Keys) && bytes.Equal(n.Keys[ix], key) {
		n.Values[ix] = value
		return
	}
	n.Keys = insertKeyAt(n.Keys, ix, key)
	n.Values = insertValueAt(n.Values, ix, value)
}

func applyDeleteFromLeaf(n *Node, key []byte) {
	ix := keyIndex(n.Keys, key)
	if ix < len(n.Keys) && bytes.Equal(n.Keys[ix], key) {
		n.Keys = removeKeyAt(n.Keys, ix)
		n.Values = removeValueAt(n.Values, ix)
	}
}

// flushNode drains h's buffer once it holds cfg.bufferCapacity messages, or
// unconditionally when force is true (Size and Verify need every pending
// message materialized before they can trust the on-disk shape). Leaves
// apply their buffer directly; internal nodes partition it across children
// by separator and recurse, passing force through so a full drain reaches
// every leaf.
//
// Returns the new tree root handle if the drain cascaded a structural
// change all the way past the current top of the tree, NilHandle
// otherwise. Callers at the tree root must check this and call
// Store.SetRoot.
func flushNode(store Store, cfg resolved, h NodeHandle, force bool) (NodeHandle, error) {
	n, ref, err := deref(store, h)
	if err != nil {
		return NilHandle, err
	}
	if !force && len(n.Buffer) < cfg.bufferCapacity {
		ref.Release()
		return NilHandle, nil
	}
	if len(n.Buffer) == 0 {
		ref.Release()
		return NilHandle, nil
	}

	if n.IsLeaf {
		ref.Release()
		return flushLeaf(store, cfg, h)
	}

	// Snapshot children and separators before distributing: recursive
	// flushes below may split or merge children and reshuffle this
	// node's Children/Keys arrays, but the handles we snapshot here stay
	// valid regardless of where they end up in that array.
	children := append([]NodeHandle(nil), n.Children...)
	seps := append([][]byte(nil), n.Keys...)
	messages := n.Buffer
	n.Buffer = nil
	store.MarkDirty(h)
	ref.Release()

	parts := partitionBySeparators(messages, seps)
	var newRoot NodeHandle
	for i, part := range parts {
		if len(part) == 0 {
			continue
		}
		childHandle := children[i]
		cn, cref, err := deref(store, childHandle)
		if err != nil {
			return NilHandle, err
		}
		for _, m := range part {
			cn.Buffer = injectMessage(cn.Buffer, m)
		}
		store.MarkDirty(childHandle)
		cref.Release()

		root, err := flushNode(store, cfg, childHandle, force)
		if err != nil {
			return NilHandle, err
		}
		if root != NilHandle {
			newRoot = root
		}
	}
	return newRoot, nil
}

// flushLeaf applies every buffered message to h's materialized keys and
// values, then restores the size invariants: a split if applying the
// messages overfilled it, or a rebalance if deletes underfilled it.
func flushLeaf(store Store, cfg resolved, h NodeHandle) (NodeHandle, error) {
	n, ref, err := deref(store, h)
	if err != nil {
		return NilHandle, err
	}
	messages := n.Buffer
	n.Buffer = nil

	for _, m := range messages {
		switch m.Opcode {
		case OpInsert:
			applyInsertToLeaf(n, m.Key, m.Value)
		case OpDelete:
			applyDeleteFromLeaf(n, m.Key)
		}
	}
	store.MarkDirty(h)
	ref.Release()

	if err := propagateSubtreeMin(store, h); err != nil {
		return NilHandle, err
	}

	newRoot, changed, err := splitIfFull(store, cfg.b, h)
	if err != nil {
		return NilHandle, err
	}
	if changed {
		return newRoot, nil
	}

	n, ref, err = deref(store, h)
	if err != nil {
		return NilHandle, err
	}
	needsRebalance := n.Parent != NilHandle && n.underfull(cfg.b)
	ref.Release()
	if needsRebalance {
		if err := rebalance(store, cfg.b, h); err != nil {
			return NilHandle, err
		}
	}
	return NilHandle, nil
}
