package bepsilon

import "bytes"

// Structural maintenance: splitting overfull nodes, borrowing from or
// merging with siblings on underfill, and keeping subtree_min_key and
// parent separators consistent after either. These are the only
// operations that change the shape of the tree; flush and the Tree
// facade call into them but never duplicate their logic.

func deref(store Store, h NodeHandle) (*Node, ScopedRef, error) {
	ref, err := store.Deref(h)
	if err != nil {
		return nil, nil, err
	}
	return ref.Node(), ref, nil
}

func childIndex(parent *Node, h NodeHandle) int {
	for i, c := range parent.Children {
		if c == h {
			return i
		}
	}
	return -1
}

func minOccupancy(b int) int {
	return (b + 1) / 2
}

// takeStrictlyGreater removes and returns every message whose key is
// greater than key, leaving the <= key prefix behind.
func takeStrictlyGreater(buf *[]Message, key []byte) []Message {
	ix := 0
	for ix < len(*buf) && bytes.Compare((*buf)[ix].Key, key) <= 0 {
		ix++
	}
	moved := append([]Message(nil), (*buf)[ix:]...)
	*buf = (*buf)[:ix]
	return moved
}

// takeLessOrEqual removes and returns every message whose key is <= key,
// leaving the > key suffix behind.
func takeLessOrEqual(buf *[]Message, key []byte) []Message {
	ix := 0
	for ix < len(*buf) && bytes.Compare((*buf)[ix].Key, key) <= 0 {
		ix++
	}
	moved := append([]Message(nil), (*buf)[:ix]...)
	*buf = (*buf)[ix:]
	return moved
}

// propagateSubtreeMin recomputes h's subtree_min_key from its first child
// (or its own first key, for a leaf) and, if that changed the value its
// parent relies on, fixes the parent's separator or recurses further up
// when h is its parent's first child.
func propagateSubtreeMin(store Store, h NodeHandle) error {
	n, ref, err := deref(store, h)
	if err != nil {
		return err
	}

	var newMin []byte
	if n.IsLeaf {
		if len(n.Keys) == 0 {
			ref.Release()
			return nil
		}
		newMin = n.Keys[0]
	} else {
		if len(n.Children) == 0 {
			ref.Release()
			return nil
		}
		child, cref, err := deref(store, n.Children[0])
		if err != nil {
			ref.Release()
			return err
		}
		newMin = child.SubtreeMinKey
		cref.Release()
	}
	n.SubtreeMinKey = newMin
	store.MarkDirty(h)
	parent := n.Parent
	ref.Release()

	if parent == NilHandle {
		return nil
	}

	pn, pref, err := deref(store, parent)
	if err != nil {
		return err
	}
	idx := childIndex(pn, h)
	if idx == 0 {
		pref.Release()
		return propagateSubtreeMin(store, parent)
	}
	if idx > 0 && idx-1 < len(pn.Keys) {
		pn.Keys[idx-1] = newMin
		store.MarkDirty(parent)
	}
	pref.Release()
	return nil
}

// splitIfFull checks h for overfill and, if it has reached B keys, splits
// it and cascades the split upward through ancestors that themselves
// become overfull. Returns the new root handle and true if the split
// reached the root and a new root was allocated above it.
func splitIfFull(store Store, b int, h NodeHandle) (NodeHandle, bool, error) {
	n, ref, err := deref(store, h)
	if err != nil {
		return NilHandle, false, err
	}
	isFull := n.full(b)
	parent := n.Parent
	ref.Release()
	if !isFull {
		return NilHandle, false, nil
	}

	if parent == NilHandle {
		root := newInternal()
		root.Children = []NodeHandle{h}
		rootHandle, err := store.Allocate(root)
		if err != nil {
			return NilHandle, false, err
		}

		cn, cref, err := deref(store, h)
		if err != nil {
			return NilHandle, false, err
		}
		cn.Parent = rootHandle
		store.MarkDirty(h)
		cref.Release()

		rightHandle, err := splitChildAt(store, b, rootHandle, 0)
		if err != nil {
			return NilHandle, false, err
		}
		if err := propagateSubtreeMin(store, rootHandle); err != nil {
			return NilHandle, false, err
		}

		// A bulk flush can leave either half still over capacity; a single
		// insert never can, since splitChildAt always halves an exactly-B
		// node below B. Re-check both before reporting the new root, which
		// moves up again if a re-check cascades past rootHandle.
		top := rootHandle
		for _, half := range []NodeHandle{h, rightHandle} {
			if r, grew, err := splitIfFull(store, b, half); err != nil {
				return NilHandle, false, err
			} else if grew {
				top = r
			}
		}
		return top, true, nil
	}

	pn, pref, err := deref(store, parent)
	if err != nil {
		return NilHandle, false, err
	}
	ix := childIndex(pn, h)
	pref.Release()

	rightHandle, err := splitChildAt(store, b, parent, ix)
	if err != nil {
		return NilHandle, false, err
	}
	if err := propagateSubtreeMin(store, parent); err != nil {
		return NilHandle, false, err
	}
	var top NodeHandle
	for _, next := range []NodeHandle{h, rightHandle, parent} {
		if r, grew, err := splitIfFull(store, b, next); err != nil {
			return NilHandle, false, err
		} else if grew {
			top = r
		}
	}
	return top, top != NilHandle, nil
}

// splitChildAt splits parent.Children[ix] into itself (left half) and a
// freshly allocated right sibling, inserting the separator and the new
// child handle into parent at ix and ix+1. Returns the new sibling's
// handle.
func splitChildAt(store Store, b int, parentHandle NodeHandle, ix int) (NodeHandle, error) {
	parent, pref, err := deref(store, parentHandle)
	if err != nil {
		return NilHandle, err
	}
	leftHandle := parent.Children[ix]
	pref.Release()

	left, lref, err := deref(store, leftHandle)
	if err != nil {
		return NilHandle, err
	}

	mid := b / 2
	var right *Node
	var separator []byte

	if left.IsLeaf {
		right = newLeaf()
		right.Keys = append([][]byte(nil), left.Keys[mid:]...)
		right.Values = append([][]byte(nil), left.Values[mid:]...)
		left.Keys = left.Keys[:mid]
		left.Values = left.Values[:mid]
		right.SubtreeMinKey = right.Keys[0]
		separator = right.Keys[0]
	} else {
		separator = left.Keys[mid]
		right = newInternal()
		right.Keys = append([][]byte(nil), left.Keys[mid+1:]...)
		right.Children = append([]NodeHandle(nil), left.Children[mid+1:]...)
		left.Keys = left.Keys[:mid]
		left.Children = left.Children[:mid+1]
	}
	right.LeftSibling = leftHandle
	right.RightSibling = left.RightSibling
	right.Parent = left.Parent

	rightHandle, err := store.Allocate(right)
	if err != nil {
		lref.Release()
		return NilHandle, err
	}

	if !left.IsLeaf {
		for _, ch := range right.Children {
			cn, cref, err := deref(store, ch)
			if err != nil {
				lref.Release()
				return NilHandle, err
			}
			cn.Parent = rightHandle
			store.MarkDirty(ch)
			cref.Release()
		}
		firstChild, cref, err := deref(store, right.Children[0])
		if err != nil {
			lref.Release()
			return NilHandle, err
		}
		right.SubtreeMinKey = firstChild.SubtreeMinKey
		cref.Release()
	}

	right.Buffer = takeStrictlyGreater(&left.Buffer, right.SubtreeMinKey)
	store.MarkDirty(rightHandle)

	if left.RightSibling != NilHandle {
		rn, rref, err := deref(store, left.RightSibling)
		if err != nil {
			lref.Release()
			return NilHandle, err
		}
		rn.LeftSibling = rightHandle
		store.MarkDirty(left.RightSibling)
		rref.Release()
	}
	left.RightSibling = rightHandle
	store.MarkDirty(leftHandle)
	lref.Release()

	parent, pref, err = deref(store, parentHandle)
	if err != nil {
		return NilHandle, err
	}
	parent.Keys = insertKeyAt(parent.Keys, ix, separator)
	parent.Children = insertHandleAt(parent.Children, ix+1, rightHandle)
	store.MarkDirty(parentHandle)
	pref.Release()

	return rightHandle, nil
}

// rebalance restores the minimum-occupancy invariant at h, which must be
// a non-root node. It tries borrow-left, then borrow-right, then
// merge-left, then merge-right; a merge destroys h and may underflow the
// parent in turn, so rebalance recurses upward after one.
func rebalance(store Store, b int, h NodeHandle) error {
	n, ref, err := deref(store, h)
	if err != nil {
		return err
	}
	if n.Parent == NilHandle || !n.underfull(b) {
		ref.Release()
		return nil
	}
	ref.Release()

	ok, err := borrowFromLeft(store, b, h)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	ok, err = borrowFromRight(store, b, h)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	n, ref, err = deref(store, h)
	if err != nil {
		return err
	}
	parent := n.Parent
	ref.Release()

	ok, err = mergeWithLeft(store, h)
	if err != nil {
		return err
	}
	if ok {
		return rebalance(store, b, parent)
	}

	ok, err = mergeWithRight(store, h)
	if err != nil {
		return err
	}
	if ok {
		return rebalance(store, b, parent)
	}

	return nil
}

func borrowFromLeft(store Store, b int, h NodeHandle) (bool, error) {
	n, nref, err := deref(store, h)
	if err != nil {
		return false, err
	}
	leftHandle := n.LeftSibling
	parent := n.Parent
	nref.Release()

	if leftHandle == NilHandle || parent == NilHandle {
		return false, nil
	}
	left, lref, err := deref(store, leftHandle)
	if err != nil {
		return false, err
	}
	if left.Parent != parent || len(left.Keys) <= minOccupancy(b) {
		lref.Release()
		return false, nil
	}

	n, nref, err = deref(store, h)
	if err != nil {
		lref.Release()
		return false, err
	}

	if n.IsLeaf {
		lastIx := len(left.Keys) - 1
		borrowedKey := left.Keys[lastIx]
		borrowedVal := left.Values[lastIx]
		left.Keys = left.Keys[:lastIx]
		left.Values = left.Values[:lastIx]
		n.Keys = insertKeyAt(n.Keys, 0, borrowedKey)
		n.Values = insertValueAt(n.Values, 0, borrowedVal)
	} else {
		lastIx := len(left.Children) - 1
		borrowedChild := left.Children[lastIx]
		left.Children = left.Children[:lastIx]
		left.Keys = left.Keys[:len(left.Keys)-1]

		firstChild, fref, err := deref(store, n.Children[0])
		if err != nil {
			lref.Release()
			nref.Release()
			return false, err
		}
		newSeparator := firstChild.SubtreeMinKey
		fref.Release()

		n.Keys = insertKeyAt(n.Keys, 0, newSeparator)
		n.Children = insertHandleAt(n.Children, 0, borrowedChild)

		bc, bref, err := deref(store, borrowedChild)
		if err != nil {
			lref.Release()
			nref.Release()
			return false, err
		}
		bc.Parent = h
		store.MarkDirty(borrowedChild)
		bref.Release()
	}

	boundary := n.Keys[0]
	moved := drainSuffix(&left.Buffer, boundary)
	n.Buffer = append(moved, n.Buffer...)

	store.MarkDirty(leftHandle)
	store.MarkDirty(h)
	lref.Release()
	nref.Release()

	if err := propagateSubtreeMin(store, leftHandle); err != nil {
		return false, err
	}
	if err := propagateSubtreeMin(store, h); err != nil {
		return false, err
	}
	return true, nil
}

func borrowFromRight(store Store, b int, h NodeHandle) (bool, error) {
	n, nref, err := deref(store, h)
	if err != nil {
		return false, err
	}
	rightHandle := n.RightSibling
	parent := n.Parent
	nref.Release()

	if rightHandle == NilHandle || parent == NilHandle {
		return false, nil
	}
	right, rref, err := deref(store, rightHandle)
	if err != nil {
		return false, err
	}
	if right.Parent != parent || len(right.Keys) <= minOccupancy(b) {
		rref.Release()
		return false, nil
	}

	// The smallest key right still owns after the borrow: buffered
	// messages below it now belong to n.
	var newRightMin []byte

	n, nref, err = deref(store, h)
	if err != nil {
		rref.Release()
		return false, err
	}

	if n.IsLeaf {
		borrowedKey := right.Keys[0]
		borrowedVal := right.Values[0]
		right.Keys = right.Keys[1:]
		right.Values = right.Values[1:]
		n.Keys = append(n.Keys, borrowedKey)
		n.Values = append(n.Values, borrowedVal)
		newRightMin = right.Keys[0]
	} else {
		borrowedChild := right.Children[0]
		newSeparator := right.SubtreeMinKey
		newRightMin = right.Keys[0]
		right.Children = right.Children[1:]
		right.Keys = right.Keys[1:]
		n.Keys = append(n.Keys, newSeparator)
		n.Children = append(n.Children, borrowedChild)

		bc, bref, err := deref(store, borrowedChild)
		if err != nil {
			rref.Release()
			nref.Release()
			return false, err
		}
		bc.Parent = h
		store.MarkDirty(borrowedChild)
		bref.Release()
	}

	moved := drainPrefix(&right.Buffer, newRightMin)
	n.Buffer = append(n.Buffer, moved...)

	store.MarkDirty(rightHandle)
	store.MarkDirty(h)
	nref.Release()

	if err := propagateSubtreeMin(store, rightHandle); err != nil {
		rref.Release()
		return false, err
	}
	rref.Release()
	if err := propagateSubtreeMin(store, h); err != nil {
		return false, err
	}
	return true, nil
}

// detachFromParent removes childHandle and its associated separator from
// parentHandle's key/child arrays, then propagates the resulting
// subtree-min change.
func detachFromParent(store Store, parentHandle, childHandle NodeHandle) error {
	if parentHandle == NilHandle {
		return nil
	}
	parent, pref, err := deref(store, parentHandle)
	if err != nil {
		return err
	}
	idx := childIndex(parent, childHandle)
	if idx < 0 {
		pref.Release()
		return nil
	}
	parent.Children = removeHandleAt(parent.Children, idx)
	sepIdx := idx
	if sepIdx > 0 {
		sepIdx--
	}
	if sepIdx < len(parent.Keys) {
		parent.Keys = removeKeyAt(parent.Keys, sepIdx)
	}
	store.MarkDirty(parentHandle)
	pref.Release()
	return propagateSubtreeMin(store, parentHandle)
}

// mergeWithLeft folds h's contents into its left sibling and destroys h.
func mergeWithLeft(store Store, h NodeHandle) (bool, error) {
	n, nref, err := deref(store, h)
	if err != nil {
		return false, err
	}
	leftHandle := n.LeftSibling
	parent := n.Parent
	nref.Release()

	if leftHandle == NilHandle {
		return false, nil
	}
	left, lref, err := deref(store, leftHandle)
	if err != nil {
		return false, err
	}
	if left.Parent != parent {
		lref.Release()
		return false, nil
	}

	n, nref, err = deref(store, h)
	if err != nil {
		lref.Release()
		return false, err
	}

	if n.IsLeaf {
		left.Keys = append(left.Keys, n.Keys...)
		left.Values = append(left.Values, n.Values...)
	} else {
		firstChild, fref, err := deref(store, n.Children[0])
		if err != nil {
			lref.Release()
			nref.Release()
			return false, err
		}
		sep := firstChild.SubtreeMinKey
		fref.Release()

		left.Keys = append(left.Keys, sep)
		left.Keys = append(left.Keys, n.Keys...)
		left.Children = append(left.Children, n.Children...)
		for _, ch := range n.Children {
			cn, cref, err := deref(store, ch)
			if err != nil {
				lref.Release()
				nref.Release()
				return false, err
			}
			cn.Parent = leftHandle
			store.MarkDirty(ch)
			cref.Release()
		}
	}

	left.Buffer = append(left.Buffer, n.Buffer...)
	left.RightSibling = n.RightSibling
	store.MarkDirty(leftHandle)

	if n.RightSibling != NilHandle {
		rn, rref, err := deref(store, n.RightSibling)
		if err != nil {
			lref.Release()
			nref.Release()
			return false, err
		}
		rn.LeftSibling = leftHandle
		store.MarkDirty(n.RightSibling)
		rref.Release()
	}

	nref.Release()
	lref.Release()

	if err := detachFromParent(store, parent, h); err != nil {
		return false, err
	}
	if err := store.ReleaseOnDelete(h); err != nil {
		return false, err
	}
	return true, nil
}

// mergeWithRight folds h's contents into its right sibling and destroys h.
func mergeWithRight(store Store, h NodeHandle) (bool, error) {
	n, nref, err := deref(store, h)
	if err != nil {
		return false, err
	}
	rightHandle := n.RightSibling
	parent := n.Parent
	nref.Release()

	if rightHandle == NilHandle {
		return false, nil
	}
	right, rref, err := deref(store, rightHandle)
	if err != nil {
		return false, err
	}
	if right.Parent != parent {
		rref.Release()
		return false, nil
	}

	n, nref, err = deref(store, h)
	if err != nil {
		rref.Release()
		return false, err
	}

	if n.IsLeaf {
		right.Keys = append(append([][]byte(nil), n.Keys...), right.Keys...)
		right.Values = append(append([][]byte(nil), n.Values...), right.Values...)
	} else {
		sep := right.SubtreeMinKey
		newKeys := append(append([][]byte(nil), n.Keys...), sep)
		right.Keys = append(newKeys, right.Keys...)
		right.Children = append(append([]NodeHandle(nil), n.Children...), right.Children...)
		for _, ch := range n.Children {
			cn, cref, err := deref(store, ch)
			if err != nil {
				rref.Release()
				nref.Release()
				return false, err
			}
			cn.Parent = rightHandle
			store.MarkDirty(ch)
			cref.Release()
		}
	}

	right.Buffer = append(append([]Message(nil), n.Buffer...), right.Buffer...)
	right.LeftSibling = n.LeftSibling
	store.MarkDirty(rightHandle)

	if n.LeftSibling != NilHandle {
		ln, lref, err := deref(store, n.LeftSibling)
		if err != nil {
			rref.Release()
			nref.Release()
			return false, err
		}
		ln.RightSibling = rightHandle
		store.MarkDirty(n.LeftSibling)
		lref.Release()
	}

	nref.Release()

	if err := propagateSubtreeMin(store, rightHandle); err != nil {
		rref.Release()
		return false, err
	}
	rref.Release()

	if err := detachFromParent(store, parent, h); err != nil {
		return false, err
	}
	if err := store.ReleaseOnDelete(h); err != nil {
		return false, err
	}
	return true, nil
}
