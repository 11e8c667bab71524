package bepsilon

import (
	"bytes"
	"fmt"
)

// Verify walks the whole tree checking every structural invariant the
// rest of this package depends on: ascending keys, parent/child
// separator agreement, occupancy bounds, equal leaf depth, leaf-chain
// ordering in both directions, and buffer well-formedness. It is meant
// for tests and offline diagnostics, not a hot path.
//
// A Store failure while walking returns the Store's error unchanged. A structural
// invariant violation panics: it means the tree's own operations produced
// an inconsistent page, which is a programming error, not a condition a
// caller can recover from.
func (t *Tree) Verify() error {
	root, ok := t.store.Root()
	if !ok {
		return nil
	}

	leafDepth := -1
	if err := t.verifyNode(root, NilHandle, 0, &leafDepth); err != nil {
		return err
	}
	return t.verifyLeafChain(root)
}

func (t *Tree) verifyNode(h, expectParent NodeHandle, depth int, leafDepth *int) error {
	n, ref, err := deref(t.store, h)
	if err != nil {
		return err
	}
	defer ref.Release()

	if n.Parent != expectParent {
		panic(fmt.Sprintf("bepsilon: verify: node has parent %d, expected %d", n.Parent, expectParent))
	}

	isRoot := expectParent == NilHandle
	if !isRoot {
		if n.full(t.cfg.b) {
			panic(fmt.Sprintf("bepsilon: verify: non-root node has %d keys, >= B=%d", len(n.Keys), t.cfg.b))
		}
		if n.underfull(t.cfg.b) {
			panic(fmt.Sprintf("bepsilon: verify: non-root node has %d keys, below ceil(B/2)=%d", len(n.Keys), minOccupancy(t.cfg.b)))
		}
	}

	requireAscending(n.Keys, "keys")

	if n.IsLeaf {
		if len(n.Values) != len(n.Keys) {
			panic("bepsilon: verify: leaf has mismatched keys/values length")
		}
		if *leafDepth == -1 {
			*leafDepth = depth
		} else if *leafDepth != depth {
			panic(fmt.Sprintf("bepsilon: verify: leaf at depth %d, expected %d", depth, *leafDepth))
		}
		if len(n.Keys) > 0 && !bytes.Equal(n.Keys[0], n.SubtreeMinKey) {
			panic("bepsilon: verify: leaf subtree_min_key does not match first key")
		}
	} else {
		if len(n.Children) != len(n.Keys)+1 {
			panic("bepsilon: verify: internal node has children != keys+1")
		}
		for i, childHandle := range n.Children {
			if err := t.verifyNode(childHandle, h, depth+1, leafDepth); err != nil {
				return err
			}
			child, cref, err := deref(t.store, childHandle)
			if err != nil {
				return err
			}
			childMin := child.SubtreeMinKey
			cref.Release()

			if i == 0 {
				if !bytes.Equal(n.SubtreeMinKey, childMin) {
					panic("bepsilon: verify: internal subtree_min_key does not match first child")
				}
			} else if !bytes.Equal(n.Keys[i-1], childMin) {
				panic(fmt.Sprintf("bepsilon: verify: separator %d does not match child %d's subtree_min_key", i-1, i))
			}
		}
	}

	if err := t.verifyBuffer(n, h); err != nil {
		return err
	}

	return nil
}

func (t *Tree) verifyBuffer(n *Node, h NodeHandle) error {
	if len(n.Buffer) > t.cfg.bufferCapacity {
		panic(fmt.Sprintf("bepsilon: verify: buffer has %d messages, over capacity %d", len(n.Buffer), t.cfg.bufferCapacity))
	}
	for i, m := range n.Buffer {
		if i > 0 && bytes.Compare(n.Buffer[i-1].Key, m.Key) >= 0 {
			panic("bepsilon: verify: buffer keys not strictly ascending")
		}
		if n.SubtreeMinKey != nil && bytes.Compare(m.Key, n.SubtreeMinKey) < 0 {
			panic("bepsilon: verify: buffered message key below subtree_min_key")
		}
	}
	if n.RightSibling != NilHandle && len(n.Buffer) > 0 {
		sib, sref, err := deref(t.store, n.RightSibling)
		if err != nil {
			return err
		}
		sameParent := sib.Parent == n.Parent
		rightMin := sib.SubtreeMinKey
		sref.Release()
		if sameParent {
			last := n.Buffer[len(n.Buffer)-1]
			if bytes.Compare(last.Key, rightMin) >= 0 {
				panic("bepsilon: verify: buffered message key reaches into right sibling's range")
			}
		}
	}
	return nil
}

func requireAscending(keys [][]byte, label string) {
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) >= 0 {
			panic(fmt.Sprintf("bepsilon: verify: %s not strictly ascending", label))
		}
	}
}

// verifyLeafChain walks the leftmost path down to the first leaf, then
// follows RightSibling links and confirms they visit every leaf exactly
// once in ascending order and that LeftSibling agrees at each step.
func (t *Tree) verifyLeafChain(root NodeHandle) error {
	h, err := t.leftmostLeaf(root)
	if err != nil {
		return err
	}

	var prevMax []byte
	var prev NodeHandle = NilHandle
	for h != NilHandle {
		n, ref, err := deref(t.store, h)
		if err != nil {
			return err
		}
		if n.LeftSibling != prev {
			panic("bepsilon: verify: leaf chain left_sibling disagrees with predecessor")
		}
		if len(n.Keys) > 0 {
			if prevMax != nil && bytes.Compare(prevMax, n.Keys[0]) >= 0 {
				panic("bepsilon: verify: leaf chain keys not strictly ascending across leaves")
			}
			prevMax = n.Keys[len(n.Keys)-1]
		}
		next := n.RightSibling
		ref.Release()
		prev = h
		h = next
	}
	return nil
}
