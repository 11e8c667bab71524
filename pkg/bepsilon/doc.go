// Package bepsilon implements an ordered key-value index as a B^epsilon-tree:
// a write-optimized B+tree variant where every internal node carries a bounded
// message buffer. Inserts and deletes are injected as messages at the root and
// percolate toward the leaves in batches, amortizing I/O across many writes.
//
// The package owns the tree structure, the message protocol and the
// structural maintenance algorithms (split/borrow/merge). It does not own
// persistence: every node is addressed through a NodeHandle and materialized
// on demand by a Store, so the tree can sit on top of any paging backend that
// satisfies the Store interface (see package nodestore for the reference
// implementations).
package bepsilon
