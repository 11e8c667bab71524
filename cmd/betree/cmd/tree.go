/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/ssargent/bepsilontree/pkg/bepsilon"
	"github.com/ssargent/bepsilontree/pkg/config"
	"github.com/ssargent/bepsilontree/pkg/nodestore"
	"github.com/ssargent/bepsilontree/pkg/storage"

	"github.com/spf13/cobra"
)

// treeCtxKey is the context key the root command stashes the opened tree
// under, so subcommands can pull it back out without a global.
type treeCtxKey struct{}

const defaultCacheCapacity = 1000

// closableTree bundles a tree, its overflow blob store and the node store
// backing the tree so callers can release paging resources with a single Close.
type closableTree struct {
	*bepsilon.Tree
	Overflow  *storage.DefaultStorage
	MaxInline int
	closer    io.Closer
}

func (t *closableTree) Close() error {
	if t.Overflow != nil {
		if err := t.Overflow.Close(); err != nil {
			return err
		}
	}
	return t.closer.Close()
}

// openTree opens the node store backing dataDir per cfg and builds a tree
// over it, along with an overflow blob store for values over
// maxInlineBytes. A zero-value cfg selects the file backend with derived
// sizing; maxInlineBytes <= 0 disables overflow (all values stay inline).
func openTree(dataDir string, cfg config.Tree, maxInlineBytes int) (*closableTree, error) {
	treeCfg := bepsilon.Config{
		NodeSize:       cfg.NodeSize,
		Epsilon:        cfg.Epsilon,
		B:              cfg.B,
		BufferCapacity: cfg.BufferCapacity,
	}
	if treeCfg.NodeSize == 0 && treeCfg.B == 0 {
		treeCfg = bepsilon.DefaultConfig()
	}

	var (
		nodeStore bepsilon.Store
		closer    io.Closer
		err       error
	)

	if cfg.Backend == "pebble" {
		store, openErr := nodestore.OpenPebbleNodeStore(dataDir)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open pebble node store: %w", openErr)
		}
		nodeStore, closer = store, store
	} else {
		cacheCapacity := cfg.CacheCapacity
		if cacheCapacity <= 0 {
			cacheCapacity = defaultCacheCapacity
		}
		store, openErr := nodestore.OpenFileStore(dataDir, cacheCapacity)
		if openErr != nil {
			return nil, fmt.Errorf("failed to open file node store: %w", openErr)
		}
		nodeStore, closer = store, store
	}

	tree, err := bepsilon.New(nodeStore, treeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open tree: %w", err)
	}

	overflow, err := storage.NewDefaultStorage(filepath.Join(dataDir, "overflow"))
	if err != nil {
		return nil, fmt.Errorf("failed to open overflow store: %w", err)
	}

	return &closableTree{Tree: tree, Overflow: overflow, MaxInline: maxInlineBytes, closer: closer}, nil
}

// treeFromContext retrieves the tree the root command opened and stashed in
// cmd's context.
func treeFromContext(cmd *cobra.Command) (*closableTree, bool) {
	tree, ok := cmd.Context().Value(treeCtxKey{}).(*closableTree)
	return tree, ok
}
