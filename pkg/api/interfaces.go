// Package api provides interfaces for dependency injection
package api

import "errors"

// ErrKeyNotFound is returned by KVStore.Get when the key has no entry.
var ErrKeyNotFound = errors.New("key not found")

// KVStore is the storage surface the HTTP layer depends on. It is satisfied
// by a *bepsilon.Tree wrapped in TreeStore, keeping the transport package
// free of any direct dependency on the tree's node-paging internals.
type KVStore interface {
	Put(key, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	Stats() (Stats, error)
}

// ServerStarter defines the interface for starting the API server.
type ServerStarter interface {
	// StartServer starts the API server with the given configuration
	StartServer(store KVStore, config ServerConfig) error
}

// ServerFactory creates server instances
type ServerFactory interface {
	// CreateServerStarter creates a server starter
	CreateServerStarter() ServerStarter
}
