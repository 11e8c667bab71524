// Package storage provides an overflow blob store for values too large to
// keep inline in a tree leaf. Point-query indexes like bepsilon pay for
// leaf size in every buffer flush; large values are better addressed by a
// small fixed-size pointer and fetched from a separate store on demand.
package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/segmentio/ksuid"
	"github.com/ssargent/bepsilontree/pkg/codec"
)

// DefaultStorage is a blob store backed by pebble. Blobs are keyed by a
// generated KSUID rather than their content hash, so callers
// that need a stable reference (the tree's overflow pointer) get one back
// from Create. Every blob is framed with codec's CRC32 record format before
// it hits pebble, so a flipped bit on disk is caught on Read instead of
// silently handed back to the caller.
type DefaultStorage struct {
	db    *pebble.DB
	codec *codec.RecordCodec
}

// NewDefaultStorage opens (or creates) the blob store at path.
func NewDefaultStorage(path string) (*DefaultStorage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &DefaultStorage{db: db, codec: codec.NewRecordCodec()}, nil
}

// Create stores data under a freshly generated id.
func (s *DefaultStorage) Create(data []byte) (*ksuid.KSUID, error) {
	id := ksuid.New()
	record, err := s.codec.Encode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("failed to frame blob: %w", err)
	}
	if err := s.db.Set(id.Bytes(), record, pebble.NoSync); err != nil {
		return nil, err
	}

	return &id, nil
}

// Read fetches the blob stored under id.
func (s *DefaultStorage) Read(id *ksuid.KSUID) ([]byte, error) {
	data, closer, err := s.db.Get(id.Bytes())
	if err != nil {
		return nil, err
	}

	// db.Get's returned slice is only valid until closer.Close, so decode
	// (which copies key/value out) before releasing it.
	record, decodeErr := s.codec.Decode(data)
	closeErr := closer.Close()
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode blob %s: %w", id, decodeErr)
	}
	if closeErr != nil {
		return nil, closeErr
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("corrupt blob %s: %w", id, err)
	}

	return record.Value, nil
}

// Update overwrites the blob stored under id.
func (s *DefaultStorage) Update(id *ksuid.KSUID, data []byte) error {
	record, err := s.codec.Encode(nil, data)
	if err != nil {
		return fmt.Errorf("failed to frame blob: %w", err)
	}
	return s.db.Set(id.Bytes(), record, pebble.NoSync)
}

// Delete removes the blob stored under id.
func (s *DefaultStorage) Delete(id *ksuid.KSUID) error {
	return s.db.Delete(id.Bytes(), pebble.NoSync)
}

// Close releases the underlying pebble handle.
func (s *DefaultStorage) Close() error {
	return s.db.Close()
}
