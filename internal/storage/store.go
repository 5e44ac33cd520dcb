// Package storage defines the persistent byte-blob stores used by devices and the relay.
// Storage is an optimization layer, not the source of truth; the CRDT document is.
package storage

import (
	"errors"
	"time"
)

// SnapshotStore keeps one opaque document snapshot per DocumentID on a device.
type SnapshotStore interface {
	// Load returns the stored snapshot, or ErrNotFound
	Load(docID string) ([]byte, error)

	// Save overwrites the snapshot for docID
	Save(docID string, data []byte) error

	// Delete removes the snapshot for docID. Missing snapshots are not an error.
	Delete(docID string) error

	// Close releases all resources
	Close() error
}

// Blob is the latest state the relay holds for one DocumentID
type Blob struct {
	ID        string
	Data      []byte
	UpdatedAt time.Time
}

// BlobStore is the relay's persistent store: one row per DocumentID,
// overwritten by every update.
type BlobStore interface {
	// Get returns the latest blob for id, or ErrNotFound
	Get(id string) (Blob, error)

	// Put upserts data as the latest blob for id
	Put(id string, data []byte, at time.Time) error

	// Count returns the number of stored documents
	Count() (int, error)

	// Close releases all resources
	Close() error
}

// ErrNotFound is returned when no blob is stored for an id
type ErrNotFound struct {
	ID string
}

func (e ErrNotFound) Error() string {
	return "document not found: " + e.ID
}

// IsNotFound reports whether err is, or wraps, ErrNotFound
func IsNotFound(err error) bool {
	var nf ErrNotFound
	return errors.As(err, &nf)
}
