// Package boltdb implements the device snapshot store with a bbolt backend.
package boltdb

import (
	"fmt"
	"time"

	"github.com/amaydixit11/mealsync/internal/storage"
	bolt "go.etcd.io/bbolt"
)

const snapshotsBucket = "snapshots"

// BoltStore implements storage.SnapshotStore.
// Each DocumentID is a key in a single bucket.
type BoltStore struct {
	db *bolt.DB
}

var _ storage.SnapshotStore = (*BoltStore)(nil)

// New opens or creates the snapshot database at path
func New(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot db: %w", err)
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotsBucket))
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Load(docID string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(snapshotsBucket)).Get([]byte(docID))
		if raw == nil {
			return storage.ErrNotFound{ID: docID}
		}
		// raw is only valid for the life of the transaction.
		data = append([]byte(nil), raw...)
		return nil
	})
	return data, err
}

func (s *BoltStore) Save(docID string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(snapshotsBucket)).Put([]byte(docID), data)
	})
}

func (s *BoltStore) Delete(docID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(snapshotsBucket)).Delete([]byte(docID))
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
