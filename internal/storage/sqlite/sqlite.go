// Package sqlite stores document blobs in a single SQLite table.
// The relay uses it as its BlobStore; a device can use it as a SnapshotStore.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/amaydixit11/mealsync/internal/storage"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements storage.BlobStore and storage.SnapshotStore using SQLite
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ storage.BlobStore     = (*SQLiteStore)(nil)
	_ storage.SnapshotStore = (*SQLiteStore)(nil)
)

// New creates a new SQLite store at the given path
// If path is ":memory:", creates an in-memory database
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates the database tables if they don't exist
func (s *SQLiteStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			data BLOB NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_documents_updated ON documents(updated_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Put upserts the latest blob for id (last writer wins)
func (s *SQLiteStore) Put(id string, data []byte, at time.Time) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(`
		INSERT INTO documents (id, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at
	`, id, data, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// Get retrieves the latest blob for id
func (s *SQLiteStore) Get(id string) (storage.Blob, error) {
	var blob storage.Blob
	var updatedAt int64

	err := s.db.QueryRow(`
		SELECT id, data, updated_at
		FROM documents
		WHERE id = ?
	`, id).Scan(&blob.ID, &blob.Data, &updatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return storage.Blob{}, storage.ErrNotFound{ID: id}
	}
	if err != nil {
		return storage.Blob{}, fmt.Errorf("failed to get document: %w", err)
	}

	blob.UpdatedAt = time.UnixMilli(updatedAt)
	return blob, nil
}

// Count returns the number of stored documents
func (s *SQLiteStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

// Load returns the stored snapshot for docID
func (s *SQLiteStore) Load(docID string) ([]byte, error) {
	blob, err := s.Get(docID)
	if err != nil {
		return nil, err
	}
	return blob.Data, nil
}

// Save overwrites the snapshot for docID
func (s *SQLiteStore) Save(docID string, data []byte) error {
	return s.Put(docID, data, time.Now())
}

// Delete removes the row for docID
func (s *SQLiteStore) Delete(docID string) error {
	if _, err := s.db.Exec("DELETE FROM documents WHERE id = ?", docID); err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
