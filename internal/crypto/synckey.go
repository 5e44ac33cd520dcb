package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
)

const (
	// SyncKeySize is the number of random bytes in a SyncKey
	SyncKeySize = 16
	// SyncKeyLength is the length of the textual (unpadded base64url) form
	SyncKeyLength = 22
	// DocIDLength is the length of a DocumentID in hex characters
	DocIDLength = 16
)

// FNV-1a parameters. Lane B uses a different offset basis so the two
// 32-bit lanes are independent.
const (
	fnvPrime   uint32 = 0x01000193
	fnvOffsetA uint32 = 0x811c9dc5
	fnvOffsetB uint32 = 0x9747b28c
)

var ErrInvalidSyncKey = errors.New("invalid sync key")

var syncKeyEncoding = base64.RawURLEncoding

// GenerateSyncKey creates a new random 128-bit SyncKey in base64url form
func GenerateSyncKey() (string, error) {
	raw := make([]byte, SyncKeySize)
	if _, err := io.ReadFull(rand.Reader, raw); err != nil {
		return "", fmt.Errorf("failed to generate sync key: %w", err)
	}
	return syncKeyEncoding.EncodeToString(raw), nil
}

// ParseSyncKey decodes the textual SyncKey into its raw bytes
func ParseSyncKey(syncKey string) ([]byte, error) {
	if len(syncKey) != SyncKeyLength {
		return nil, fmt.Errorf("%w: expected %d characters, got %d", ErrInvalidSyncKey, SyncKeyLength, len(syncKey))
	}
	raw, err := syncKeyEncoding.DecodeString(syncKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSyncKey, err)
	}
	if len(raw) != SyncKeySize {
		return nil, fmt.Errorf("%w: decoded to %d bytes", ErrInvalidSyncKey, len(raw))
	}
	return raw, nil
}

// DeriveDocID computes the relay routing ID for a SyncKey.
// It is a fixed 64-bit FNV-1a digest (two 32-bit lanes) over the raw key
// bytes and never touches the AEAD primitives, so devices agree on it
// whether or not encryption is enabled.
func DeriveDocID(syncKey string) (string, error) {
	raw, err := ParseSyncKey(syncKey)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08x%08x", fnv1a(fnvOffsetA, raw), fnv1a(fnvOffsetB, raw)), nil
}

func fnv1a(h uint32, data []byte) uint32 {
	for _, b := range data {
		h ^= uint32(b)
		h *= fnvPrime
	}
	return h
}
