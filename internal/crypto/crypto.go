// Package crypto derives keys from the shared SyncKey and seals sync payloads.
//
// Payloads sent through the relay use AES-256-GCM with a key derived from the
// SyncKey via HKDF-SHA256. Data kept on the device (the stored SyncKey) is
// wrapped with XChaCha20-Poly1305 under an Argon2id passphrase key.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	KeySize       = 32
	GCMNonceSize  = 12
	GCMTagSize    = 16
	XNonceSize    = 24 // XChaCha20 nonce size
	SaltSize      = 16
	aesKeyInfo    = "mealsync/sync/aes-256-gcm/v1"
	minSealedSize = GCMNonceSize + GCMTagSize
)

var (
	ErrInvalidKey = errors.New("invalid key size")
	ErrDecrypt    = errors.New("decryption failed")
)

// Key represents a 32-byte symmetric key
type Key [KeySize]byte

// DeriveAESKey derives the payload key from a SyncKey.
// The salt is all zeros: the SyncKey is already uniformly random.
func DeriveAESKey(syncKey string) (*Key, error) {
	raw, err := ParseSyncKey(syncKey)
	if err != nil {
		return nil, err
	}

	salt := make([]byte, sha256.Size)
	r := hkdf.New(sha256.New, raw, salt, []byte(aesKeyInfo))

	var k Key
	if _, err := io.ReadFull(r, k[:]); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return &k, nil
}

// EncryptData seals plaintext with AES-256-GCM.
// Format: [IV 12][Ciphertext ...][Tag 16]. Every call draws a fresh IV.
func EncryptData(key *Key, plaintext []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, GCMNonceSize, GCMNonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	return aead.Seal(iv, iv, plaintext, nil), nil
}

// DecryptData opens a blob produced by EncryptData.
// A wrong key, a modified blob and a truncated blob all return ErrDecrypt.
func DecryptData(key *Key, blob []byte) ([]byte, error) {
	if key == nil {
		return nil, ErrInvalidKey
	}
	if len(blob) < minSealedSize {
		return nil, ErrDecrypt
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aead.Open(nil, blob[:GCMNonceSize], blob[GCMNonceSize:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

func newGCM(key *Key) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}
	return aead, nil
}

// DerivePassphraseKey derives a wrapping key from a passphrase and salt using Argon2id
func DerivePassphraseKey(passphrase, salt []byte) Key {
	var k Key
	// Time: 3 passes, Memory: 64 MB, Threads: 2
	dk := argon2.IDKey(passphrase, salt, 3, 64*1024, 2, KeySize)
	copy(k[:], dk)
	return k
}

// Seal encrypts plaintext using XChaCha20-Poly1305.
// Format: [Nonce 24][Ciphertext ...][Tag 16]
func Seal(key Key, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	nonce := make([]byte, XNonceSize, XNonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts data produced by Seal
func Open(key Key, ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < XNonceSize {
		return nil, ErrDecrypt
	}

	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("failed to create AEAD: %w", err)
	}

	plaintext, err := aead.Open(nil, ciphertext[:XNonceSize], ciphertext[XNonceSize:], aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// GenerateSalt creates a random salt
func GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}
