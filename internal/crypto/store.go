package crypto

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const KeyFileName = "synckey.json"

var (
	ErrNoStoredKey       = errors.New("no sync key stored")
	ErrPassphraseNeeded  = errors.New("stored sync key is passphrase protected")
	ErrWrongPassphrase   = errors.New("incorrect passphrase or corrupted key file")
	ErrKeyAlreadyPresent = errors.New("a sync key is already stored")
)

// KeyStore keeps this device's SyncKey between runs
type KeyStore interface {
	// Save stores the SyncKey, wrapped with passphrase when it is non-empty
	Save(syncKey string, passphrase []byte) error

	// Load returns the stored SyncKey
	Load(passphrase []byte) (string, error)

	// IsProtected reports whether Load requires a passphrase
	IsProtected() (bool, error)

	// Remove deletes the stored SyncKey
	Remove() error

	// IsInitialized checks if a key file exists
	IsInitialized() bool
}

// FileKeyStore implements KeyStore using a file
type FileKeyStore struct {
	dir string
	mu  sync.RWMutex
}

// keyFile is the JSON structure for the key file
type keyFile struct {
	SyncKey    string  `json:"key,omitempty"` // Plain SyncKey when unprotected
	Salt       string  `json:"salt,omitempty"`
	Ciphertext string  `json:"data,omitempty"` // Wrapped SyncKey
	Params     *params `json:"params,omitempty"`
}

type params struct {
	Memory      uint32 `json:"mem"`
	Iterations  uint32 `json:"time"`
	Parallelism uint8  `json:"threads"`
}

// NewFileKeyStore creates a new FileKeyStore
func NewFileKeyStore(dir string) *FileKeyStore {
	return &FileKeyStore{dir: dir}
}

func (s *FileKeyStore) path() string {
	return filepath.Join(s.dir, KeyFileName)
}

func (s *FileKeyStore) Save(syncKey string, passphrase []byte) error {
	if _, err := ParseSyncKey(syncKey); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	kf := keyFile{}
	if len(passphrase) == 0 {
		kf.SyncKey = syncKey
	} else {
		salt, err := GenerateSalt()
		if err != nil {
			return err
		}
		wrapperKey := DerivePassphraseKey(passphrase, salt)
		sealed, err := Seal(wrapperKey, []byte(syncKey), []byte(KeyFileName))
		if err != nil {
			return err
		}
		kf.Salt = base64.StdEncoding.EncodeToString(salt)
		kf.Ciphertext = base64.StdEncoding.EncodeToString(sealed)
		kf.Params = &params{Memory: 64 * 1024, Iterations: 3, Parallelism: 2}
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0700); err != nil {
		return err
	}

	return os.WriteFile(s.path(), data, 0600)
}

func (s *FileKeyStore) Load(passphrase []byte) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kf, err := s.read()
	if err != nil {
		return "", err
	}

	if kf.Ciphertext == "" {
		return kf.SyncKey, nil
	}
	if len(passphrase) == 0 {
		return "", ErrPassphraseNeeded
	}

	salt, err := base64.StdEncoding.DecodeString(kf.Salt)
	if err != nil {
		return "", fmt.Errorf("invalid salt: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(kf.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("invalid ciphertext: %w", err)
	}

	plaintext, err := Open(DerivePassphraseKey(passphrase, salt), ciphertext, []byte(KeyFileName))
	if err != nil {
		return "", ErrWrongPassphrase
	}

	syncKey := string(plaintext)
	if _, err := ParseSyncKey(syncKey); err != nil {
		return "", err
	}
	return syncKey, nil
}

func (s *FileKeyStore) IsProtected() (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	kf, err := s.read()
	if err != nil {
		return false, err
	}
	return kf.Ciphertext != "", nil
}

func (s *FileKeyStore) Remove() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func (s *FileKeyStore) IsInitialized() bool {
	_, err := os.Stat(s.path())
	return err == nil
}

func (s *FileKeyStore) read() (*keyFile, error) {
	data, err := os.ReadFile(s.path())
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNoStoredKey
	}
	if err != nil {
		return nil, err
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("invalid key file: %w", err)
	}
	return &kf, nil
}
