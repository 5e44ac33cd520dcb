package cli

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/amaydixit11/mealsync/internal/crypto"
	"github.com/amaydixit11/mealsync/internal/storage/boltdb"
	"github.com/amaydixit11/mealsync/internal/sync"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	settingsFile  = "settings.json"
	snapshotsFile = "snapshots.db"

	// passphraseEnv unlocks a protected key without prompting
	passphraseEnv = "MEALSYNC_PASSPHRASE"
)

var ErrNoRelay = errors.New("no relay configured: pass --relay or join with an invite that names one")

// settings are device preferences kept next to the key
type settings struct {
	RelayURL string `json:"relay,omitempty"`
}

func loadSettings(dir string) (settings, error) {
	var s settings
	data, err := os.ReadFile(filepath.Join(dir, settingsFile))
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return s, err
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, fmt.Errorf("invalid %s: %w", settingsFile, err)
	}
	return s, nil
}

func saveSettings(dir string, s settings) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, settingsFile), data, 0600)
}

// relayURL prefers the --relay flag over the saved setting
func (o *RootOptions) relayURL() (string, error) {
	if o.Relay != "" {
		return o.Relay, nil
	}
	s, err := loadSettings(o.DataDir)
	if err != nil {
		return "", err
	}
	if s.RelayURL == "" {
		return "", ErrNoRelay
	}
	return s.RelayURL, nil
}

// readSecret reads one line without echo from a terminal, or plainly from
// piped input.
func (o *RootOptions) readSecret(cmd *cobra.Command, prompt string) (string, error) {
	fmt.Fprint(cmd.ErrOrStderr(), prompt)

	if f, ok := cmd.InOrStdin().(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		secret, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(secret)), nil
	}

	if o.stdin == nil {
		o.stdin = bufio.NewReader(cmd.InOrStdin())
	}
	line, err := o.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// newPassphrase asks for a passphrase twice
func (o *RootOptions) newPassphrase(cmd *cobra.Command) ([]byte, error) {
	first, err := o.readSecret(cmd, "New passphrase: ")
	if err != nil {
		return nil, err
	}
	if first == "" {
		return nil, errors.New("passphrase must not be empty")
	}
	second, err := o.readSecret(cmd, "Repeat passphrase: ")
	if err != nil {
		return nil, err
	}
	if first != second {
		return nil, errors.New("passphrases do not match")
	}
	return []byte(first), nil
}

// loadSyncKey reads the stored key, prompting for the passphrase if needed
func (o *RootOptions) loadSyncKey(cmd *cobra.Command) (string, error) {
	store := crypto.NewFileKeyStore(o.DataDir)
	protected, err := store.IsProtected()
	if errors.Is(err, crypto.ErrNoStoredKey) {
		return "", fmt.Errorf("%w: run 'mealsync key new' or 'mealsync key join' first", err)
	}
	if err != nil {
		return "", err
	}
	if !protected {
		return store.Load(nil)
	}

	passphrase := os.Getenv(passphraseEnv)
	if passphrase == "" {
		if passphrase, err = o.readSecret(cmd, "Passphrase: "); err != nil {
			return "", err
		}
	}
	return store.Load([]byte(passphrase))
}

// session is an initialized orchestrator over the device snapshot store
type session struct {
	orch  *sync.Orchestrator
	store *boltdb.BoltStore
}

func (o *RootOptions) openSession(cmd *cobra.Command, configure func(*sync.Config)) (*session, error) {
	syncKey, err := o.loadSyncKey(cmd)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(o.DataDir, 0700); err != nil {
		return nil, err
	}
	store, err := boltdb.New(filepath.Join(o.DataDir, snapshotsFile))
	if err != nil {
		return nil, err
	}

	cfg := sync.DefaultConfig()
	cfg.Store = store
	cfg.Logger = o.log
	if configure != nil {
		configure(&cfg)
	}

	orch := sync.New(cfg)
	if err := orch.InitWithKey(syncKey); err != nil {
		orch.Close()
		store.Close()
		return nil, err
	}
	if err := orch.Init(); err != nil {
		orch.Close()
		store.Close()
		return nil, err
	}
	return &session{orch: orch, store: store}, nil
}

// Close writes any pending snapshot and releases the store
func (s *session) Close() error {
	err := s.orch.Close()
	if cerr := s.store.Close(); err == nil {
		err = cerr
	}
	return err
}

// withSession runs fn against an open session and closes it afterwards
func (o *RootOptions) withSession(cmd *cobra.Command, fn func(*sync.Orchestrator) error) error {
	s, err := o.openSession(cmd, nil)
	if err != nil {
		return err
	}
	if err := fn(s.orch); err != nil {
		s.Close()
		return err
	}
	return s.Close()
}
