// Package sync keeps one device's copy of a mealsync document in step with
// its peers through a relay.
//
// The Orchestrator owns the replicated document. Mutations apply to it
// synchronously; an encrypted update send and a local snapshot save are
// scheduled behind short and long debounces. Inbound relay frames are
// decrypted, merged, checked for weekplan conflicts and echoed back.
package sync

import (
	"time"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/amaydixit11/mealsync/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Resolution is the answer to a weekplan conflict
type Resolution int

const (
	// KeepMerged accepts the plan that won the merge
	KeepMerged Resolution = iota
	// KeepLocal re-applies this device's plan as a new edit
	KeepLocal
)

// ConflictResolver decides a weekplan conflict.
// It is called from the goroutine that received the merge.
type ConflictResolver func(local, merged core.Weekplan) Resolution

// Config contains configuration for the Orchestrator
type Config struct {
	// SendDebounce delays the network send after a mutation
	// Default: 150ms
	SendDebounce time.Duration

	// PersistDebounce delays the local snapshot write after a mutation
	// Default: 3s
	PersistDebounce time.Duration

	// ReconnectBaseDelay is multiplied by the attempt number
	// Default: 2s
	ReconnectBaseDelay time.Duration

	// MaxReconnectAttempts stops automatic reconnection
	// Default: 10
	MaxReconnectAttempts int

	// DisableEncryption sends documents unencrypted, as on a host with no
	// crypto support. DocumentID derivation is unaffected.
	DisableEncryption bool

	// Store persists snapshots. Nil disables local persistence.
	Store storage.SnapshotStore

	// Transport dials the relay. Default: WebSocketTransport
	Transport Transport

	// ResolveConflict is consulted on the first weekplan conflict of a
	// session. Nil keeps the merged plan.
	ResolveConflict ConflictResolver

	// Clock drives debounce and reconnect timers. Default: wall clock
	Clock clock.Clock

	// Logger for sync events. Default: disabled
	Logger zerolog.Logger
}

// DefaultConfig returns the default sync configuration
func DefaultConfig() Config {
	return Config{
		SendDebounce:         150 * time.Millisecond,
		PersistDebounce:      3 * time.Second,
		ReconnectBaseDelay:   2 * time.Second,
		MaxReconnectAttempts: 10,
		Logger:               zerolog.Nop(),
	}
}

func (c *Config) setDefaults() {
	def := DefaultConfig()
	if c.SendDebounce <= 0 {
		c.SendDebounce = def.SendDebounce
	}
	if c.PersistDebounce <= 0 {
		c.PersistDebounce = def.PersistDebounce
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.MaxReconnectAttempts <= 0 {
		c.MaxReconnectAttempts = def.MaxReconnectAttempts
	}
	if c.Transport == nil {
		c.Transport = NewWebSocketTransport()
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}
