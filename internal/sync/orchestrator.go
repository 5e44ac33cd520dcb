package sync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/amaydixit11/mealsync/internal/crdt"
	"github.com/amaydixit11/mealsync/internal/crypto"
	"github.com/amaydixit11/mealsync/internal/protocol"
	"github.com/amaydixit11/mealsync/internal/scheduler"
	"github.com/amaydixit11/mealsync/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoKey           = errors.New("sync key not set")
	ErrNotInitialized  = errors.New("sync not initialized")
	ErrKeyMismatch     = errors.New("orchestrator is bound to a different sync key")
	ErrNoRelay         = errors.New("no relay url configured")
	ErrInvalidWeekplan = errors.New("invalid weekplan")
)

// Status is the orchestrator's lifecycle state
type Status int

const (
	StatusUninitialized Status = iota
	StatusKeyBound
	StatusDisconnected // initialized, no relay connection
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusKeyBound:
		return "key-bound"
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Initialized reports whether document accessors are usable
func (s Status) Initialized() bool {
	return s >= StatusDisconnected
}

// Scheduled task names
const (
	taskSend      = "send"
	taskSave      = "save"
	taskReconnect = "reconnect"
)

// Orchestrator mediates between local mutations, the snapshot store and the relay.
// All methods are safe for concurrent use.
type Orchestrator struct {
	cfg   Config
	sched *scheduler.Scheduler
	bus   eventBus

	// log is swapped by InitWithKey and read by I/O goroutines without o.mu
	log atomic.Pointer[zerolog.Logger]

	mu       gosync.Mutex
	status   Status
	syncKey  string
	docID    string
	key      *crypto.Key // nil when encryption is disabled
	doc      *crdt.Document
	lastSent []byte
	merged   bool // first merge of the session has happened

	url      string
	conn     Conn
	connGen  uint64
	attempts int

	// sendMu serializes sends so the version check and the write are atomic.
	sendMu gosync.Mutex
}

// New creates an Orchestrator in the Uninitialized state
func New(cfg Config) *Orchestrator {
	cfg.setDefaults()
	o := &Orchestrator{
		cfg:   cfg,
		sched: scheduler.New(cfg.Clock),
	}
	o.setLogger(cfg.Logger.With().Str("component", "sync").Logger())
	return o
}

func (o *Orchestrator) logger() *zerolog.Logger {
	return o.log.Load()
}

func (o *Orchestrator) setLogger(l zerolog.Logger) {
	o.log.Store(&l)
}

// Subscribe returns a subscription to all events
func (o *Orchestrator) Subscribe() Subscription {
	return o.bus.subscribe(SubscriptionOptions{})
}

// SubscribeWithOptions returns a filtered subscription
func (o *Orchestrator) SubscribeWithOptions(opts SubscriptionOptions) Subscription {
	return o.bus.subscribe(opts)
}

// Status returns the current lifecycle state
func (o *Orchestrator) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// DocumentID returns the relay routing id, or "" before InitWithKey
func (o *Orchestrator) DocumentID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.docID
}

// setStatus must be called with o.mu held
func (o *Orchestrator) setStatus(s Status) {
	if o.status == s {
		return
	}
	o.status = s
	o.bus.publish(Event{Type: EventStatusChanged, Status: s})
}

// InitWithKey binds the orchestrator to syncKey.
// Calling it again with the same key is a no-op.
func (o *Orchestrator) InitWithKey(syncKey string) error {
	docID, err := crypto.DeriveDocID(syncKey)
	if err != nil {
		return err
	}

	var key *crypto.Key
	if !o.cfg.DisableEncryption {
		if key, err = crypto.DeriveAESKey(syncKey); err != nil {
			return err
		}
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if o.status != StatusUninitialized {
		if o.syncKey == syncKey {
			return nil
		}
		return ErrKeyMismatch
	}

	o.syncKey = syncKey
	o.docID = docID
	o.key = key
	o.setLogger(o.cfg.Logger.With().Str("component", "sync").Str("doc", docID).Logger())
	if key == nil {
		o.logger().Warn().Msg("encryption disabled, documents are sent in the clear")
	}
	o.setStatus(StatusKeyBound)
	return nil
}

// Init loads the document for the bound key from the snapshot store, or
// creates an empty one.
func (o *Orchestrator) Init() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch {
	case o.status == StatusUninitialized:
		return ErrNoKey
	case o.status.Initialized():
		return nil
	}

	doc, err := o.loadDocument()
	if err != nil {
		return err
	}

	o.doc = doc
	o.lastSent = nil
	o.merged = false
	o.setStatus(StatusDisconnected)
	o.logger().Info().Str("replica", doc.Replica()).Msg("document ready")
	return nil
}

// loadDocument must be called with o.mu held
func (o *Orchestrator) loadDocument() (*crdt.Document, error) {
	if o.cfg.Store == nil {
		return crdt.NewDocument(uuid.NewString()), nil
	}

	data, err := o.cfg.Store.Load(o.docID)
	switch {
	case storage.IsNotFound(err):
		return crdt.NewDocument(uuid.NewString()), nil
	case err != nil:
		o.logger().Error().Err(err).Msg("snapshot store unavailable, starting from an empty document")
		return crdt.NewDocument(uuid.NewString()), nil
	}

	doc, err := crdt.LoadSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return doc, nil
}

// Connect opens the relay connection and requests the relay's copy.
// If the dial fails a reconnect is scheduled and the error returned.
func (o *Orchestrator) Connect(ctx context.Context, url string) error {
	o.mu.Lock()
	if !o.status.Initialized() {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	if o.conn != nil && o.url == url {
		o.mu.Unlock()
		return nil
	}
	old := o.conn
	o.conn = nil
	o.connGen++
	o.url = url
	o.attempts = 0
	o.mu.Unlock()

	if old != nil {
		old.Close()
	}
	o.sched.Cancel(taskReconnect)
	return o.dial(ctx)
}

// Disconnect saves any pending snapshot, closes the connection and drops
// the key and document. The orchestrator returns to Uninitialized.
func (o *Orchestrator) Disconnect() error {
	o.sched.Flush(taskSave)
	o.sched.CancelAll()

	o.mu.Lock()
	conn := o.conn
	o.conn = nil
	o.connGen++
	o.url = ""
	o.attempts = 0
	o.syncKey = ""
	o.docID = ""
	o.key = nil
	o.doc = nil
	o.lastSent = nil
	o.merged = false
	o.setStatus(StatusUninitialized)
	o.mu.Unlock()

	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Close disconnects, stops the scheduler and closes all subscriptions.
// The orchestrator cannot be used afterwards.
func (o *Orchestrator) Close() error {
	err := o.Disconnect()
	o.sched.Stop()
	o.bus.close()
	return err
}

// SyncNow re-requests the relay state, reconnecting first if the connection
// is down. It also restores the reconnect budget.
func (o *Orchestrator) SyncNow(ctx context.Context) error {
	o.mu.Lock()
	if !o.status.Initialized() {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	conn, docID, url := o.conn, o.docID, o.url
	o.attempts = 0
	o.mu.Unlock()

	if conn != nil {
		return o.write(ctx, conn, protocol.NewGet(docID))
	}
	if url == "" {
		return ErrNoRelay
	}
	o.sched.Cancel(taskReconnect)
	return o.dial(ctx)
}

func (o *Orchestrator) dial(ctx context.Context) error {
	o.mu.Lock()
	if !o.status.Initialized() {
		o.mu.Unlock()
		return ErrNotInitialized
	}
	if o.conn != nil {
		o.mu.Unlock()
		return nil
	}
	url, docID := o.url, o.docID
	o.setStatus(StatusConnecting)
	o.mu.Unlock()

	conn, err := o.cfg.Transport.Dial(ctx, url)

	o.mu.Lock()
	// Disconnect or another dial may have run while this one was in flight.
	if !o.status.Initialized() || o.url != url {
		o.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return ErrNotInitialized
	}
	if o.conn != nil {
		o.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return nil
	}
	if err != nil {
		o.setStatus(StatusDisconnected)
		o.scheduleReconnect()
		o.mu.Unlock()
		o.logger().Warn().Err(err).Str("url", url).Msg("relay connection failed")
		return err
	}

	o.connGen++
	gen := o.connGen
	o.conn = conn
	o.attempts = 0
	o.setStatus(StatusConnected)
	o.mu.Unlock()

	o.logger().Info().Str("url", url).Msg("connected to relay")
	go o.readLoop(conn, gen)

	return o.write(ctx, conn, protocol.NewGet(docID))
}

// scheduleReconnect must be called with o.mu held
func (o *Orchestrator) scheduleReconnect() {
	if o.url == "" {
		return
	}
	if o.attempts >= o.cfg.MaxReconnectAttempts {
		o.logger().Warn().Int("attempts", o.attempts).Msg("giving up on relay, waiting for SyncNow")
		return
	}
	o.attempts++
	delay := o.cfg.ReconnectBaseDelay * time.Duration(o.attempts)
	o.logger().Debug().Int("attempt", o.attempts).Dur("delay", delay).Msg("scheduling reconnect")
	o.sched.Schedule(taskReconnect, delay, func() {
		o.dial(context.Background())
	})
}

func (o *Orchestrator) readLoop(conn Conn, gen uint64) {
	for {
		frame, err := conn.Receive(context.Background())
		if err != nil {
			o.handleClose(gen, err)
			return
		}
		o.handleFrame(frame)
	}
}

func (o *Orchestrator) handleClose(gen uint64, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if gen != o.connGen {
		return
	}
	o.conn.Close()
	o.conn = nil
	o.connGen++
	o.setStatus(StatusDisconnected)
	o.logger().Warn().Err(err).Msg("relay connection lost")
	o.scheduleReconnect()
}

func (o *Orchestrator) write(ctx context.Context, conn Conn, env *protocol.Envelope) error {
	frame, err := env.Marshal()
	if err != nil {
		return err
	}
	if err := conn.Send(ctx, frame); err != nil {
		o.logger().Warn().Err(err).Str("type", string(env.Type)).Msg("failed to send frame")
		return err
	}
	return nil
}

// triggerSync schedules the debounced send and save after a mutation.
// Must be called with o.mu held.
func (o *Orchestrator) triggerSync() {
	o.sched.Schedule(taskSend, o.cfg.SendDebounce, o.flushSend)
	o.schedulePersist()
}

func (o *Orchestrator) schedulePersist() {
	o.sched.Schedule(taskSave, o.cfg.PersistDebounce, o.persist)
}

// flushSend sends the document if it changed since the last successful send
func (o *Orchestrator) flushSend() {
	o.sendMu.Lock()
	defer o.sendMu.Unlock()

	o.mu.Lock()
	if o.conn == nil || o.doc == nil {
		o.mu.Unlock()
		return
	}
	version := o.doc.Version()
	if bytes.Equal(version, o.lastSent) {
		o.mu.Unlock()
		return
	}
	update, err := o.doc.ExportUpdate()
	conn, docID, key := o.conn, o.docID, o.key
	o.mu.Unlock()

	if err != nil {
		o.logger().Error().Err(err).Msg("failed to export update")
		return
	}

	blob := update
	if key != nil {
		if blob, err = crypto.EncryptData(key, update); err != nil {
			o.logger().Error().Err(err).Msg("failed to encrypt update")
			return
		}
	}

	if err := o.write(context.Background(), conn, protocol.NewUpdate(docID, blob)); err != nil {
		return
	}

	o.mu.Lock()
	if o.conn == conn {
		o.lastSent = version
	}
	o.mu.Unlock()
	o.logger().Debug().Int("bytes", len(blob)).Msg("sent update")
}

// persist writes a full snapshot to the store
func (o *Orchestrator) persist() {
	o.mu.Lock()
	if o.doc == nil || o.cfg.Store == nil {
		o.mu.Unlock()
		return
	}
	snap, err := o.doc.ExportSnapshot()
	docID := o.docID
	o.mu.Unlock()

	if err != nil {
		o.logger().Error().Err(err).Msg("failed to export snapshot")
		return
	}
	if err := o.cfg.Store.Save(docID, snap); err != nil {
		o.logger().Error().Err(err).Msg("failed to save snapshot")
		return
	}
	o.logger().Debug().Int("bytes", len(snap)).Msg("saved snapshot")
}
