package sync

import (
	"bytes"
	"context"
	"errors"
	"io"
	gosync "sync"
	"testing"

	"github.com/amaydixit11/mealsync/internal/core"
	"github.com/amaydixit11/mealsync/internal/crypto"
	"github.com/amaydixit11/mealsync/internal/protocol"
	"github.com/amaydixit11/mealsync/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

var (
	errDialRefused = errors.New("connection refused")
	errStoreDown   = errors.New("disk unavailable")
)

type fakeConn struct {
	mu     gosync.Mutex
	sent   [][]byte
	inbox  chan []byte
	closed chan struct{}
	once   gosync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbox:  make(chan []byte, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Send(ctx context.Context, frame []byte) error {
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, append([]byte(nil), frame...))
	return nil
}

func (c *fakeConn) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-c.inbox:
		return frame, nil
	case <-c.closed:
		return nil, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// frames returns the sent frames of type t; "" matches all
func (c *fakeConn) frames(t protocol.MessageType) []*protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*protocol.Envelope
	for _, raw := range c.sent {
		env, err := protocol.Parse(raw)
		if err != nil {
			continue
		}
		if t == "" || env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

type fakeTransport struct {
	mu    gosync.Mutex
	dials int
	fail  bool
	conns []*fakeConn
}

func (t *fakeTransport) Dial(ctx context.Context, url string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.fail {
		return nil, errDialRefused
	}
	c := newFakeConn()
	t.conns = append(t.conns, c)
	return c, nil
}

func (t *fakeTransport) setFail(fail bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fail = fail
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

func (t *fakeTransport) last() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

type memStore struct {
	mu    gosync.Mutex
	data  map[string][]byte
	saves int
	fail  bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string][]byte)}
}

func (s *memStore) Load(docID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return nil, errStoreDown
	}
	d, ok := s.data[docID]
	if !ok {
		return nil, storage.ErrNotFound{ID: docID}
	}
	return append([]byte(nil), d...), nil
}

func (s *memStore) Save(docID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreDown
	}
	s.data[docID] = append([]byte(nil), data...)
	s.saves++
	return nil
}

func (s *memStore) Delete(docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, docID)
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) setFail(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// lockedBuffer collects log output written from several goroutines
type lockedBuffer struct {
	mu  gosync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

type testEnv struct {
	clock     *clock.Mock
	transport *fakeTransport
	store     *memStore
}

func newTestEnv() *testEnv {
	return &testEnv{
		clock:     clock.NewMock(),
		transport: &fakeTransport{},
		store:     newMemStore(),
	}
}

func (e *testEnv) config() Config {
	cfg := DefaultConfig()
	cfg.Clock = e.clock
	cfg.Transport = e.transport
	cfg.Store = e.store
	return cfg
}

// newReady returns an initialized orchestrator bound to syncKey
func newReady(t *testing.T, cfg Config, syncKey string) *Orchestrator {
	t.Helper()
	o := New(cfg)
	require.NoError(t, o.InitWithKey(syncKey))
	require.NoError(t, o.Init())
	t.Cleanup(func() { o.Close() })
	return o
}

func newSyncKey(t *testing.T) string {
	t.Helper()
	k, err := crypto.GenerateSyncKey()
	require.NoError(t, err)
	return k
}

// updateFrame builds the frame o would send for its current document
func updateFrame(t *testing.T, o *Orchestrator) []byte {
	t.Helper()
	o.mu.Lock()
	update, err := o.doc.ExportUpdate()
	key, docID := o.key, o.docID
	o.mu.Unlock()
	require.NoError(t, err)

	blob := update
	if key != nil {
		blob, err = crypto.EncryptData(key, update)
		require.NoError(t, err)
	}
	frame, err := protocol.NewUpdate(docID, blob).Marshal()
	require.NoError(t, err)
	return frame
}

func drain(sub Subscription, want EventType) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			if ev.Type == want {
				out = append(out, ev)
			}
		default:
			return out
		}
	}
}

func testPlan(weekID string) core.Weekplan {
	names := []string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}
	days := make([]core.DayEntry, core.DaysPerWeek)
	for i := range days {
		days[i] = core.DayEntry{DayName: names[i], Date: weekID + "-" + names[i]}
	}
	return core.Weekplan{WeekID: weekID, StartDate: weekID + "-Monday", Days: days}
}
