package relay

import (
	gosync "sync"

	"github.com/amaydixit11/mealsync/internal/protocol"
	"github.com/amaydixit11/mealsync/internal/storage"
	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

// Hub tracks connected clients and routes frames between clients that
// share a DocumentID. A client subscribes to an id by sending get or
// update for it.
type Hub struct {
	store   storage.BlobStore
	metrics *Metrics
	clock   clock.Clock
	log     zerolog.Logger

	mu       gosync.RWMutex
	clients  map[string]*Client
	docIndex map[string]map[string]*Client
}

func NewHub(store storage.BlobStore, metrics *Metrics, clk clock.Clock, log zerolog.Logger) *Hub {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if clk == nil {
		clk = clock.New()
	}
	return &Hub{
		store:    store,
		metrics:  metrics,
		clock:    clk,
		log:      log,
		clients:  make(map[string]*Client),
		docIndex: make(map[string]map[string]*Client),
	}
}

// Register adds a client. Frames are only delivered to registered clients.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
	h.metrics.connections.Inc()
	h.log.Debug().Str("client", c.id).Msg("client registered")
}

// Unregister removes a client and closes its send queue.
// Unregistering twice is a no-op.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.id] != c {
		return
	}
	delete(h.clients, c.id)
	for docID := range c.docs {
		subs := h.docIndex[docID]
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.docIndex, docID)
		}
	}
	close(c.send)
	h.metrics.connections.Dec()
	h.log.Debug().Str("client", c.id).Msg("client unregistered")
}

// ClientCount returns the number of registered clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients subscribed to docID
func (h *Hub) Subscribers(docID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.docIndex[docID])
}

// HandleMessage processes one frame from c. Malformed frames are dropped.
func (h *Hub) HandleMessage(c *Client, frame []byte) {
	env, err := protocol.Parse(frame)
	if err != nil {
		h.metrics.dropped.Inc()
		h.log.Warn().Err(err).Str("client", c.id).Msg("dropping malformed frame")
		return
	}
	h.metrics.message(env.Type)

	switch env.Type {
	case protocol.TypeGet:
		h.handleGet(c, env.Payload.ID)
	case protocol.TypeUpdate:
		h.handleUpdate(c, env, frame)
	case protocol.TypeGetState:
		h.reply(c, protocol.NewGetStateReply(h.ClientCount()))
	}
}

func (h *Hub) handleGet(c *Client, docID string) {
	h.subscribe(c, docID)

	var data []byte
	blob, err := h.store.Get(docID)
	switch {
	case err == nil:
		data = blob.Data
		if data == nil {
			data = []byte{}
		}
	case storage.IsNotFound(err):
	default:
		h.log.Error().Err(err).Str("doc", docID).Msg("failed to read blob")
		return
	}
	h.reply(c, protocol.NewGetReply(docID, data))
}

func (h *Hub) handleUpdate(c *Client, env *protocol.Envelope, frame []byte) {
	docID := env.Payload.ID
	h.subscribe(c, docID)

	data, err := env.Payload.Data()
	if err != nil {
		h.metrics.dropped.Inc()
		h.log.Warn().Err(err).Str("client", c.id).Msg("dropping undecodable update")
		return
	}
	if err := h.store.Put(docID, data, h.clock.Now()); err != nil {
		h.log.Error().Err(err).Str("doc", docID).Msg("failed to store blob")
	} else {
		h.metrics.storedBytes.Add(float64(len(data)))
	}

	h.broadcast(docID, c, frame)
}

func (h *Hub) subscribe(c *Client, docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.id] != c {
		return
	}
	if h.docIndex[docID] == nil {
		h.docIndex[docID] = make(map[string]*Client)
	}
	h.docIndex[docID][c.id] = c
	c.docs[docID] = struct{}{}
}

func (h *Hub) reply(c *Client, env *protocol.Envelope) {
	frame, err := env.Marshal()
	if err != nil {
		h.log.Error().Err(err).Msg("failed to encode reply")
		return
	}

	h.mu.RLock()
	ok := h.deliver(c, frame)
	h.mu.RUnlock()

	if !ok {
		h.evict(c)
	}
}

// broadcast sends frame unchanged to every other subscriber of docID
func (h *Hub) broadcast(docID string, from *Client, frame []byte) {
	var full []*Client

	h.mu.RLock()
	for id, c := range h.docIndex[docID] {
		if id == from.id {
			continue
		}
		if !h.deliver(c, frame) {
			full = append(full, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range full {
		h.evict(c)
	}
}

// deliver queues frame without blocking. It must be called with h.mu held
// so the queue cannot be closed concurrently. Returns false when the
// queue is full.
func (h *Hub) deliver(c *Client, frame []byte) bool {
	if h.clients[c.id] != c {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (h *Hub) evict(c *Client) {
	h.log.Warn().Str("client", c.id).Msg("send buffer full, closing connection")
	h.metrics.evicted.Inc()
	h.Unregister(c)
}
