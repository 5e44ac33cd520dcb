package relay

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Client is one websocket connection to the relay
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub
	cfg  WebSocketConfig
	send chan []byte

	// docs is guarded by hub.mu
	docs map[string]struct{}
}

func NewClient(conn *websocket.Conn, hub *Hub, cfg WebSocketConfig) *Client {
	return &Client{
		id:   uuid.NewString(),
		conn: conn,
		hub:  hub,
		cfg:  cfg,
		send: make(chan []byte, cfg.SendBuffer),
		docs: make(map[string]struct{}),
	}
}

func (c *Client) ID() string {
	return c.id
}

// ReadPump feeds frames to the hub until the connection fails
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Str("client", c.id).Msg("websocket error")
			}
			return
		}
		c.hub.HandleMessage(c, message)
	}
}

// WritePump drains the send queue, one websocket message per frame, and
// keeps the connection alive with pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
