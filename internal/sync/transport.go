package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one message-oriented connection to the relay
type Conn interface {
	// Send writes one frame
	Send(ctx context.Context, frame []byte) error
	// Receive blocks until the next frame arrives or the connection ends
	Receive(ctx context.Context) ([]byte, error)
	// Close tears the connection down, unblocking Receive
	Close() error
}

// Transport opens relay connections
type Transport interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebSocketTransport dials relays over gorilla websockets
type WebSocketTransport struct {
	Dialer    *websocket.Dialer
	WriteWait time.Duration
}

// NewWebSocketTransport returns a transport with gorilla's default dialer
func NewWebSocketTransport() *WebSocketTransport {
	return &WebSocketTransport{
		Dialer:    websocket.DefaultDialer,
		WriteWait: 10 * time.Second,
	}
}

func (t *WebSocketTransport) Dial(ctx context.Context, url string) (Conn, error) {
	ws, _, err := t.Dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}
	return &wsConn{ws: ws, writeWait: t.WriteWait}, nil
}

// wsConn serializes writers; gorilla allows one concurrent writer and one reader.
type wsConn struct {
	ws        *websocket.Conn
	writeWait time.Duration
	writeMu   gosync.Mutex
}

func (c *wsConn) Send(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	if d, ok := ctx.Deadline(); ok {
		c.ws.SetReadDeadline(d)
	}
	_, data, err := c.ws.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
