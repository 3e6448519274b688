package blivedm

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errTransportClosed = errors.New("transport closed")

// UserAgent is sent on the WebSocket handshake and by the bootstrap REST
// calls; some servers reject clients without a browser-like agent.
const UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/102.0.0.0 Safari/537.36"

// wsConn implements transport over a gorilla WebSocket.
type wsConn struct {
	conn *websocket.Conn

	mu     sync.Mutex // protects writes and closed
	closed bool
}

func newWebSocketDialer(handshakeTimeout time.Duration) dialFunc {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	return func(ctx context.Context, url string) (transport, error) {
		header := http.Header{}
		header.Set("User-Agent", UserAgent)
		conn, resp, err := dialer.DialContext(ctx, url, header)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			return nil, err
		}
		return &wsConn{conn: conn}, nil
	}
}

func (c *wsConn) readFrame() ([]byte, error) {
	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *wsConn) writeFrame(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errTransportClosed
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *wsConn) setReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *wsConn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	// Best effort; the peer may already be gone.
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}
