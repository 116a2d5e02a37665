package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketConn adapts a gorilla connection to ClientConn.
// gorilla allows one concurrent writer, so writes and the close frame share a mutex.
type WebSocketConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

// NewWebSocketConn wraps conn. readLimit caps a single inbound message; zero leaves gorilla's default.
func NewWebSocketConn(conn *websocket.Conn, writeTimeout time.Duration, readLimit int64) *WebSocketConn {
	if readLimit > 0 {
		conn.SetReadLimit(readLimit)
	}
	return &WebSocketConn{conn: conn, writeTimeout: writeTimeout}
}

// ReadMessage returns the next text or binary message.
func (c *WebSocketConn) ReadMessage() (MessageType, []byte, error) {
	for {
		mt, data, err := c.conn.ReadMessage()
		if err != nil {
			return MessageText, nil, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return MessageBinary, data, nil
		case websocket.TextMessage:
			return MessageText, data, nil
		}
	}
}

// WriteJSON writes v as a single text message.
func (c *WebSocketConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteJSON(v)
}

// Close sends a normal close frame and closes the connection. Idempotent.
func (c *WebSocketConn) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.writeMu.Unlock()

		if err := c.conn.Close(); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
			c.closeErr = err
		}
	})
	return c.closeErr
}
