// Package transport abstracts the bidirectional message channel a
// connection owns. The core consumes the Channel interface only; the
// gobwas/ws implementation lives here and test doubles are selected at
// composition time.
package transport

import (
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Close codes sent on the wire when the server initiates closure.
const (
	CloseNormal          = 1000
	ClosePolicyViolation = 1008
)

// ErrChannelClosed is returned by Send/Receive after Close.
var ErrChannelClosed = errors.New("transport: channel closed")

// Channel is an exclusively owned bidirectional JSON message pipe. SendJSON
// calls for a single channel are serialized by the implementation, so
// repeated sends are delivered in call order. Close is safe to call more
// than once; only the first call emits a close frame.
type Channel interface {
	SendJSON(v any) error
	ReceiveJSON(v any) error
	Close(code int, reason string) error
}

// wsChannel implements Channel over a WebSocket connection upgraded with
// gobwas/ws.
type wsChannel struct {
	conn         net.Conn
	writeTimeout time.Duration

	writeMu   sync.Mutex // serializes frames; guarantees per-channel send order
	closeOnce sync.Once
	closed    chan struct{}
}

// NewChannel wraps an upgraded WebSocket connection. writeTimeout bounds
// each outbound frame write; zero disables the deadline.
func NewChannel(conn net.Conn, writeTimeout time.Duration) Channel {
	return &wsChannel{
		conn:         conn,
		writeTimeout: writeTimeout,
		closed:       make(chan struct{}),
	}
}

func (c *wsChannel) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *wsChannel) SendJSON(v any) error {
	if c.isClosed() {
		return ErrChannelClosed
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return wsutil.WriteServerMessage(c.conn, ws.OpText, data)
}

// ReceiveJSON blocks until the next text frame arrives and decodes it into
// v. Control frames (ping/pong) are answered by the library in passing.
func (c *wsChannel) ReceiveJSON(v any) error {
	for {
		if c.isClosed() {
			return ErrChannelClosed
		}
		data, op, err := wsutil.ReadClientData(c.conn)
		if err != nil {
			return err
		}
		if op != ws.OpText {
			continue
		}
		return json.Unmarshal(data, v)
	}
}

func (c *wsChannel) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)

		c.writeMu.Lock()
		if c.writeTimeout > 0 {
			c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		}
		body := ws.NewCloseFrameBody(ws.StatusCode(code), reason)
		ws.WriteFrame(c.conn, ws.NewCloseFrame(body))
		c.writeMu.Unlock()

		err = c.conn.Close()
	})
	return err
}
