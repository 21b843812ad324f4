// Package transport frames protocol messages over WebSocket connections.
package transport

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agenthub/agenthub/internal/common/logger"
	"github.com/agenthub/agenthub/internal/observability"
	"github.com/agenthub/agenthub/pkg/protocol"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// ErrClosed is returned by Receive and Send once the connection is gone.
// Closed is terminal: no call on a closed Conn blocks.
var ErrClosed = errors.New("transport: connection closed")

// Conn wraps one WebSocket connection and exchanges protocol messages
// over it. Sends from any goroutine are serialized through a single
// writer; Receive must only be called from one goroutine at a time.
//
// Conn applies no timeouts of its own. Liveness deadlines are set by
// the connection handler via SetReadDeadline.
type Conn struct {
	ws        *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	logger    *logger.Logger
}

// NewConn wraps an accepted WebSocket connection and starts its writer.
func NewConn(ws *websocket.Conn, sendBuffer int, log *logger.Logger) *Conn {
	if sendBuffer <= 0 {
		sendBuffer = 256
	}
	c := &Conn{
		ws:     ws,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
		logger: log,
	}
	ws.SetReadLimit(maxMessageSize)
	go c.writePump()
	return c
}

// Receive blocks until a full message arrives from the peer.
//
// Bytes that do not parse as JSON close the connection: a peer that
// cannot frame JSON cannot be trusted with the rest of the protocol.
// Messages with an unrecognized type parse fine and are returned as
// *protocol.Unknown so the handler can decide.
func (c *Conn) Receive() (protocol.Message, error) {
	select {
	case <-c.closed:
		return nil, ErrClosed
	default:
	}

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
			c.logger.Debug("WebSocket read error", zap.Error(err))
		}
		c.close()
		return nil, ErrClosed
	}

	msg, err := protocol.Decode(data)
	if err != nil {
		c.logger.Warn("Dropping connection on undecodable frame", zap.Error(err))
		c.close()
		return nil, ErrClosed
	}

	observability.RecordMessage("inbound", metricKind(msg))
	return msg, nil
}

// Send serializes msg and queues it for the writer. Send blocks while
// the send buffer is full and the peer is alive; it returns ErrClosed
// without blocking once the connection is gone.
//
// A message that fails to serialize returns the encoding error and
// leaves the connection usable.
func (c *Conn) Send(msg protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	select {
	case <-c.closed:
		return ErrClosed
	case c.send <- data:
		observability.RecordMessage("outbound", metricKind(msg))
		return nil
	}
}

// SetReadDeadline bounds the next Receive. A zero time clears the deadline.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

// RemoteAddr reports the peer address for logging.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// Close tears the connection down. Idempotent; pending and future
// Receive/Send calls return ErrClosed.
func (c *Conn) Close() error {
	c.close()
	return nil
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		// WriteControl is safe to call concurrently with the writer
		deadline := time.Now().Add(writeWait)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = c.ws.Close()
	})
}

// writePump drains the send queue onto the wire, one frame per message.
func (c *Conn) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("WebSocket write error", zap.Error(err))
				c.close()
				return
			}
		}
	}
}

// metricKind maps a message to a bounded label value. Unrecognized
// peer-supplied types collapse to one bucket.
func metricKind(msg protocol.Message) string {
	if _, ok := msg.(*protocol.Unknown); ok {
		return "unknown"
	}
	return string(msg.MessageKind())
}
