package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// sendQueueSize bounds the per-client outbound buffer. A client that
	// cannot drain this many frames gets detached instead of stalling the
	// session broadcast.
	sendQueueSize = 256

	readDeadline = 60 * time.Second
	maxFrameSize = 4096
)

// Connection wraps a WebSocket connection with a bounded send queue.
// Callers marshal each event once and queue the raw bytes, so a broadcast
// to N clients costs a single encode.
type Connection struct {
	conn   *websocket.Conn
	sendCh chan []byte
	mu     sync.Mutex
	closed bool
	logger zerolog.Logger
}

// NewConnection wraps a WebSocket connection.
func NewConnection(conn *websocket.Conn, logger zerolog.Logger) *Connection {
	return &Connection{
		conn:   conn,
		sendCh: make(chan []byte, sendQueueSize),
		logger: logger,
	}
}

// Send queues a marshalled frame for delivery. It never blocks: a full
// queue returns ErrSendQueueFull and the caller decides the client's fate.
func (c *Connection) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.sendCh <- frame:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close shuts down the connection. Safe to call more than once.
func (c *Connection) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}

	c.closed = true
	close(c.sendCh)
	c.conn.Close()
}

// WritePump drains the send queue onto the socket. Runs in its own
// goroutine, one per connection.
func (c *Connection) WritePump() {
	defer c.conn.Close()

	for frame := range c.sendCh {
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			c.logger.Warn().Err(err).Msg("write error")
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// ReadPump receives frames and calls the handler until the socket closes.
// The read deadline is extended on every frame, so application-level pings
// keep the connection alive without WebSocket control pings.
func (c *Connection) ReadPump(handler func(data []byte) error) {
	defer c.conn.Close()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("read error")
			}
			break
		}
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))

		if err := handler(data); err != nil {
			c.logger.Warn().Err(err).Msg("frame handler error")
		}
	}
}

var (
	ErrConnectionClosed = &Error{Code: "connection_closed", Message: "Connection is closed"}
	ErrSendQueueFull    = &Error{Code: "send_queue_full", Message: "Send queue is full"}
)

type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
