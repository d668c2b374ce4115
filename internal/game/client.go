package game

import (
	"encoding/json"
	"time"

	"github.com/pdtechteam/quiz-generator/pkg/http/ws"
)

// Sender is the outbound half of a live-channel connection. *ws.Connection
// satisfies it; tests substitute an in-memory capture.
type Sender interface {
	Send(frame []byte) error
	Close()
}

// Client is one attached live-channel connection. It starts anonymous and
// gains a player identity on its first accepted join. All fields except conn
// are owned by the session runtime goroutine; Send and Close are safe from
// any goroutine.
type Client struct {
	conn Sender

	playerID     int64
	name         string
	lastReaction time.Time
}

// NewClient wraps a connection for attachment to a session runtime.
func NewClient(conn Sender) *Client {
	return &Client{conn: conn}
}

func (c *Client) joined() bool {
	return c.playerID != 0
}

func (c *Client) send(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.conn.Send(data)
}

// reject answers a protocol violation straight from the reader goroutine.
// Delivery failures are ignored; a dead connection is torn down elsewhere.
func (c *Client) reject(kind, message string) {
	_ = c.send(ws.ErrorEvent{Type: ws.TypeError, Kind: kind, Message: message})
}
