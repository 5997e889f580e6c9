package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/chisme-chat/chisme/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	maxMessageSize = 4096
	pongWait       = 2 * time.Minute
	pingPeriod     = time.Minute
	writeWait      = 10 * time.Second
)

// Client is the live attachment of one user identity to one transport
// handle within one room.
type Client struct {
	// Id correlates log lines; it never goes over the wire.
	Id   string
	Room types.Room
	User types.User

	conn Conn

	// writeMu ensures there is at most one writer on the connection; the
	// ping ticker and concurrent broadcasts all funnel through Send.
	writeMu sync.Mutex
	closed  bool

	cleanupOnce sync.Once
}

func NewClient(conn Conn, room types.Room, user types.User) *Client {
	return &Client{
		Id:   uuid.NewString(),
		Room: room,
		User: user,
		conn: conn,
	}
}

// Send writes one event frame, bounded by the write deadline so a stalled
// peer cannot block a broadcast for long. The first failed write marks the
// client dead; every later Send fails fast.
func (c *Client) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.closed = true
		return err
	}
	return nil
}

func (c *Client) SendJSON(event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return c.Send(data)
}

// Ping sends a control ping; the read deadline is refreshed by the pong
// handler installed in the session loop.
func (c *Client) Ping() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed {
		return websocket.ErrCloseSent
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// CloseWithCode makes a best-effort attempt to deliver a close frame, then
// closes the transport.
func (c *Client) CloseWithCode(code int, reason string) {
	c.writeMu.Lock()
	if !c.closed {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
		c.closed = true
	}
	c.writeMu.Unlock()
	_ = c.conn.Close()
}
