package ws

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/arkline/chatmesh/internal/chat"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 45 * time.Second
	maxMessageSize = 4096
	sendBufferSize = 256
)

var errConnectionClosed = errors.New("connection closed")
var errSendBufferFull = errors.New("send buffer full")

// Client is one WebSocket connection with its buffered outgoing channel.
// It satisfies the session registry's connection contract.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	user chat.User
	log  *zap.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, user chat.User, log *zap.Logger) *Client {
	return &Client{
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		user: user,
		log:  log.With(zap.String("user_id", user.ID)),
	}
}

// WriteMessage queues data for delivery. A closed connection or a full
// buffer is a write failure: a client that cannot drain its buffer is
// treated as gone.
func (c *Client) WriteMessage(data []byte) error {
	if c.closed.Load() {
		return errConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

// Closed reports whether the connection is no longer usable.
func (c *Client) Closed() bool {
	return c.closed.Load()
}

// Close shuts the connection down. Safe to call more than once. The send
// channel is left open on purpose: concurrent fan-out writers check the
// closed flag instead, and the write pump exits on the closed socket.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.conn.Close()
	})
	return err
}

// writePump pumps frames from the send channel to the WebSocket
// connection and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closed.Store(true)
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Warn("write error", zap.Error(err))
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Warn("ping error", zap.Error(err))
				return
			}
		}
	}
}
