package server

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 4096
)

// ErrSendBufferFull is returned when a slow client's buffer is exhausted and
// the update is dropped.
var ErrSendBufferFull = errors.New("client send buffer full")

// ErrClientClosed is returned for sends after the client was shut down.
var ErrClientClosed = errors.New("client closed")

// ClientAdapter bridges one downstream WebSocket client into the notifier's
// observer set. Updates flow through a buffered channel so a slow client
// drops messages instead of stalling the fan-out.
type ClientAdapter struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	onClose   func(id string)
}

// NewClientAdapter wraps an upgraded connection. onClose runs once when the
// client goes away, after the connection is torn down.
func NewClientAdapter(id string, conn *websocket.Conn, sendBuffer int, onClose func(id string)) *ClientAdapter {
	return &ClientAdapter{
		id:      id,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		onClose: onClose,
	}
}

// Start launches the read and write pumps.
func (c *ClientAdapter) Start() {
	go c.writePump()
	go c.readPump()
}

// ID implements notify.Observer.
func (c *ClientAdapter) ID() string { return c.id }

// Send implements notify.Observer. Never blocks; a full buffer drops the
// message and reports it so the notifier can log.
func (c *ClientAdapter) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// readPump drains inbound frames to keep the connection alive. Clients don't
// speak to us beyond pings; anything they send is discarded.
func (c *ClientAdapter) readPump() {
	defer func() {
		c.conn.Close()
		if c.onClose != nil {
			c.onClose(c.id)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("client_read_error", "id", c.id, "error", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump pushes queued updates and periodic pings to the client.
func (c *ClientAdapter) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			return

		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close shuts the client down from the server side. The write pump sends a
// going-away close frame and tears the connection down; safe to call more
// than once.
func (c *ClientAdapter) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
