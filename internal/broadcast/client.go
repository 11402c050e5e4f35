package broadcast

import (
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/fleet-tracker/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

var clientIDCounter atomic.Uint64

// Client is one live channel subscriber.
type Client struct {
	id   uint64
	hub  *Hub
	send chan models.LiveMessage
}

func newClient(h *Hub, buffer int) *Client {
	return &Client{id: clientIDCounter.Add(1), hub: h, send: make(chan models.LiveMessage, buffer)}
}

func (c *Client) ID() uint64 { return c.id }

// Messages yields the snapshot and then updates; it closes when the hub drops
// or stops the subscriber.
func (c *Client) Messages() <-chan models.LiveMessage { return c.send }

// Close asks the hub to forget the subscriber.
func (c *Client) Close() {
	select {
	case c.hub.unregister <- c:
	case <-time.After(writeWait):
	}
}

// Pump streams the subscriber's messages over conn until either side goes
// away. It blocks; the caller owns conn.
func (c *Client) Pump(conn *websocket.Conn) {
	done := make(chan struct{})
	go c.readPump(conn, done)
	c.writePump(conn, done)
}

// readPump only exists to process control frames and notice disconnects;
// viewers never send data frames.
func (c *Client) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer func() {
		close(done)
		c.Close()
	}()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
