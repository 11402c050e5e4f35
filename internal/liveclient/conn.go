package liveclient

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/fleet-tracker/internal/mapview"
	"github.com/example/fleet-tracker/internal/models"
)

// Conn is one viewer's live channel connection. The map engine owns it
// through mapview.Config.Feed; nothing else holds a reference.
type Conn struct {
	URL        string
	Dialer     *websocket.Dialer
	MinBackoff time.Duration
	MaxBackoff time.Duration
	Logger     *slog.Logger
}

// NewConn derives the ws(s)://host/ws/live endpoint from the server's base URL.
func NewConn(serverURL string, logger *slog.Logger) (*Conn, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws/live"
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		URL:        u.String(),
		Dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		MinBackoff: 500 * time.Millisecond,
		MaxBackoff: 15 * time.Second,
		Logger:     logger,
	}, nil
}

// Stream keeps a connection open until ctx ends. Every (re)connect starts
// with a fresh snapshot, so nothing is replayed across reconnects.
func (c *Conn) Stream(ctx context.Context, sink mapview.LiveSink) error {
	backoff := c.MinBackoff
	for {
		err := c.session(ctx, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Logger.Warn("live channel lost, reconnecting", "error", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if err == nil {
			backoff = c.MinBackoff
			continue
		}
		backoff *= 2
		if backoff > c.MaxBackoff {
			backoff = c.MaxBackoff
		}
	}
}

// session returns nil when a connection delivered at least its snapshot
// before dropping, so the caller resets its backoff.
func (c *Conn) session(ctx context.Context, sink mapview.LiveSink) error {
	ws, _, err := c.Dialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.URL, err)
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			_ = ws.Close()
		case <-stop:
			_ = ws.Close()
		}
	}()

	c.Logger.Info("live channel connected", "url", c.URL)
	gotSnapshot := false
	for {
		var m models.LiveMessage
		if err := ws.ReadJSON(&m); err != nil {
			if gotSnapshot {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		switch m.Type {
		case models.MessageSnapshot:
			gotSnapshot = true
			sink.ApplySnapshot(m.Devices)
		case models.MessageUpdate:
			if m.Device != nil {
				sink.ApplyUpdate(*m.Device)
			}
		default:
			c.Logger.Debug("ignoring live message", "type", m.Type)
		}
	}
}
