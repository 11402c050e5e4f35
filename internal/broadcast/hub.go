package broadcast

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/fleet-tracker/internal/models"
	"github.com/example/fleet-tracker/internal/observability"
)

// Publisher fans out an accepted device update.
type Publisher interface {
	Publish(ctx context.Context, d models.Device) error
}

// SnapshotFunc loads the full current device set for a joining subscriber.
type SnapshotFunc func(ctx context.Context) ([]models.Device, error)

const (
	defaultSendBuffer = 256
	snapshotTimeout   = 5 * time.Second
)

// Hub owns the subscriber set. Registration and broadcast are handled by one
// goroutine, so a joining subscriber gets its snapshot before any update the
// hub processes after it, and updates keep the order they were published in.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan models.Device
	register   chan *Client
	unregister chan *Client
	snapshot   SnapshotFunc
	sendBuffer int
	logger     *slog.Logger
	mu         sync.RWMutex
}

func NewHub(snapshot SnapshotFunc, sendBuffer int, logger *slog.Logger) *Hub {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan models.Device, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		snapshot:   snapshot,
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Serve runs the hub until ctx ends. Lifecycle events are drained before
// broadcasts so membership is settled before a message goes out.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.register:
			h.add(ctx, c)
			continue
		case c := <-h.unregister:
			h.remove(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case c := <-h.register:
			h.add(ctx, c)
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.broadcast:
			h.fanOut(d)
		}
	}
}

// Publish queues an update for every subscriber. It only blocks when the hub
// queue itself is full, never on a slow subscriber.
func (h *Hub) Publish(ctx context.Context, d models.Device) error {
	select {
	case h.broadcast <- d:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a new subscriber and returns it once the hub has
// queued its snapshot.
func (h *Hub) Subscribe(ctx context.Context) (*Client, error) {
	c := newClient(h, h.sendBuffer)
	select {
	case h.register <- c:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) add(ctx context.Context, c *Client) {
	sctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	devices, err := h.snapshot(sctx)
	cancel()
	if err != nil {
		h.logger.Error("snapshot for new subscriber failed", "client", c.id, "error", err)
		close(c.send)
		return
	}
	if devices == nil {
		devices = []models.Device{}
	}
	// the send buffer is empty and at least one slot, so this never blocks
	c.send <- models.LiveMessage{Type: models.MessageSnapshot, Devices: devices}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	observability.LiveSubscribers.Set(float64(n))
	h.logger.Info("live subscriber joined", "client", c.id, "devices", len(devices), "total_clients", n)
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	observability.LiveSubscribers.Set(float64(n))
	h.logger.Info("live subscriber left", "client", c.id, "total_clients", n)
}

// fanOut delivers in client id order. A subscriber whose buffer is full is
// dropped instead of stalling the others.
func (h *Hub) fanOut(d models.Device) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })

	msg := models.LiveMessage{Type: models.MessageUpdate, Device: &d}
	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			close(c.send)
			delete(h.clients, c)
			observability.SubscribersDropped.Inc()
			h.logger.Warn("dropping slow live subscriber", "client", c.id)
		}
	}
	observability.UpdatesBroadcast.Inc()
	observability.LiveSubscribers.Set(float64(len(h.clients)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	observability.LiveSubscribers.Set(0)
	h.logger.Info("live hub stopped")
}
