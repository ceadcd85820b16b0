package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// Message types pushed to clients
const (
	TypeConnection    = "connection"
	TypeLicenseStatus = "license:status"
)

// Message is the envelope of every frame sent to clients
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp string      `json:"timestamp"`
}

// Hub maintains the set of connected clients and fans out license status
// updates. The latest status is replayed to every client on connect.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu         sync.RWMutex
	lastStatus []byte

	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewHub creates a hub. Run must be started before clients connect.
func NewHub(metrics *Metrics, logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		metrics:    metrics,
		logger:     infrastructure.WithComponent(logger, "websocket.hub"),
		now:        time.Now,
	}
}

// Run serves registrations and broadcasts until ctx is cancelled
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			h.logger.InfoContext(ctx, "hub shutting down")
			return nil

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			count := len(h.clients)
			last := h.lastStatus
			h.mu.Unlock()

			h.metrics.recordConnect(ctx)
			h.logger.InfoContext(ctx, "client registered",
				slog.String("client_id", client.id),
				slog.String("remote_addr", client.remoteAddr),
				slog.Int("total_clients", count))

			greeted := h.sendTo(ctx, client, h.envelope(TypeConnection, map[string]string{
				"status":    "connected",
				"client_id": client.id,
			}))
			if greeted && last != nil {
				h.sendTo(ctx, client, last)
			}

		case client := <-h.unregister:
			h.remove(ctx, client)

		case message := <-h.broadcast:
			h.mu.RLock()
			clients := make([]*Client, 0, len(h.clients))
			for c := range h.clients {
				clients = append(clients, c)
			}
			h.mu.RUnlock()

			for _, c := range clients {
				h.sendTo(ctx, c, message)
			}
			h.metrics.recordBroadcast(ctx, len(clients))
		}
	}
}

// PublishStatus implements license.StatusPublisher. It never blocks the
// caller; when the hub is saturated the update is dropped and the next one
// carries the current state anyway.
func (h *Hub) PublishStatus(view domain.LicenseStatusView) {
	message := h.envelope(TypeLicenseStatus, view)
	if message == nil {
		return
	}

	h.mu.Lock()
	h.lastStatus = message
	h.mu.Unlock()

	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("status broadcast dropped, hub busy",
			slog.String("license_status_code", string(view.LicenseStatusCode)))
	}
}

// Register adds c to the hub. It returns false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

// Unregister removes c from the hub
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) envelope(kind string, data interface{}) []byte {
	b, err := json.Marshal(Message{
		Type:      kind,
		Data:      data,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket message",
			slog.String("type", kind),
			slog.String("error", err.Error()))
		return nil
	}
	return b
}

// sendTo queues message for c, disconnecting clients that stopped reading
func (h *Hub) sendTo(ctx context.Context, c *Client, message []byte) bool {
	select {
	case c.send <- message:
		return true
	default:
		h.logger.WarnContext(ctx, "client send buffer full, disconnecting",
			slog.String("client_id", c.id))
		h.remove(ctx, c)
		return false
	}
}

func (h *Hub) remove(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	h.metrics.recordDisconnect(ctx)
	h.logger.InfoContext(ctx, "client unregistered",
		slog.String("client_id", c.id),
		slog.Int("total_clients", count),
		slog.Duration("connection_duration", time.Since(c.connectedAt)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
