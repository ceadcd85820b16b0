package websocket

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pranto48/text-sub000/internal/config"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// The feed is server to client only; inbound frames are pings or noise
	maxMessageSize = 512

	sendBuffer = 16
)

// Client is a middleman between one websocket connection and the hub
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id          string
	remoteAddr  string
	connectedAt time.Time
	pingPeriod  time.Duration
	pongWait    time.Duration

	logger *slog.Logger
}

// NewClient wraps an upgraded connection
func NewClient(hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig, logger *slog.Logger) *Client {
	id := uuid.NewString()

	pongWait := cfg.PongWait
	if pongWait <= 0 {
		pongWait = 60 * time.Second
	}
	pingPeriod := cfg.PingPeriod
	if pingPeriod <= 0 || pingPeriod >= pongWait {
		pingPeriod = (pongWait * 9) / 10
	}

	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, sendBuffer),
		id:          id,
		remoteAddr:  conn.RemoteAddr().String(),
		connectedAt: time.Now(),
		pingPeriod:  pingPeriod,
		pongWait:    pongWait,
		logger:      logger.With(slog.String("component", "websocket.client"), slog.String("client_id", id)),
	}
}

// ReadPump drains inbound frames so pongs and close frames are processed.
// It unregisters the client when the connection ends.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.WarnContext(context.Background(), "unexpected websocket close",
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

// WritePump sends queued messages and keepalive pings until the hub closes
// the send channel or a write fails
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.DebugContext(context.Background(), "websocket write failed",
					slog.String("error", err.Error()))
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
