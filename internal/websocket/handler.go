package websocket

import (
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/websocket"

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
)

// Handler upgrades /ws/license requests and attaches them to the hub
type Handler struct {
	hub      *Hub
	cfg      config.WebSocketConfig
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandler creates the upgrade handler. Only same-origin browsers (or
// clients sending no Origin) are accepted.
func NewHandler(hub *Hub, cfg config.WebSocketConfig, logger *slog.Logger) *Handler {
	logger = infrastructure.WithComponent(logger, "websocket.handler")
	h := &Handler{hub: hub, cfg: cfg, logger: logger}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     sameOrigin,
		Error: func(w http.ResponseWriter, r *http.Request, status int, reason error) {
			logger.WarnContext(r.Context(), "websocket upgrade refused",
				slog.Int("status", status),
				slog.String("reason", reason.Error()),
				slog.String("origin", r.Header.Get("Origin")))
			http.Error(w, http.StatusText(status), status)
		},
	}
	return h
}

// ServeHTTP implements http.Handler
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already answered the request
		return
	}

	client := NewClient(h.hub, conn, h.cfg, h.logger)
	if !h.hub.Register(client) {
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
