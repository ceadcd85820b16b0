package http

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/render"

	"github.com/pranto48/text-sub000/internal/config"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler handles GET /api/health
type HealthHandler struct {
	service string
	checks  map[string]HealthCheck
	timeout time.Duration
	logger  *slog.Logger
	started time.Time
}

// NewHealthHandler creates a health handler for service
func NewHealthHandler(service string, checks map[string]HealthCheck, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		service: service,
		checks:  checks,
		timeout: 3 * time.Second,
		logger:  logger.With(slog.String("handler", "health")),
		started: time.Now(),
	}
}

// HealthResponse is the health payload
type HealthResponse struct {
	Status  string            `json:"status"`
	Service string            `json:"service"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// HealthCheck reports "ok" when every dependency answers, 503 otherwise
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	resp := HealthResponse{
		Status:  "ok",
		Service: h.service,
		Version: config.AppVersion,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
		Checks:  make(map[string]string, len(h.checks)),
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			h.logger.WarnContext(ctx, "health check failed",
				slog.String("check", name),
				slog.String("error", err.Error()))
			continue
		}
		resp.Checks[name] = "ok"
	}

	if resp.Status != "ok" {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, resp)
}
