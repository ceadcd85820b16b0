package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/license"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// LicenseHandler serves the instance license status routes
type LicenseHandler struct {
	service  LicenseService
	errors   *apperrors.ErrorHandler
	validate *validator.Validate
	logger   *slog.Logger
}

// NewLicenseHandler creates a new license handler
func NewLicenseHandler(service LicenseService, errHandler *apperrors.ErrorHandler, logger *slog.Logger) *LicenseHandler {
	return &LicenseHandler{
		service:  service,
		errors:   errHandler,
		validate: validator.New(),
		logger:   logger.With(slog.String("handler", "license")),
	}
}

// Routes returns the license router, mounted at /api/license
func (h *LicenseHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/status", h.GetStatus)
	r.Post("/recheck", h.Recheck)
	r.Put("/key", h.UpdateKey)
	return r
}

// GetStatus handles GET /api/license/status
func (h *LicenseHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.Status(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// Recheck handles POST /api/license/recheck
func (h *LicenseHandler) Recheck(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("license-handler").Start(r.Context(), "license_handler.recheck")
	defer span.End()

	v := h.service.ForceRecheck(ctx)
	span.SetAttributes(attribute.String("license.status_code", string(v.StatusCode)))

	view, err := h.service.Status(ctx)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(ctx, "license recheck requested",
		slog.String("license_status_code", string(view.LicenseStatusCode)))
	render.JSON(w, r, view)
}

// UpdateKey handles PUT /api/license/key
func (h *LicenseHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	var req domain.UpdateLicenseKeyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.errors.HandleError(w, r, apperrors.FromValidator(err))
		return
	}

	view, err := h.service.UpdateKey(r.Context(), req.LicenseKey)
	if errors.Is(err, license.ErrNoLicenseKey) {
		err = apperrors.InvalidRequestWithError(err)
	}
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, view)
}

// ExpiredPage handles GET /license/expired, the landing page for a
// disabled instance
func (h *LicenseHandler) ExpiredPage(w http.ResponseWriter, r *http.Request) {
	v := h.service.Cached()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := expiredPageTemplate.Execute(w, v); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to render license expired page",
			slog.String("error", err.Error()))
	}
}
