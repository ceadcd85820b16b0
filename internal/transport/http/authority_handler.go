package http

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

const maxVerifyBody = 16 << 10

// VerifyHandler serves the public license verification endpoint
type VerifyHandler struct {
	verifier Verifier
	errors   *apperrors.ErrorHandler
	logger   *slog.Logger
}

// NewVerifyHandler creates a verification handler
func NewVerifyHandler(verifier Verifier, errHandler *apperrors.ErrorHandler, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		verifier: verifier,
		errors:   errHandler,
		logger:   logger.With(slog.String("handler", "verify")),
	}
}

// Verify handles POST /api/v1/license/verify. Every well-formed request is
// answered with 200, including refusals; only undecodable bodies get 400.
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxVerifyBody))
	if err := dec.Decode(&req); err != nil {
		h.logger.DebugContext(r.Context(), "malformed verification request",
			slog.String("error", err.Error()))
		h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	resp := h.verifier.Verify(r.Context(), req)
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// AdminHandler serves the authority's administrative license routes
type AdminHandler struct {
	admin  LicenseAdmin
	errors *apperrors.ErrorHandler
	logger *slog.Logger
}

// NewAdminHandler creates an admin handler
func NewAdminHandler(admin LicenseAdmin, errHandler *apperrors.ErrorHandler, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		admin:  admin,
		errors: errHandler,
		logger: logger.With(slog.String("handler", "admin")),
	}
}

// Routes returns the admin router, mounted at /api/v1/admin
func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/licenses", func(r chi.Router) {
		r.Post("/", h.Issue)
		r.Get("/", h.List)
		r.Get("/{key}", h.Get)
		r.Post("/{key}/release", h.Release)
		r.Post("/{key}/revoke", h.Revoke)
	})
	r.Post("/reaper/run", h.RunReaper)

	return r
}

// Issue handles POST /api/v1/admin/licenses
func (h *AdminHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req domain.IssueLicenseRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	l, err := h.admin.Issue(r.Context(), req)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "license issued via admin api",
		slog.String("license_key", infrastructure.MaskLicenseKey(l.Key)),
		slog.String("owner_id", l.OwnerID))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, l)
}

// List handles GET /api/v1/admin/licenses?status=&limit=&offset=
func (h *AdminHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q.Get("limit"), 50)
	if err != nil {
		h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(fmt.Errorf("limit: %w", err)))
		return
	}
	offset, err := queryInt(q.Get("offset"), 0)
	if err != nil {
		h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(fmt.Errorf("offset: %w", err)))
		return
	}

	licenses, err := h.admin.List(r.Context(), domain.LicenseStatus(q.Get("status")), limit, offset)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if licenses == nil {
		licenses = []*domain.License{}
	}

	render.JSON(w, r, map[string]interface{}{
		"licenses": licenses,
		"limit":    limit,
		"offset":   offset,
	})
}

// Get handles GET /api/v1/admin/licenses/{key}
func (h *AdminHandler) Get(w http.ResponseWriter, r *http.Request) {
	l, err := h.admin.Get(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, l)
}

// Release handles POST /api/v1/admin/licenses/{key}/release
func (h *AdminHandler) Release(w http.ResponseWriter, r *http.Request) {
	l, err := h.admin.Release(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, l)
}

// Revoke handles POST /api/v1/admin/licenses/{key}/revoke
func (h *AdminHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	l, err := h.admin.Revoke(r.Context(), chi.URLParam(r, "key"))
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, l)
}

// RunReaper handles POST /api/v1/admin/reaper/run
func (h *AdminHandler) RunReaper(w http.ResponseWriter, r *http.Request) {
	result, err := h.admin.RunReaper(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func queryInt(raw string, fallback int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative")
	}
	return n, nil
}
