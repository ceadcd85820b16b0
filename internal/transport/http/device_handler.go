package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

const multipartMemory = 8 << 20

// DeviceHandler serves the instance device routes
type DeviceHandler struct {
	service        DeviceService
	errors         *apperrors.ErrorHandler
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewDeviceHandler creates a device handler. maxUploadBytes bounds import
// uploads.
func NewDeviceHandler(service DeviceService, errHandler *apperrors.ErrorHandler, maxUploadBytes int64, logger *slog.Logger) *DeviceHandler {
	return &DeviceHandler{
		service:        service,
		errors:         errHandler,
		maxUploadBytes: maxUploadBytes,
		logger:         logger.With(slog.String("handler", "devices")),
	}
}

// Routes returns the device router, mounted at /api/devices
func (h *DeviceHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Post("/import", h.Import)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	return r
}

// List handles GET /api/devices
func (h *DeviceHandler) List(w http.ResponseWriter, r *http.Request) {
	devices, err := h.service.List(r.Context())
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if devices == nil {
		devices = []domain.Device{}
	}
	render.JSON(w, r, devices)
}

// Get handles GET /api/devices/{id}
func (h *DeviceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	d, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, d)
}

// Create handles POST /api/devices. A quota refusal is answered with 402
// carrying the license message.
func (h *DeviceHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in domain.DeviceInput
	if err := render.DecodeJSON(r.Body, &in); err != nil {
		h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(err))
		return
	}

	d, err := h.service.Create(r.Context(), in)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, d)
}

// Delete handles DELETE /api/devices/{id}
func (h *DeviceHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := deviceID(r)
	if err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.errors.HandleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Import handles POST /api/devices/import with a multipart "file" field
// holding a .csv or .xlsx document
func (h *DeviceHandler) Import(w http.ResponseWriter, r *http.Request) {
	if h.maxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if !errors.As(err, &tooLarge) {
			err = apperrors.InvalidRequestWithError(fmt.Errorf("parse upload: %w", err))
		}
		h.errors.HandleError(w, r, err)
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.errors.HandleError(w, r, apperrors.InvalidRequestWithError(fmt.Errorf("form field \"file\": %w", err)))
		return
	}
	defer file.Close()

	result, err := h.service.Import(r.Context(), header.Filename, file)
	if err != nil {
		if result != nil {
			h.logger.ErrorContext(r.Context(), "device import aborted after partial insert",
				slog.Int("imported", result.Imported),
				slog.String("error", err.Error()))
		}
		h.errors.HandleError(w, r, err)
		return
	}
	render.JSON(w, r, result)
}

func deviceID(r *http.Request) (uint, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || id == 0 {
		return 0, apperrors.InvalidRequestWithError(fmt.Errorf("invalid device id %q", raw))
	}
	return uint(id), nil
}
