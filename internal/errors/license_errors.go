package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// License-specific sentinel errors
var (
	ErrLicenseNotFound   = errors.New("license not found")
	ErrQuotaExceeded     = errors.New("device quota exceeded")
	ErrLicenseDisabled   = errors.New("license disabled")
	ErrDeviceNotFound    = errors.New("device not found")
	ErrUnsupportedImport = errors.New("unsupported import file")
	ErrAdminDisabled     = errors.New("admin api disabled")
)

// QuotaError is returned by the device quota gate when the cached verdict
// refuses another device. Message is the cached license message shown to
// the user.
type QuotaError struct {
	Message     string
	StatusCode  string
	MaxDevices  int
	DeviceCount int
}

func (e *QuotaError) Error() string {
	return "device quota exceeded: " + e.Message
}

// Is lets errors.Is(err, ErrQuotaExceeded) match
func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions next to the standard fields
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))
	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	pd.Extensions[key] = value
	return pd
}

// NewQuotaExceededProblem renders a quota gate refusal as 402 Payment Required
func NewQuotaExceededProblem(qe *QuotaError, instance string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusPaymentRequired,
		TypeLicenseQuota,
		"Device Quota Exceeded",
		qe.Message,
		instance,
	).WithExtension("error_code", "DEVICE_QUOTA_EXCEEDED").
		WithExtension("license_status_code", qe.StatusCode).
		WithExtension("max_devices", qe.MaxDevices).
		WithExtension("device_count", qe.DeviceCount)
}

// NewLicenseDisabledProblem renders the response for API calls made while the
// instance license is disabled
func NewLicenseDisabledProblem(message, instance string) *ProblemDetails {
	return NewProblemDetails(
		http.StatusPaymentRequired,
		TypeLicenseDisabled,
		"License Disabled",
		message,
		instance,
	).WithExtension("error_code", "LICENSE_DISABLED").
		WithExtension("license_status_code", "disabled")
}
