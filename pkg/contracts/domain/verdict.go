package domain

import "time"

// ActualStatus is the authority's classification of a verification attempt
type ActualStatus string

const (
	ActualStatusActive         ActualStatus = "active"
	ActualStatusFree           ActualStatus = "free"
	ActualStatusExpired        ActualStatus = "expired"
	ActualStatusRevoked        ActualStatus = "revoked"
	ActualStatusInUse          ActualStatus = "in_use"
	ActualStatusNotFound       ActualStatus = "not_found"
	ActualStatusInvalidRequest ActualStatus = "invalid_request"
	ActualStatusError          ActualStatus = "error"
)

// Usable reports whether the authority accepted the license
func (s ActualStatus) Usable() bool {
	return s == ActualStatusActive || s == ActualStatusFree
}

// VerifyRequest is the wire request of POST /api/v1/license/verify
type VerifyRequest struct {
	LicenseKey         string `json:"app_license_key" validate:"required"`
	CallerID           string `json:"user_id" validate:"required"`
	InstallationID     string `json:"installation_id" validate:"required"`
	CurrentDeviceCount int    `json:"current_device_count"`
}

// VerifyResponse is the wire response of POST /api/v1/license/verify
type VerifyResponse struct {
	Success      bool         `json:"success"`
	Message      string       `json:"message"`
	ActualStatus ActualStatus `json:"actual_status"`
	MaxDevices   *int         `json:"max_devices,omitempty"`
}

// StatusCode is the instance-side license state derived from verification
// attempts and the grace window
type StatusCode string

const (
	StatusActive         StatusCode = "active"
	StatusGracePeriod    StatusCode = "grace_period"
	StatusExpired        StatusCode = "expired"
	StatusRevoked        StatusCode = "revoked"
	StatusInUse          StatusCode = "in_use"
	StatusNotFound       StatusCode = "not_found"
	StatusInvalidRequest StatusCode = "invalid_request"
	StatusDisabled       StatusCode = "disabled"
	StatusError          StatusCode = "error"
)

// AllowsDevices reports whether the state permits adding devices at all
func (c StatusCode) AllowsDevices() bool {
	return c == StatusActive || c == StatusGracePeriod
}

// LastGood is the snapshot of the most recent successful verification
type LastGood struct {
	CheckedAt    time.Time    `json:"checked_at"`
	MaxDevices   int          `json:"max_devices"`
	ActualStatus ActualStatus `json:"actual_status"`
}

// Verdict is the cached result of the latest evaluation on an instance
type Verdict struct {
	StatusCode     StatusCode `json:"license_status_code"`
	Message        string     `json:"license_message"`
	MaxDevices     int        `json:"max_devices"`
	GracePeriodEnd *time.Time `json:"license_grace_period_end,omitempty"`
	LastCheckedAt  time.Time  `json:"last_checked_at"`
}

// CanAddDevice reports whether one more device fits under the verdict
func (v Verdict) CanAddDevice(deviceCount int) bool {
	if !v.StatusCode.AllowsDevices() {
		return false
	}
	if IsUnlimited(v.MaxDevices) {
		return true
	}
	return deviceCount < v.MaxDevices
}

// LicenseStatusView is the payload of the instance status endpoints and the
// websocket status feed
type LicenseStatusView struct {
	AppLicenseKey         string     `json:"app_license_key"`
	CanAddDevice          bool       `json:"can_add_device"`
	MaxDevices            int        `json:"max_devices"`
	DeviceCount           int        `json:"device_count"`
	LicenseMessage        string     `json:"license_message"`
	LicenseStatusCode     StatusCode `json:"license_status_code"`
	LicenseGracePeriodEnd *time.Time `json:"license_grace_period_end"`
	LastCheckedAt         *time.Time `json:"last_checked_at,omitempty"`
	InstallationID        string     `json:"installation_id"`
}

// UpdateLicenseKeyRequest is the body of PUT /api/license/key
type UpdateLicenseKeyRequest struct {
	LicenseKey string `json:"app_license_key" validate:"required,max=128"`
}
