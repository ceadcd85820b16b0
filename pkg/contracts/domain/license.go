// Package domain contains the core domain models shared by the license
// authority and the monitored instance. These types are the single source of
// truth for storage, transport and the instance cache.
package domain

import (
	"math"
	"time"
)

// UnlimitedDevices is the max_devices sentinel meaning "no quota"
const UnlimitedDevices = math.MaxInt32

// LicenseStatus is the stored lifecycle status of a license record
type LicenseStatus string

const (
	LicenseStatusActive  LicenseStatus = "active"
	LicenseStatusFree    LicenseStatus = "free"
	LicenseStatusExpired LicenseStatus = "expired"
	LicenseStatusRevoked LicenseStatus = "revoked"
)

// Usable reports whether the status allows verification to succeed
func (s LicenseStatus) Usable() bool {
	return s == LicenseStatusActive || s == LicenseStatusFree
}

// Valid reports whether s is one of the known statuses
func (s LicenseStatus) Valid() bool {
	switch s {
	case LicenseStatusActive, LicenseStatusFree, LicenseStatusExpired, LicenseStatusRevoked:
		return true
	}
	return false
}

// License is the authority-side record of an issued license
type License struct {
	Key                 string        `json:"license_key"`
	OwnerID             string        `json:"owner_id"`
	Status              LicenseStatus `json:"status"`
	MaxDevices          int           `json:"max_devices"`
	CurrentDevices      int           `json:"current_devices"`
	ExpiresAt           *time.Time    `json:"expires_at,omitempty"`
	LastActiveAt        *time.Time    `json:"last_active_at,omitempty"`
	BoundInstallationID string        `json:"bound_installation_id,omitempty"`
	RevokedAt           *time.Time    `json:"revoked_at,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
	UpdatedAt           time.Time     `json:"updated_at"`
}

// ExpiredAt reports whether the license has a date-based expiry at or before now
func (l *License) ExpiredAt(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Bound reports whether the license is bound to an installation
func (l *License) Bound() bool {
	return l.BoundInstallationID != ""
}

// IsUnlimited reports whether the device quota is the unlimited sentinel
func IsUnlimited(maxDevices int) bool {
	return maxDevices >= UnlimitedDevices
}

// IssueLicenseRequest is the admin request to create a new unbound license
type IssueLicenseRequest struct {
	OwnerID    string        `json:"owner_id" validate:"required"`
	Status     LicenseStatus `json:"status" validate:"required,oneof=active free"`
	MaxDevices int           `json:"max_devices" validate:"required,min=1"`
	ExpiresAt  *time.Time    `json:"expires_at,omitempty"`
}

// ReapResult summarizes one dormant license reaper run
type ReapResult struct {
	Revoked   int       `json:"revoked"`
	Keys      []string  `json:"-"`
	Cutoff    time.Time `json:"cutoff"`
	StartedAt time.Time `json:"started_at"`
	Duration  string    `json:"duration"`
}
