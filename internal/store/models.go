package store

import (
	"time"

	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

type licenseModel struct {
	Key                 string     `gorm:"column:license_key;primaryKey;size:64"`
	OwnerID             string     `gorm:"column:owner_id;size:128;index"`
	Status              string     `gorm:"column:status;size:16;not null;index"`
	MaxDevices          int        `gorm:"column:max_devices;not null"`
	CurrentDevices      int        `gorm:"column:current_devices;not null;default:0"`
	ExpiresAt           *time.Time `gorm:"column:expires_at"`
	LastActiveAt        *time.Time `gorm:"column:last_active_at;index"`
	BoundInstallationID *string    `gorm:"column:bound_installation_id;size:64"`
	RevokedAt           *time.Time `gorm:"column:revoked_at"`
	CreatedAt           time.Time  `gorm:"column:created_at"`
	UpdatedAt           time.Time  `gorm:"column:updated_at"`
}

func (licenseModel) TableName() string { return "licenses" }

func toDomainLicense(row licenseModel) *domain.License {
	bound := ""
	if row.BoundInstallationID != nil {
		bound = *row.BoundInstallationID
	}
	return &domain.License{
		Key:                 row.Key,
		OwnerID:             row.OwnerID,
		Status:              domain.LicenseStatus(row.Status),
		MaxDevices:          row.MaxDevices,
		CurrentDevices:      row.CurrentDevices,
		ExpiresAt:           row.ExpiresAt,
		LastActiveAt:        row.LastActiveAt,
		BoundInstallationID: bound,
		RevokedAt:           row.RevokedAt,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

func fromDomainLicense(l *domain.License) licenseModel {
	var bound *string
	if l.BoundInstallationID != "" {
		id := l.BoundInstallationID
		bound = &id
	}
	return licenseModel{
		Key:                 l.Key,
		OwnerID:             l.OwnerID,
		Status:              string(l.Status),
		MaxDevices:          l.MaxDevices,
		CurrentDevices:      l.CurrentDevices,
		ExpiresAt:           utcPtr(l.ExpiresAt),
		LastActiveAt:        utcPtr(l.LastActiveAt),
		BoundInstallationID: bound,
		RevokedAt:           utcPtr(l.RevokedAt),
		CreatedAt:           l.CreatedAt.UTC(),
		UpdatedAt:           l.UpdatedAt.UTC(),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

var usableStatuses = []string{
	string(domain.LicenseStatusActive),
	string(domain.LicenseStatusFree),
}
