package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// LicenseRepository is the durable license record store. Every mutation is a
// single conditional statement so concurrent verifications cannot overwrite
// each other's binding.
type LicenseRepository struct {
	db     *gorm.DB
	retry  infrastructure.RetryPolicy
	logger *slog.Logger
}

// NewLicenseRepository creates a repository over an open pool
func NewLicenseRepository(db *gorm.DB, retry infrastructure.RetryPolicy, logger *slog.Logger) *LicenseRepository {
	return &LicenseRepository{
		db:     db,
		retry:  retry,
		logger: infrastructure.WithComponent(logger, "license_store"),
	}
}

// Migrate creates or updates the licenses table
func (r *LicenseRepository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&licenseModel{}); err != nil {
		return fmt.Errorf("migrate licenses: %w", err)
	}
	return nil
}

// Get returns the license with the given key
func (r *LicenseRepository) Get(ctx context.Context, key string) (*domain.License, error) {
	var row licenseModel
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Where("license_key = ?", key).Take(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get license: %w", err)
	}
	return toDomainLicense(row), nil
}

// Create inserts a new license record
func (r *LicenseRepository) Create(ctx context.Context, l *domain.License) error {
	row := fromDomainLicense(l)
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Create(&row).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create license: %w", err)
	}
	return nil
}

// MarkExpired moves a usable license to expired. It reports whether this
// call performed the transition; a license already expired or revoked is
// left untouched.
func (r *LicenseRepository) MarkExpired(ctx context.Context, key string, now time.Time) (bool, error) {
	var affected int64
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		res := r.db.WithContext(ctx).
			Model(&licenseModel{}).
			Where("license_key = ? AND status IN ?", key, usableStatuses).
			Updates(map[string]any{
				"status":     string(domain.LicenseStatusExpired),
				"updated_at": now.UTC(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return false, fmt.Errorf("mark license expired: %w", err)
	}
	return affected > 0, nil
}

// Bind attempts to bind an unbound license to installationID and returns the
// installation the license is bound to afterwards. When another caller won
// the race the winner's id is returned; the stored binding is never
// overwritten.
func (r *LicenseRepository) Bind(ctx context.Context, key, installationID string, now time.Time) (string, error) {
	var affected int64
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		res := r.db.WithContext(ctx).
			Model(&licenseModel{}).
			Where("license_key = ? AND bound_installation_id IS NULL", key).
			Updates(map[string]any{
				"bound_installation_id": installationID,
				"updated_at":            now.UTC(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return "", fmt.Errorf("bind license: %w", err)
	}
	if affected == 1 {
		r.logger.InfoContext(ctx, "license bound",
			slog.String("license_key", infrastructure.MaskLicenseKey(key)),
			slog.String("installation_id", installationID))
		return installationID, nil
	}

	current, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !current.Bound() {
		// released between our update and the re-read
		return "", ErrBindingChanged
	}
	return current.BoundInstallationID, nil
}

// RecordCheckIn stores the caller's self-reported device count and marks the
// license active now. The update only applies while the license is still
// bound to installationID.
func (r *LicenseRepository) RecordCheckIn(ctx context.Context, key, installationID string, deviceCount int, now time.Time) error {
	var affected int64
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		res := r.db.WithContext(ctx).
			Model(&licenseModel{}).
			Where("license_key = ? AND bound_installation_id = ?", key, installationID).
			Updates(map[string]any{
				"current_devices": deviceCount,
				"last_active_at":  now.UTC(),
				"updated_at":      now.UTC(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("record license check-in: %w", err)
	}
	if affected == 0 {
		return ErrBindingChanged
	}
	return nil
}

// Release clears the binding so the next verifying installation can bind
func (r *LicenseRepository) Release(ctx context.Context, key string, now time.Time) error {
	var affected int64
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		res := r.db.WithContext(ctx).
			Model(&licenseModel{}).
			Where("license_key = ?", key).
			Updates(map[string]any{
				"bound_installation_id": gorm.Expr("NULL"),
				"updated_at":            now.UTC(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("release license: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Revoke marks a license revoked regardless of its current status
func (r *LicenseRepository) Revoke(ctx context.Context, key string, now time.Time) error {
	var affected int64
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		res := r.db.WithContext(ctx).
			Model(&licenseModel{}).
			Where("license_key = ?", key).
			Updates(map[string]any{
				"status":     string(domain.LicenseStatusRevoked),
				"revoked_at": now.UTC(),
				"updated_at": now.UTC(),
			})
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("revoke license: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// RevokeDormant revokes every usable license whose last check-in is before
// cutoff and which has not expired by date. All transitions commit together
// or not at all. Licenses that never checked in are not touched.
func (r *LicenseRepository) RevokeDormant(ctx context.Context, cutoff, now time.Time) ([]string, error) {
	var revoked []string
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		revoked = nil
		return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var keys []string
			if err := tx.Model(&licenseModel{}).
				Where("status IN ?", usableStatuses).
				Where("last_active_at IS NOT NULL AND last_active_at < ?", cutoff.UTC()).
				Where("(expires_at IS NULL OR expires_at > ?)", now.UTC()).
				Order("license_key").
				Pluck("license_key", &keys).Error; err != nil {
				return fmt.Errorf("select dormant licenses: %w", err)
			}

			for _, key := range keys {
				res := tx.Model(&licenseModel{}).
					Where("license_key = ? AND status IN ?", key, usableStatuses).
					Updates(map[string]any{
						"status":     string(domain.LicenseStatusRevoked),
						"revoked_at": now.UTC(),
						"updated_at": now.UTC(),
					})
				if res.Error != nil {
					return fmt.Errorf("revoke dormant license %s: %w", infrastructure.MaskLicenseKey(key), res.Error)
				}
				if res.RowsAffected > 0 {
					revoked = append(revoked, key)
				}
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return revoked, nil
}

// List returns licenses ordered by creation, newest first
func (r *LicenseRepository) List(ctx context.Context, status domain.LicenseStatus, limit, offset int) ([]*domain.License, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []licenseModel
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		q := r.db.WithContext(ctx).Model(&licenseModel{})
		if status != "" {
			q = q.Where("status = ?", string(status))
		}
		return q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list licenses: %w", err)
	}

	out := make([]*domain.License, 0, len(rows))
	for _, row := range rows {
		out = append(out, toDomainLicense(row))
	}
	return out, nil
}
