package authority

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/internal/store"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

const maxKeyAttempts = 3

// AdminStore is the subset of the record store used by admin operations
type AdminStore interface {
	Create(ctx context.Context, l *domain.License) error
	Get(ctx context.Context, key string) (*domain.License, error)
	Release(ctx context.Context, key string, now time.Time) error
	Revoke(ctx context.Context, key string, now time.Time) error
	List(ctx context.Context, status domain.LicenseStatus, limit, offset int) ([]*domain.License, error)
}

// Admin implements the portal-side license operations
type Admin struct {
	store    AdminStore
	reaper   *Reaper
	validate *validator.Validate
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
	keygen   func() (string, error)
}

// NewAdmin creates the admin service. reaper may be nil when on-demand runs
// are not offered.
func NewAdmin(s AdminStore, reaper *Reaper, metrics *Metrics, logger *slog.Logger) *Admin {
	return &Admin{
		store:    s,
		reaper:   reaper,
		validate: validator.New(),
		metrics:  metrics,
		logger:   infrastructure.WithComponent(logger, "license_admin"),
		now:      time.Now,
		keygen:   GenerateLicenseKey,
	}
}

// Issue creates a new unbound license with a random key
func (a *Admin) Issue(ctx context.Context, req domain.IssueLicenseRequest) (*domain.License, error) {
	if err := a.validate.Struct(req); err != nil {
		return nil, apperrors.FromValidator(err)
	}
	now := a.now().UTC()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, apperrors.InvalidRequestWithError(errors.New("expires_at must be in the future"))
	}

	for attempt := 1; ; attempt++ {
		key, err := a.keygen()
		if err != nil {
			return nil, fmt.Errorf("generate license key: %w", err)
		}

		lic := &domain.License{
			Key:        key,
			OwnerID:    req.OwnerID,
			Status:     req.Status,
			MaxDevices: req.MaxDevices,
			ExpiresAt:  req.ExpiresAt,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		err = a.store.Create(ctx, lic)
		if err == nil {
			a.metrics.recordIssued(ctx, lic.Status)
			a.logger.InfoContext(ctx, "license issued",
				slog.String("license_key", infrastructure.MaskLicenseKey(key)),
				slog.String("owner_id", req.OwnerID),
				slog.String("status", string(req.Status)),
				slog.Int("max_devices", req.MaxDevices))
			return lic, nil
		}
		if !errors.Is(err, store.ErrDuplicateKey) || attempt >= maxKeyAttempts {
			return nil, fmt.Errorf("issue license: %w", err)
		}
		a.logger.WarnContext(ctx, "license key collision, regenerating",
			slog.Int("attempt", attempt))
	}
}

// Get returns the license record for key
func (a *Admin) Get(ctx context.Context, key string) (*domain.License, error) {
	lic, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, mapStoreError(err, key)
	}
	return lic, nil
}

// List returns license records, optionally filtered by status
func (a *Admin) List(ctx context.Context, status domain.LicenseStatus, limit, offset int) ([]*domain.License, error) {
	if status != "" && !status.Valid() {
		return nil, apperrors.InvalidRequestWithError(fmt.Errorf("unknown status %q", status))
	}
	return a.store.List(ctx, status, limit, offset)
}

// Release clears the binding of key so another installation can claim it
func (a *Admin) Release(ctx context.Context, key string) (*domain.License, error) {
	if err := a.store.Release(ctx, key, a.now()); err != nil {
		return nil, mapStoreError(err, key)
	}
	a.logger.InfoContext(ctx, "license released",
		slog.String("license_key", infrastructure.MaskLicenseKey(key)))
	return a.Get(ctx, key)
}

// Revoke marks key revoked
func (a *Admin) Revoke(ctx context.Context, key string) (*domain.License, error) {
	if err := a.store.Revoke(ctx, key, a.now()); err != nil {
		return nil, mapStoreError(err, key)
	}
	a.logger.InfoContext(ctx, "license revoked",
		slog.String("license_key", infrastructure.MaskLicenseKey(key)))
	return a.Get(ctx, key)
}

// RunReaper performs one dormant license sweep on demand
func (a *Admin) RunReaper(ctx context.Context) (*domain.ReapResult, error) {
	if a.reaper == nil {
		return nil, apperrors.ErrServiceUnavailable
	}
	return a.reaper.Run(ctx)
}

func mapStoreError(err error, key string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", apperrors.ErrLicenseNotFound, infrastructure.MaskLicenseKey(key))
	}
	return err
}
