package http

import (
	"context"
	"io"

	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// Verifier answers authority verification requests
type Verifier interface {
	Verify(ctx context.Context, req domain.VerifyRequest) domain.VerifyResponse
}

// LicenseAdmin is the authority's administrative license surface
type LicenseAdmin interface {
	Issue(ctx context.Context, req domain.IssueLicenseRequest) (*domain.License, error)
	Get(ctx context.Context, key string) (*domain.License, error)
	List(ctx context.Context, status domain.LicenseStatus, limit, offset int) ([]*domain.License, error)
	Release(ctx context.Context, key string) (*domain.License, error)
	Revoke(ctx context.Context, key string) (*domain.License, error)
	RunReaper(ctx context.Context) (*domain.ReapResult, error)
}

// LicenseService is the instance-side license cache as seen by the UI
type LicenseService interface {
	Status(ctx context.Context) (domain.LicenseStatusView, error)
	ForceRecheck(ctx context.Context) domain.Verdict
	UpdateKey(ctx context.Context, key string) (domain.LicenseStatusView, error)
	Cached() domain.Verdict
}

// DeviceService manages devices behind the quota gate
type DeviceService interface {
	List(ctx context.Context) ([]domain.Device, error)
	Get(ctx context.Context, id uint) (*domain.Device, error)
	Create(ctx context.Context, in domain.DeviceInput) (*domain.Device, error)
	Delete(ctx context.Context, id uint) error
	Import(ctx context.Context, filename string, r io.Reader) (*domain.ImportResult, error)
}
