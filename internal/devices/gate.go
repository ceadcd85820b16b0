package devices

import (
	"context"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// VerdictSource supplies the instance's cached license verdict
type VerdictSource interface {
	Cached() domain.Verdict
}

// Gate decides whether one more device may be added
type Gate struct {
	verdicts VerdictSource
}

// NewGate creates a quota gate backed by the license cache
func NewGate(verdicts VerdictSource) *Gate {
	return &Gate{verdicts: verdicts}
}

// Allow returns nil when a device can be added on top of deviceCount, or a
// *QuotaError carrying the cached license message verbatim. It never waits
// on the authority.
func (g *Gate) Allow(_ context.Context, deviceCount int) error {
	v := g.verdicts.Cached()
	if v.CanAddDevice(deviceCount) {
		return nil
	}
	return &apperrors.QuotaError{
		Message:     v.Message,
		StatusCode:  string(v.StatusCode),
		MaxDevices:  v.MaxDevices,
		DeviceCount: deviceCount,
	}
}
