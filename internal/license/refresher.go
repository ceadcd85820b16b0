package license

import (
	"context"
	"log/slog"
	"time"

	"github.com/pranto48/text-sub000/internal/infrastructure"
)

// Refresher keeps the verdict fresh in the background so request paths
// never wait on the authority
type Refresher struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewRefresher creates a refresher ticking every interval
func NewRefresher(manager *Manager, interval time.Duration, logger *slog.Logger) *Refresher {
	if interval <= 0 {
		interval = manager.cfg.RefreshInterval
	}
	return &Refresher{
		manager:  manager,
		interval: interval,
		logger:   infrastructure.WithComponent(logger, "license_refresher"),
	}
}

// Start checks once immediately, then live on every tick until ctx is done.
// Ticks never consult the verdict's age: a tick landing just inside the
// freshness window would otherwise skip and halve the refresh rate.
func (r *Refresher) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "license refresher started", slog.Duration("interval", r.interval))
	r.manager.Refresh(infrastructure.EnsureTraceID(ctx))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(context.WithoutCancel(ctx), "license refresher stopped")
			return nil
		case <-ticker.C:
			r.manager.Refresh(infrastructure.EnsureTraceID(ctx))
		}
	}
}
