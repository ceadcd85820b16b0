package authority

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// DormantStore revokes licenses that stopped checking in
type DormantStore interface {
	RevokeDormant(ctx context.Context, cutoff, now time.Time) ([]string, error)
}

// Reaper revokes licenses whose last check-in is older than the dormancy
// period. A run either revokes the whole batch or nothing.
type Reaper struct {
	store    DormantStore
	dormancy time.Duration
	interval time.Duration
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewReaper creates a reaper from the reaper configuration
func NewReaper(s DormantStore, cfg config.ReaperConfig, metrics *Metrics, logger *slog.Logger) *Reaper {
	dormancy := cfg.DormancyPeriod
	if dormancy <= 0 {
		dormancy = config.DefaultDormancyPeriod
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = config.DefaultReaperInterval
	}
	return &Reaper{
		store:    s,
		dormancy: dormancy,
		interval: interval,
		metrics:  metrics,
		tracer:   otel.Tracer(TracerName),
		logger:   infrastructure.WithComponent(logger, "license_reaper"),
		now:      time.Now,
	}
}

// Run performs one sweep. Overlapping runs are serialized.
func (r *Reaper) Run(ctx context.Context) (*domain.ReapResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	started := r.now().UTC()
	cutoff := started.Add(-r.dormancy)

	ctx, span := r.tracer.Start(ctx, "license.reaper.run",
		trace.WithAttributes(attribute.String("reaper.cutoff", cutoff.Format(time.RFC3339))))
	defer span.End()

	keys, err := r.store.RevokeDormant(ctx, cutoff, started)
	r.metrics.recordReaperRun(ctx, len(keys), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reaper run failed")
		r.logger.ErrorContext(ctx, "dormant license sweep failed, batch rolled back",
			slog.Time("cutoff", cutoff),
			slog.String("error", err.Error()))
		return nil, fmt.Errorf("reap dormant licenses: %w", err)
	}

	elapsed := time.Since(started)
	masked := make([]string, 0, len(keys))
	for _, k := range keys {
		masked = append(masked, infrastructure.MaskLicenseKey(k))
	}
	span.SetAttributes(attribute.Int("reaper.revoked", len(keys)))
	r.logger.InfoContext(ctx, "dormant license sweep completed",
		slog.Int("revoked", len(keys)),
		slog.Any("license_keys", masked),
		slog.Time("cutoff", cutoff),
		slog.Duration("duration", elapsed))

	return &domain.ReapResult{
		Revoked:   len(keys),
		Keys:      keys,
		Cutoff:    cutoff,
		StartedAt: started,
		Duration:  elapsed.String(),
	}, nil
}

// Start runs the reaper every interval until ctx is cancelled. Failed runs
// are logged and retried on the next tick.
func (r *Reaper) Start(ctx context.Context) error {
	r.logger.InfoContext(ctx, "dormant license reaper started",
		slog.Duration("interval", r.interval),
		slog.Duration("dormancy_period", r.dormancy))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(context.WithoutCancel(ctx), "dormant license reaper stopped")
			return nil
		case <-ticker.C:
			_, _ = r.Run(infrastructure.EnsureTraceID(ctx))
		}
	}
}
