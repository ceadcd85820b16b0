package devices

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds device quota metrics
type Metrics struct {
	Created         metric.Int64Counter
	QuotaRejections metric.Int64Counter
}

// NewMetrics creates the device metrics on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	created, err := meter.Int64Counter(
		"devices_created_total",
		metric.WithDescription("Devices created individually or by import"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create devices counter: %w", err)
	}

	rejections, err := meter.Int64Counter(
		"device_quota_rejections_total",
		metric.WithDescription("Device additions refused by the license quota gate"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create quota rejections counter: %w", err)
	}

	return &Metrics{Created: created, QuotaRejections: rejections}, nil
}

func (m *Metrics) recordCreated(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Created.Add(ctx, int64(n))
}

func (m *Metrics) recordRejection(ctx context.Context, statusCode string) {
	if m == nil {
		return
	}
	m.QuotaRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("license_status_code", statusCode)))
}
