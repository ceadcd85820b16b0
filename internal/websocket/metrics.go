package websocket

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the status feed instruments
type Metrics struct {
	Clients    metric.Int64UpDownCounter
	Broadcasts metric.Int64Counter
	Deliveries metric.Int64Counter
}

// NewMetrics creates the websocket metrics on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	clients, err := meter.Int64UpDownCounter(
		"websocket_clients",
		metric.WithDescription("Connected license status feed clients"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket clients counter: %w", err)
	}

	broadcasts, err := meter.Int64Counter(
		"websocket_broadcasts_total",
		metric.WithDescription("License status broadcasts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket broadcasts counter: %w", err)
	}

	deliveries, err := meter.Int64Counter(
		"websocket_deliveries_total",
		metric.WithDescription("Messages queued to individual clients by broadcasts"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create websocket deliveries counter: %w", err)
	}

	return &Metrics{Clients: clients, Broadcasts: broadcasts, Deliveries: deliveries}, nil
}

func (m *Metrics) recordConnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.Clients.Add(ctx, 1)
}

func (m *Metrics) recordDisconnect(ctx context.Context) {
	if m == nil {
		return
	}
	m.Clients.Add(ctx, -1)
}

func (m *Metrics) recordBroadcast(ctx context.Context, recipients int) {
	if m == nil {
		return
	}
	m.Broadcasts.Add(ctx, 1)
	m.Deliveries.Add(ctx, int64(recipients))
}
