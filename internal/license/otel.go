package license

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

const (
	TracerName = "license-manager"
)

// Metrics holds the instance license metrics
type Metrics struct {
	Checks        metric.Int64Counter
	CheckDuration metric.Float64Histogram
	CacheHits     metric.Int64Counter
	CacheMisses   metric.Int64Counter
	Transitions   metric.Int64Counter
}

// NewMetrics creates the license metrics on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Checks, err = meter.Int64Counter(
		"license_checks_total",
		metric.WithDescription("Live license checks by resulting status code"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create checks counter: %w", err)
	}

	m.CheckDuration, err = meter.Float64Histogram(
		"license_check_duration_seconds",
		metric.WithDescription("Duration of live license checks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create check duration histogram: %w", err)
	}

	m.CacheHits, err = meter.Int64Counter(
		"license_cache_hits_total",
		metric.WithDescription("Verdict reads served from the cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	m.CacheMisses, err = meter.Int64Counter(
		"license_cache_misses_total",
		metric.WithDescription("Verdict reads that required a live check"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	m.Transitions, err = meter.Int64Counter(
		"license_status_transitions_total",
		metric.WithDescription("License status code changes"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transitions counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordCheck(ctx context.Context, code domain.StatusCode, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status_code", string(code)))
	m.Checks.Add(ctx, 1, attrs)
	m.CheckDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) recordCache(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Add(ctx, 1)
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

func (m *Metrics) recordTransition(ctx context.Context, from, to domain.StatusCode) {
	if m == nil {
		return
	}
	m.Transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}
