package authority

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

const (
	TracerName = "license-authority"
)

// Metrics holds the authority's OpenTelemetry instruments
type Metrics struct {
	Verifications     metric.Int64Counter
	VerifyDuration    metric.Float64Histogram
	Bindings          metric.Int64Counter
	ReaperRuns        metric.Int64Counter
	ReaperRevocations metric.Int64Counter
	LicensesIssued    metric.Int64Counter
}

// NewMetrics creates the authority metrics on meter
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.Verifications, err = meter.Int64Counter(
		"license_verifications_total",
		metric.WithDescription("License verification requests by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verifications counter: %w", err)
	}

	m.VerifyDuration, err = meter.Float64Histogram(
		"license_verification_duration_seconds",
		metric.WithDescription("License verification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create verification duration histogram: %w", err)
	}

	m.Bindings, err = meter.Int64Counter(
		"license_bindings_total",
		metric.WithDescription("First-use bindings of a license to an installation"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create bindings counter: %w", err)
	}

	m.ReaperRuns, err = meter.Int64Counter(
		"license_reaper_runs_total",
		metric.WithDescription("Dormant license reaper runs by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reaper runs counter: %w", err)
	}

	m.ReaperRevocations, err = meter.Int64Counter(
		"license_reaper_revocations_total",
		metric.WithDescription("Licenses revoked by the dormant license reaper"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create reaper revocations counter: %w", err)
	}

	m.LicensesIssued, err = meter.Int64Counter(
		"licenses_issued_total",
		metric.WithDescription("Licenses issued through the admin API"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create issued counter: %w", err)
	}

	return m, nil
}

func (m *Metrics) recordVerification(ctx context.Context, status domain.ActualStatus, seconds float64) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("actual_status", string(status)))
	m.Verifications.Add(ctx, 1, attrs)
	m.VerifyDuration.Record(ctx, seconds, attrs)
}

func (m *Metrics) recordBinding(ctx context.Context) {
	if m == nil {
		return
	}
	m.Bindings.Add(ctx, 1)
}

func (m *Metrics) recordReaperRun(ctx context.Context, revoked int, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ReaperRuns.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
	if revoked > 0 {
		m.ReaperRevocations.Add(ctx, int64(revoked))
	}
}

func (m *Metrics) recordIssued(ctx context.Context, status domain.LicenseStatus) {
	if m == nil {
		return
	}
	m.LicensesIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}
