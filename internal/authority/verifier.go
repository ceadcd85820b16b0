package authority

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/internal/store"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// Messages returned to the verifying instance
const (
	MsgValid          = "License is valid."
	MsgInvalidRequest = "Missing license key, user id or installation id."
	MsgNotFound       = "License key not found."
	MsgExpired        = "License has expired."
	MsgRevoked        = "License has been revoked."
	MsgInUse          = "License is already in use by another installation."
	MsgServerError    = "License server error. Please try again later."
)

// LicenseStore is the subset of the record store the verifier needs
type LicenseStore interface {
	Get(ctx context.Context, key string) (*domain.License, error)
	MarkExpired(ctx context.Context, key string, now time.Time) (bool, error)
	Bind(ctx context.Context, key, installationID string, now time.Time) (string, error)
	RecordCheckIn(ctx context.Context, key, installationID string, deviceCount int, now time.Time) error
}

// Verifier answers verification requests from instances. It holds no state
// of its own; the store is the only shared resource.
type Verifier struct {
	store    LicenseStore
	validate *validator.Validate
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time
}

// VerifierOption customizes a Verifier
type VerifierOption func(*Verifier)

// WithClock overrides the verifier's time source
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithVerifierMetrics attaches OpenTelemetry instruments
func WithVerifierMetrics(m *Metrics) VerifierOption {
	return func(v *Verifier) { v.metrics = m }
}

// NewVerifier creates a verifier over the given store
func NewVerifier(s LicenseStore, logger *slog.Logger, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		store:    s,
		validate: validator.New(),
		tracer:   otel.Tracer(TracerName),
		logger:   infrastructure.WithComponent(logger, "license_verifier"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify classifies a verification request. Every mutation it performs is
// persisted before it returns; the steps are not wrapped in a transaction.
func (v *Verifier) Verify(ctx context.Context, req domain.VerifyRequest) domain.VerifyResponse {
	start := time.Now()
	ctx, span := v.tracer.Start(ctx, "license.verify",
		trace.WithAttributes(
			attribute.String("license.key", infrastructure.MaskLicenseKey(req.LicenseKey)),
			attribute.String("installation.id", req.InstallationID),
		),
	)
	defer span.End()

	resp := v.verify(ctx, req)

	span.SetAttributes(
		attribute.String("license.actual_status", string(resp.ActualStatus)),
		attribute.Bool("license.success", resp.Success),
	)
	if resp.ActualStatus == domain.ActualStatusError {
		span.SetStatus(codes.Error, resp.Message)
	}
	v.metrics.recordVerification(ctx, resp.ActualStatus, time.Since(start).Seconds())

	v.logger.InfoContext(ctx, "license verification",
		slog.String("license_key", infrastructure.MaskLicenseKey(req.LicenseKey)),
		slog.String("installation_id", req.InstallationID),
		slog.Int("device_count", req.CurrentDeviceCount),
		slog.String("actual_status", string(resp.ActualStatus)),
		slog.Bool("success", resp.Success),
		slog.Duration("duration", time.Since(start)),
	)
	return resp
}

func (v *Verifier) verify(ctx context.Context, req domain.VerifyRequest) domain.VerifyResponse {
	if err := v.validate.Struct(req); err != nil {
		return failure(domain.ActualStatusInvalidRequest, MsgInvalidRequest)
	}

	now := v.now()
	lic, err := v.store.Get(ctx, req.LicenseKey)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return failure(domain.ActualStatusNotFound, MsgNotFound)
		}
		return v.serverError(ctx, "lookup", err)
	}

	switch lic.Status {
	case domain.LicenseStatusActive, domain.LicenseStatusFree:
	case domain.LicenseStatusExpired:
		return failure(domain.ActualStatusExpired, MsgExpired)
	case domain.LicenseStatusRevoked:
		return failure(domain.ActualStatusRevoked, MsgRevoked)
	default:
		v.logger.ErrorContext(ctx, "license has unknown status",
			slog.String("license_key", infrastructure.MaskLicenseKey(lic.Key)),
			slog.String("status", string(lic.Status)))
		return failure(domain.ActualStatusError, MsgServerError)
	}

	if lic.ExpiredAt(now) {
		if _, err := v.store.MarkExpired(ctx, lic.Key, now); err != nil {
			return v.serverError(ctx, "mark expired", err)
		}
		return failure(domain.ActualStatusExpired, MsgExpired)
	}

	switch {
	case !lic.Bound():
		owner, err := v.store.Bind(ctx, lic.Key, req.InstallationID, now)
		if err != nil {
			return v.serverError(ctx, "bind", err)
		}
		if owner != req.InstallationID {
			return failure(domain.ActualStatusInUse, MsgInUse)
		}
		v.metrics.recordBinding(ctx)
	case lic.BoundInstallationID != req.InstallationID:
		return failure(domain.ActualStatusInUse, MsgInUse)
	}

	if err := v.store.RecordCheckIn(ctx, lic.Key, req.InstallationID, req.CurrentDeviceCount, now); err != nil {
		return v.serverError(ctx, "check-in", err)
	}

	maxDevices := lic.MaxDevices
	return domain.VerifyResponse{
		Success:      true,
		Message:      MsgValid,
		ActualStatus: domain.ActualStatus(lic.Status),
		MaxDevices:   &maxDevices,
	}
}

func (v *Verifier) serverError(ctx context.Context, step string, err error) domain.VerifyResponse {
	infrastructure.RecordError(ctx, err)
	v.logger.ErrorContext(ctx, "license verification failed",
		slog.String("step", step),
		slog.String("error", err.Error()))
	return failure(domain.ActualStatusError, MsgServerError)
}

func failure(status domain.ActualStatus, message string) domain.VerifyResponse {
	return domain.VerifyResponse{
		Success:      false,
		Message:      message,
		ActualStatus: status,
	}
}
