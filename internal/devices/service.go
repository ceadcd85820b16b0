package devices

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

const TracerName = "device-service"

// Store is the device persistence the service needs
type Store interface {
	Count(ctx context.Context) (int, error)
	List(ctx context.Context) ([]domain.Device, error)
	Get(ctx context.Context, id uint) (*domain.Device, error)
	Create(ctx context.Context, in domain.DeviceInput, now time.Time) (*domain.Device, error)
	Delete(ctx context.Context, id uint) error
}

// Rechecker schedules a background license recheck
type Rechecker interface {
	TriggerRecheck()
}

// Service manages devices behind the license quota gate. Mutations are
// serialized so the count seen by the gate is the count the insert lands on.
type Service struct {
	store    Store
	gate     *Gate
	recheck  Rechecker
	validate *validator.Validate
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
	now      func() time.Time

	mu sync.Mutex
}

// NewService wires the device service
func NewService(store Store, gate *Gate, recheck Rechecker, metrics *Metrics, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		gate:     gate,
		recheck:  recheck,
		validate: validator.New(),
		metrics:  metrics,
		tracer:   otel.Tracer(TracerName),
		logger:   infrastructure.WithComponent(logger, "device_service"),
		now:      time.Now,
	}
}

// Count implements license.DeviceCounter
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

// List returns all devices
func (s *Service) List(ctx context.Context) ([]domain.Device, error) {
	return s.store.List(ctx)
}

// Get returns one device
func (s *Service) Get(ctx context.Context, id uint) (*domain.Device, error) {
	return s.store.Get(ctx, id)
}

// Create adds one device if the license allows it
func (s *Service) Create(ctx context.Context, in domain.DeviceInput) (*domain.Device, error) {
	ctx, span := s.tracer.Start(ctx, "devices.create")
	defer span.End()

	if err := s.validate.Struct(in); err != nil {
		return nil, apperrors.FromValidator(err)
	}

	s.mu.Lock()
	d, err := s.createLocked(ctx, in)
	s.mu.Unlock()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.logger.InfoContext(ctx, "device created",
		slog.Uint64("device_id", uint64(d.ID)),
		slog.String("ip_address", d.IPAddress))
	s.recheck.TriggerRecheck()
	return d, nil
}

func (s *Service) createLocked(ctx context.Context, in domain.DeviceInput) (*domain.Device, error) {
	count, err := s.store.Count(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.gate.Allow(ctx, count); err != nil {
		s.refused(ctx, err, count)
		return nil, err
	}
	d, err := s.store.Create(ctx, in, s.now())
	if err != nil {
		return nil, err
	}
	s.metrics.recordCreated(ctx, 1)
	return d, nil
}

// Delete removes a device. Deletion is never gated.
func (s *Service) Delete(ctx context.Context, id uint) error {
	s.mu.Lock()
	err := s.store.Delete(ctx, id)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "device deleted", slog.Uint64("device_id", uint64(id)))
	s.recheck.TriggerRecheck()
	return nil
}

// Import inserts the rows of an uploaded file one at a time. The gate is
// asked before every row; the first refusal stops the import and rows
// already inserted are kept. Rows failing validation are skipped.
func (s *Service) Import(ctx context.Context, filename string, r io.Reader) (*domain.ImportResult, error) {
	ctx, span := s.tracer.Start(ctx, "devices.import",
		trace.WithAttributes(attribute.String("import.filename", filename)))
	defer span.End()

	rows, err := ParseImport(filename, r)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("import.rows", len(rows)))

	s.mu.Lock()
	result, err := s.importLocked(ctx, rows)
	s.mu.Unlock()

	if result.Imported > 0 {
		s.metrics.recordCreated(ctx, result.Imported)
		s.recheck.TriggerRecheck()
	}
	s.logger.InfoContext(ctx, "device import finished",
		slog.String("filename", filename),
		slog.Int("rows", len(rows)),
		slog.Int("imported", result.Imported),
		slog.Int("rejected", result.Rejected),
		slog.Int("invalid", result.Invalid),
		slog.Bool("stopped", result.Stopped))
	if err != nil {
		span.RecordError(err)
		return result, err
	}
	return result, nil
}

func (s *Service) importLocked(ctx context.Context, rows []ImportRow) (*domain.ImportResult, error) {
	result := &domain.ImportResult{}

	count, err := s.store.Count(ctx)
	if err != nil {
		return result, err
	}

	for i, row := range rows {
		if err := s.validate.Struct(row.Input); err != nil {
			result.Invalid++
			s.logger.DebugContext(ctx, "skipping invalid import row",
				slog.Int("line", row.Line),
				slog.String("error", err.Error()))
			continue
		}

		if err := s.gate.Allow(ctx, count); err != nil {
			s.refused(ctx, err, count)
			result.Stopped = true
			s.tallyUnimported(result, rows[i:])
			var qe *apperrors.QuotaError
			if errors.As(err, &qe) {
				result.Message = qe.Message
			}
			return result, nil
		}

		if _, err := s.store.Create(ctx, row.Input, s.now()); err != nil {
			result.Stopped = true
			s.tallyUnimported(result, rows[i:])
			return result, fmt.Errorf("import line %d: %w", row.Line, err)
		}
		result.Imported++
		count++
	}
	return result, nil
}

// tallyUnimported classifies the rows left when an import stops, so every
// row ends up counted exactly once as imported, rejected or invalid
func (s *Service) tallyUnimported(result *domain.ImportResult, rest []ImportRow) {
	for _, row := range rest {
		if s.validate.Struct(row.Input) != nil {
			result.Invalid++
			continue
		}
		result.Rejected++
	}
}

func (s *Service) refused(ctx context.Context, err error, count int) {
	var qe *apperrors.QuotaError
	if !errors.As(err, &qe) {
		return
	}
	s.metrics.recordRejection(ctx, qe.StatusCode)
	s.logger.WarnContext(ctx, "device quota gate refused",
		slog.String("license_status_code", qe.StatusCode),
		slog.Int("max_devices", qe.MaxDevices),
		slog.Int("device_count", count))
}
