package devices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

type deviceModel struct {
	ID         uint      `gorm:"column:id;primaryKey;autoIncrement"`
	Name       string    `gorm:"column:name;size:255;not null"`
	IPAddress  string    `gorm:"column:ip_address;size:255;not null;index"`
	DeviceType string    `gorm:"column:device_type;size:64"`
	Location   string    `gorm:"column:location;size:255"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (deviceModel) TableName() string { return "devices" }

func (m deviceModel) toDomain() domain.Device {
	return domain.Device{
		ID:         m.ID,
		Name:       m.Name,
		IPAddress:  m.IPAddress,
		DeviceType: m.DeviceType,
		Location:   m.Location,
		CreatedAt:  m.CreatedAt,
	}
}

// Repository persists devices
type Repository struct {
	db     *gorm.DB
	retry  infrastructure.RetryPolicy
	logger *slog.Logger
}

// NewRepository creates a device repository over an open pool
func NewRepository(db *gorm.DB, retry infrastructure.RetryPolicy, logger *slog.Logger) *Repository {
	return &Repository{
		db:     db,
		retry:  retry,
		logger: infrastructure.WithComponent(logger, "device_store"),
	}
}

// Migrate creates or updates the devices table
func (r *Repository) Migrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&deviceModel{}); err != nil {
		return fmt.Errorf("migrate devices: %w", err)
	}
	return nil
}

// Count returns the number of managed devices
func (r *Repository) Count(ctx context.Context) (int, error) {
	var n int64
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Model(&deviceModel{}).Count(&n).Error
	})
	if err != nil {
		return 0, fmt.Errorf("count devices: %w", err)
	}
	return int(n), nil
}

// List returns all devices ordered by id
func (r *Repository) List(ctx context.Context) ([]domain.Device, error) {
	var rows []deviceModel
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Order("id").Find(&rows).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	out := make([]domain.Device, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Create inserts a device in its own statement
func (r *Repository) Create(ctx context.Context, in domain.DeviceInput, now time.Time) (*domain.Device, error) {
	row := deviceModel{
		Name:       in.Name,
		IPAddress:  in.IPAddress,
		DeviceType: in.DeviceType,
		Location:   in.Location,
		CreatedAt:  now.UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("create device: %w", err)
	}
	d := row.toDomain()
	return &d, nil
}

// Delete removes a device
func (r *Repository) Delete(ctx context.Context, id uint) error {
	var affected int64
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		res := r.db.WithContext(ctx).Delete(&deviceModel{}, id)
		affected = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return fmt.Errorf("delete device: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %d", apperrors.ErrDeviceNotFound, id)
	}
	return nil
}

// Get returns one device
func (r *Repository) Get(ctx context.Context, id uint) (*domain.Device, error) {
	var row deviceModel
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.db.WithContext(ctx).Take(&row, id).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", apperrors.ErrDeviceNotFound, id)
		}
		return nil, fmt.Errorf("get device: %w", err)
	}
	d := row.toDomain()
	return &d, nil
}
