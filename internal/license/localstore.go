package license

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
)

type settingModel struct {
	Key       string    `gorm:"column:setting_key;primaryKey;size:64"`
	Value     string    `gorm:"column:setting_value;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (settingModel) TableName() string { return "instance_settings" }

// SQLiteStore keeps settings in the instance_settings table
type SQLiteStore struct {
	db     *gorm.DB
	ownsDB bool
}

// NewSQLiteStore uses an already open database. The caller keeps ownership.
func NewSQLiteStore(ctx context.Context, db *gorm.DB) (*SQLiteStore, error) {
	if err := db.WithContext(ctx).AutoMigrate(&settingModel{}); err != nil {
		return nil, fmt.Errorf("migrate instance settings: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) (string, error) {
	var row settingModel
	err := s.db.WithContext(ctx).Where("setting_key = ?", key).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return row.Value, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key, value string) error {
	row := settingModel{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"setting_value", "updated_at"}),
	}).Create(&row).Error
}

func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("setting_key = ?", key).Delete(&settingModel{}).Error
}

func (s *SQLiteStore) Close() error {
	if !s.ownsDB {
		return nil
	}
	return infrastructure.CloseDatabase(s.db)
}

// RedisStore keeps settings as plain keys under a prefix
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps an open client
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrSettingNotFound
		}
		return "", err
	}
	return v, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, s.prefix+key, value, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.prefix+key).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// OpenLocalStore opens the configured settings backend
func OpenLocalStore(ctx context.Context, cfg config.LocalStoreConfig, logger *slog.Logger) (KV, error) {
	switch cfg.Backend {
	case config.LocalStoreRedis:
		client, err := infrastructure.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("open redis local store: %w", err)
		}
		return NewRedisStore(client, cfg.RedisPrefix), nil

	case config.LocalStoreSQLite, "":
		dbCfg := config.Default().Database
		dbCfg.Driver = config.DriverSQLite
		dbCfg.DSN = cfg.SQLitePath
		db, err := infrastructure.OpenDatabase(ctx, dbCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite local store: %w", err)
		}
		store, err := NewSQLiteStore(ctx, db)
		if err != nil {
			_ = infrastructure.CloseDatabase(db)
			return nil, err
		}
		store.ownsDB = true
		return store, nil

	default:
		return nil, fmt.Errorf("unsupported local store backend: %q", cfg.Backend)
	}
}
