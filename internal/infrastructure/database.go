package infrastructure

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/pranto48/text-sub000/internal/config"
)

// OpenDatabase opens and validates a GORM connection pool for the configured
// driver. SQLite pools are pinned to one connection because the engine
// serializes writers anyway.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*gorm.DB, error) {
	logger = WithComponent(logger, "database")
	logger.InfoContext(ctx, "database connect started",
		slog.String("driver", cfg.Driver))

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite:
		if err := ensureSQLiteDir(cfg.DSN); err != nil {
			return nil, err
		}
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver: %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		PrepareStmt:    cfg.Driver == config.DriverPostgres,
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", cfg.Driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("gorm sql db: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		if cfg.MaxConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.MaxConns)
			sqlDB.SetMaxIdleConns(cfg.MaxConns / 2)
		}
		sqlDB.SetConnMaxIdleTime(15 * time.Minute)
		sqlDB.SetConnMaxLifetime(time.Hour)
	}

	err = NewRetryPolicy(cfg).Do(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return sqlDB.PingContext(pingCtx)
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping %s: %w", cfg.Driver, err)
	}

	logger.InfoContext(ctx, "database connect completed",
		slog.String("driver", cfg.Driver))
	return db, nil
}

// CloseDatabase closes the pool behind db
func CloseDatabase(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ensureSQLiteDir creates the parent directory of a file-backed SQLite DSN
func ensureSQLiteDir(dsn string) error {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" || strings.Contains(dsn, "mode=memory") {
		return nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create sqlite directory %s: %w", dir, err)
		}
	}
	return nil
}
