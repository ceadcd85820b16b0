package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pranto48/text-sub000/internal/authority"
	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/internal/store"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// RunReaperOnce performs a single dormant license sweep against the
// configured record store. It is meant for cron-style scheduling where the
// authority runs with its own reaper disabled.
func RunReaperOnce(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*domain.ReapResult, error) {
	db, err := infrastructure.OpenDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	defer func() {
		if err := infrastructure.CloseDatabase(db); err != nil {
			logger.WarnContext(ctx, "failed to close record store", slog.String("error", err.Error()))
		}
	}()

	licenses := store.NewLicenseRepository(db, infrastructure.NewRetryPolicy(cfg.Database), logger)
	if err := licenses.Migrate(ctx); err != nil {
		return nil, err
	}

	reaper := authority.NewReaper(licenses, cfg.Reaper, nil, logger)
	return reaper.Run(ctx)
}
