// Command reaper performs one dormant license sweep and exits
package main

import (
	"log/slog"
	"os"

	"github.com/pranto48/text-sub000/internal/app"
	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/infrastructure"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		slog.Error("Failed to initialize logger", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, stop := app.SignalContext()
	result, err := app.RunReaperOnce(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("Reaper run failed", slog.String("error", err.Error()))
		_ = infrastructure.CloseLogFile()
		os.Exit(1)
	}

	logger.Info("Reaper run finished",
		slog.Int("revoked", result.Revoked),
		slog.Time("cutoff", result.Cutoff),
		slog.String("duration", result.Duration))
	_ = infrastructure.CloseLogFile()
}
