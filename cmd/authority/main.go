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
	defer infrastructure.CloseLogFile()

	ctx, stop := app.SignalContext()
	defer stop()

	authority, err := app.NewAuthority(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize authority", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := authority.Run(ctx); err != nil {
		logger.Error("Authority error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
