package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"gorm.io/gorm"

	"github.com/pranto48/text-sub000/internal/authority"
	"github.com/pranto48/text-sub000/internal/config"
	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	customMiddleware "github.com/pranto48/text-sub000/internal/middleware"
	"github.com/pranto48/text-sub000/internal/store"
	handlers "github.com/pranto48/text-sub000/internal/transport/http"
)

// Authority is the license authority server: the record store, the public
// verification endpoint, the admin API and the dormant license reaper
type Authority struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	DB            *gorm.DB
	Licenses      *store.LicenseRepository
	Verifier      *authority.Verifier
	Admin         *authority.Admin
	Reaper        *authority.Reaper
	Router        *chi.Mux
	Server        *http.Server
}

// NewAuthority opens the record store and wires the authority services
func NewAuthority(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Authority, error) {
	logger.InfoContext(ctx, "authority starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("database_driver", cfg.Database.Driver))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a := &Authority{Config: cfg, Logger: logger, OTelProviders: providers}
	if err := a.initializeServices(ctx); err != nil {
		_ = a.Close(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	a.setupRouter()
	a.Server = newServer(cfg.Server, a.Router)
	return a, nil
}

func (a *Authority) initializeServices(ctx context.Context) error {
	db, err := infrastructure.OpenDatabase(ctx, a.Config.Database, a.Logger)
	if err != nil {
		return err
	}
	a.DB = db

	a.Licenses = store.NewLicenseRepository(db, infrastructure.NewRetryPolicy(a.Config.Database), a.Logger)
	if err := a.Licenses.Migrate(ctx); err != nil {
		return err
	}

	metrics, err := authority.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	a.Verifier = authority.NewVerifier(a.Licenses, a.Logger, authority.WithVerifierMetrics(metrics))
	a.Reaper = authority.NewReaper(a.Licenses, a.Config.Reaper, metrics, a.Logger)
	a.Admin = authority.NewAdmin(a.Licenses, a.Reaper, metrics, a.Logger)
	return nil
}

func (a *Authority) setupRouter() {
	errHandler := apperrors.NewErrorHandler(a.Logger, false)
	root, r := baseRouter(a.OTelProviders, errHandler, a.Logger)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Use(middleware.Timeout(a.Config.Server.RequestTimeout))

		health := handlers.NewHealthHandler("authority", map[string]handlers.HealthCheck{
			"database": a.pingDatabase,
		}, a.Logger)
		r.Get("/health", health.HealthCheck)

		r.Route("/v1", func(r chi.Router) {
			verify := handlers.NewVerifyHandler(a.Verifier, errHandler, a.Logger)
			r.Group(func(r chi.Router) {
				if a.Config.Security.RateLimit.Enabled {
					r.Use(customMiddleware.NewRateLimiter(
						a.Config.Security.RateLimit.RPS,
						a.Config.Security.RateLimit.Burst,
						a.Logger,
					).Handler)
				}
				r.Post("/license/verify", verify.Verify)
			})

			admin := handlers.NewAdminHandler(a.Admin, errHandler, a.Logger)
			r.With(customMiddleware.AdminAuth(a.Config.Security.AdminTokenHash, a.Logger)).
				Mount("/admin", admin.Routes())
		})
	})

	a.Router = root
}

func (a *Authority) pingDatabase(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Run serves until ctx is cancelled. The reaper runs alongside the server
// when enabled.
func (a *Authority) Run(ctx context.Context) error {
	var workers []Worker
	if a.Config.Reaper.Enabled {
		workers = append(workers, a.Reaper.Start)
	} else {
		a.Logger.InfoContext(ctx, "dormant license reaper disabled")
	}

	err := serve(ctx, a.Server, a.Config.Server, a.Logger, workers...)
	if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

// Close releases the database pool and flushes telemetry
func (a *Authority) Close(ctx context.Context) error {
	var errs []error
	if a.DB != nil {
		if err := infrastructure.CloseDatabase(a.DB); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		a.DB = nil
	}
	if a.OTelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		a.OTelProviders = nil
	}

	a.Logger.InfoContext(ctx, "authority shutdown complete")
	return errors.Join(errs...)
}
