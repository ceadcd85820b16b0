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

	"github.com/pranto48/text-sub000/internal/config"
	"github.com/pranto48/text-sub000/internal/devices"
	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/internal/license"
	customMiddleware "github.com/pranto48/text-sub000/internal/middleware"
	handlers "github.com/pranto48/text-sub000/internal/transport/http"
	ws "github.com/pranto48/text-sub000/internal/websocket"
)

// Monitor is a monitored instance: the license cache, the device quota gate
// and the UI-facing API guarded by the license gate
type Monitor struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	DB            *gorm.DB
	Settings      *license.Settings
	License       *license.Manager
	Refresher     *license.Refresher
	Devices       *devices.Service
	WebSocketHub  *ws.Hub
	Router        *chi.Mux
	Server        *http.Server
}

// NewMonitor opens the instance stores, loads the persisted license state and
// wires the HTTP surface. No license check is made until Run or the first
// request.
func NewMonitor(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Monitor, error) {
	logger.InfoContext(ctx, "monitor starting",
		slog.String("name", config.AppName),
		slog.String("version", config.AppVersion),
		slog.String("authority_url", cfg.License.AuthorityURL),
		slog.String("local_store", cfg.LocalStore.Backend))

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	m := &Monitor{Config: cfg, Logger: logger, OTelProviders: providers}
	if err := m.initializeServices(ctx); err != nil {
		_ = m.Close(ctx)
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	m.setupRouter()
	m.Server = newServer(cfg.Server, m.Router)
	return m, nil
}

func (m *Monitor) initializeServices(ctx context.Context) error {
	kv, err := license.OpenLocalStore(ctx, m.Config.LocalStore, m.Logger)
	if err != nil {
		return err
	}
	m.Settings = license.NewSettings(kv)

	db, err := infrastructure.OpenDatabase(ctx, m.Config.Database, m.Logger)
	if err != nil {
		return err
	}
	m.DB = db

	repo := devices.NewRepository(db, infrastructure.NewRetryPolicy(m.Config.Database), m.Logger)
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	licenseMetrics, err := license.NewMetrics(m.OTelProviders.Meter)
	if err != nil {
		return err
	}
	deviceMetrics, err := devices.NewMetrics(m.OTelProviders.Meter)
	if err != nil {
		return err
	}
	hubMetrics, err := ws.NewMetrics(m.OTelProviders.Meter)
	if err != nil {
		return err
	}

	client := license.NewClient(m.Config.License, m.Logger)
	m.License = license.NewManager(m.Settings, client, repo, m.Config.License, licenseMetrics, m.Logger)
	if err := m.License.Start(ctx); err != nil {
		return fmt.Errorf("failed to start license manager: %w", err)
	}

	m.WebSocketHub = ws.NewHub(hubMetrics, m.Logger)
	m.License.SetPublisher(m.WebSocketHub)

	m.Devices = devices.NewService(repo, devices.NewGate(m.License), m.License, deviceMetrics, m.Logger)
	m.Refresher = license.NewRefresher(m.License, m.Config.License.RefreshInterval, m.Logger)
	return nil
}

func (m *Monitor) setupRouter() {
	errHandler := apperrors.NewErrorHandler(m.Logger, false)
	root, r := baseRouter(m.OTelProviders, errHandler, m.Logger)

	// The status feed bypasses the logger and timeout middleware that
	// would wrap the hijacked connection.
	root.Handle("/ws/license", ws.NewHandler(m.WebSocketHub, m.Config.WebSocket, m.Logger))

	licenseHandler := handlers.NewLicenseHandler(m.License, errHandler, m.Logger)

	r.Group(func(r chi.Router) {
		r.Use(customMiddleware.NewLicenseGate(m.License, m.Logger).Handler)

		r.Get(config.LicenseExpiredPath, licenseHandler.ExpiredPage)

		r.Route("/api", func(r chi.Router) {
			r.Use(render.SetContentType(render.ContentTypeJSON))
			r.Use(middleware.Timeout(m.Config.Server.RequestTimeout))

			health := handlers.NewHealthHandler("monitor", map[string]handlers.HealthCheck{
				"database":    m.pingDatabase,
				"local_store": m.checkLocalStore,
			}, m.Logger)
			r.Get("/health", health.HealthCheck)

			r.Mount("/license", licenseHandler.Routes())

			deviceHandler := handlers.NewDeviceHandler(m.Devices, errHandler, m.Config.Server.MaxUploadBytes, m.Logger)
			r.Mount("/devices", deviceHandler.Routes())
		})
	})

	m.Router = root
}

func (m *Monitor) pingDatabase(ctx context.Context) error {
	sqlDB, err := m.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (m *Monitor) checkLocalStore(ctx context.Context) error {
	_, err := m.Settings.InstallationID(ctx)
	return err
}

// Run serves until ctx is cancelled, alongside the status hub and the
// background license refresher
func (m *Monitor) Run(ctx context.Context) error {
	err := serve(ctx, m.Server, m.Config.Server, m.Logger,
		m.WebSocketHub.Run,
		m.Refresher.Start,
	)
	m.License.Wait()
	if closeErr := m.Close(context.WithoutCancel(ctx)); closeErr != nil {
		err = errors.Join(err, closeErr)
	}
	return err
}

// Close releases the stores and flushes telemetry
func (m *Monitor) Close(ctx context.Context) error {
	var errs []error
	if m.DB != nil {
		if err := infrastructure.CloseDatabase(m.DB); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
		m.DB = nil
	}
	if m.Settings != nil {
		if err := m.Settings.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close local store: %w", err))
		}
		m.Settings = nil
	}
	if m.OTelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, m.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := m.OTelProviders.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		m.OTelProviders = nil
	}

	m.Logger.InfoContext(ctx, "monitor shutdown complete")
	return errors.Join(errs...)
}
