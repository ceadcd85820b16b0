package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/pranto48/text-sub000/internal/config"
	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	customMiddleware "github.com/pranto48/text-sub000/internal/middleware"
)

// Worker is a background loop bound to the application lifetime
type Worker func(ctx context.Context) error

// baseRouter applies the middleware shared by both servers in the order
// RequestID → RealIP → trace → OTel → logger → recoverer. /metrics is
// mounted outside the instrumented stack.
func baseRouter(providers *infrastructure.OTelProviders, errHandler *apperrors.ErrorHandler, logger *slog.Logger) (*chi.Mux, chi.Router) {
	root := chi.NewRouter()
	root.Use(middleware.RequestID)
	root.Use(middleware.RealIP)
	root.Use(customMiddleware.RequestTrace)
	root.NotFound(errHandler.NotFound)
	root.MethodNotAllowed(errHandler.MethodNotAllowed)

	if providers != nil && providers.PrometheusHTTP != nil {
		root.Handle("/metrics", providers.PrometheusHTTP)
	}

	var group chi.Router
	root.Group(func(r chi.Router) {
		if providers != nil {
			otelMiddleware, err := customMiddleware.NewOTelMiddleware(providers)
			if err != nil {
				logger.Error("failed to create OpenTelemetry middleware", slog.String("error", err.Error()))
			} else {
				r.Use(otelMiddleware.Handler)
			}
		}
		r.Use(customMiddleware.StructuredLogger(logger))
		r.Use(errHandler.Recoverer)
		group = r
	})
	return root, group
}

func newServer(cfg config.ServerConfig, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// serve runs srv and the workers until ctx is cancelled or one of them
// fails, then shuts the server down within cfg.ShutdownTimeout
func serve(ctx context.Context, srv *http.Server, cfg config.ServerConfig, logger *slog.Logger, workers ...Worker) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.InfoContext(gctx, "http server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	for _, w := range workers {
		w := w
		g.Go(func() error { return w(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
		defer cancel()

		logger.InfoContext(shutdownCtx, "http server shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM
func SignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
