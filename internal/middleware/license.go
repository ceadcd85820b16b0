package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/pranto48/text-sub000/internal/config"
	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
	"github.com/pranto48/text-sub000/pkg/contracts/domain"
)

// Headers set on gated responses so the UI can render the license banner
const (
	HeaderLicenseStatus  = "X-License-Status"
	HeaderLicenseMessage = "X-License-Message"
)

// VerdictSource supplies the instance's cached license verdict. Reads must
// not reach the authority.
type VerdictSource interface {
	Cached() domain.Verdict
}

// LicenseGate enforces the instance license on UI and API routes. Active
// licenses pass untouched, degraded states are annotated with banner
// headers, and a disabled license blocks everything except the excluded
// routes.
type LicenseGate struct {
	source          VerdictSource
	logger          *slog.Logger
	excludePaths    map[string]struct{}
	excludePrefixes []string
	expiredPage     string
}

// NewLicenseGate creates the gate with the default exclusions
func NewLicenseGate(source VerdictSource, logger *slog.Logger) *LicenseGate {
	g := &LicenseGate{
		source:      source,
		logger:      infrastructure.WithComponent(logger, "license_gate"),
		expiredPage: config.LicenseExpiredPath,
		excludePaths: map[string]struct{}{
			config.LicenseExpiredPath: {},
			"/api/health":             {},
			"/metrics":                {},
			"/favicon.ico":            {},
		},
		excludePrefixes: []string{
			"/api/license/",
			"/static/",
			"/ws/",
		},
	}
	return g
}

// AddExcludePrefix exempts every path starting with prefix
func (g *LicenseGate) AddExcludePrefix(prefix string) {
	g.excludePrefixes = append(g.excludePrefixes, prefix)
}

// Handler is the middleware entry point
func (g *LicenseGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if g.excluded(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		v := g.source.Cached()

		switch v.StatusCode {
		case domain.StatusActive:
			next.ServeHTTP(w, r)
		case domain.StatusDisabled:
			g.block(w, r, v)
		default:
			w.Header().Set(HeaderLicenseStatus, string(v.StatusCode))
			w.Header().Set(HeaderLicenseMessage, v.Message)
			next.ServeHTTP(w, r)
		}
	})
}

func (g *LicenseGate) block(w http.ResponseWriter, r *http.Request, v domain.Verdict) {
	ctx := r.Context()
	w.Header().Set(HeaderLicenseStatus, string(v.StatusCode))
	w.Header().Set(HeaderLicenseMessage, v.Message)

	if wantsHTML(r) {
		g.logger.InfoContext(ctx, "license disabled, redirecting",
			slog.String("path", r.URL.Path))
		http.Redirect(w, r, g.expiredPage, http.StatusSeeOther)
		return
	}

	g.logger.WarnContext(ctx, "license disabled, request refused",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))
	problem := apperrors.NewLicenseDisabledProblem(v.Message, r.URL.Path).
		WithExtension("trace_id", middleware.GetReqID(ctx))
	_ = render.Render(w, r, problem)
}

func (g *LicenseGate) excluded(path string) bool {
	if _, ok := g.excludePaths[path]; ok {
		return true
	}
	for _, prefix := range g.excludePrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func wantsHTML(r *http.Request) bool {
	if strings.HasPrefix(r.URL.Path, "/api/") {
		return false
	}
	return r.Method == http.MethodGet && strings.Contains(r.Header.Get("Accept"), "text/html")
}
