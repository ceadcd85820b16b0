package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/pranto48/text-sub000/internal/errors"
	"github.com/pranto48/text-sub000/internal/infrastructure"
)

// AdminAuth accepts requests carrying "Authorization: Bearer <token>" whose
// token matches tokenHash (bcrypt). An empty hash disables every route
// behind it.
func AdminAuth(tokenHash string, logger *slog.Logger) func(next http.Handler) http.Handler {
	logger = infrastructure.WithComponent(logger, "admin_auth")
	hash := []byte(tokenHash)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			if len(hash) == 0 {
				handler := apperrors.NewErrorHandler(logger, false)
				handler.HandleError(w, r, apperrors.ErrAdminDisabled)
				return
			}

			token, ok := bearerToken(r)
			if !ok {
				logger.WarnContext(ctx, "missing or malformed authorization header",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
				unauthorized(w, r, "Missing authorization header. Use: Bearer <token>")
				return
			}

			if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
				logger.WarnContext(ctx, "admin authentication failed",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr))
				unauthorized(w, r, "Invalid admin token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="licensehub-admin"`)
	problem := apperrors.NewProblemDetails(
		http.StatusUnauthorized,
		apperrors.TypeUnauthorized,
		"Unauthorized",
		detail,
		r.URL.Path,
	).WithExtension("trace_id", middleware.GetReqID(r.Context()))
	_ = render.Render(w, r, problem)
}
