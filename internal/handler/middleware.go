package handler

import (
	"net/http"
	"strings"

	"github.com/boddenberg/atas-admin-go/internal/domain"
	"github.com/boddenberg/atas-admin-go/internal/infra/observability"
	"github.com/boddenberg/atas-admin-go/internal/service"

	"go.uber.org/zap"
)

// JWTAuthMiddleware validates Bearer tokens and puts the caller's session in
// the request context. Backend calls made with that context run under the
// caller's token, so row level security applies.
func JWTAuthMiddleware(authSvc *service.AuthService, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Warn("auth: missing token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "Token de autenticação não fornecido")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				logger.Warn("auth: invalid token format",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "Formato de token inválido")
				return
			}

			sess, err := authSvc.Session(strings.TrimSpace(parts[1]))
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			observability.SetCaller(r.Context(), sess.AuthUserID)
			next.ServeHTTP(w, r.WithContext(domain.WithSession(r.Context(), sess)))
		})
	}
}

// RequireRole answers 403 unless the caller's profile holds one of roles.
// It must run after JWTAuthMiddleware.
func RequireRole(authSvc *service.AuthService, logger *zap.Logger, roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, err := authSvc.Me(r.Context())
			if err != nil {
				handleServiceError(w, err, logger)
				return
			}
			for _, role := range roles {
				if u.HasRole(role) {
					next.ServeHTTP(w, r)
					return
				}
			}
			handleServiceError(w, &domain.ErrForbidden{Action: r.Method + " " + r.URL.Path}, logger)
		})
	}
}
