package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/shoplens/medallion/internal/auth"
	"github.com/shoplens/medallion/internal/config"
	"github.com/shoplens/medallion/internal/models"
	"go.uber.org/zap"
)

// contextKey is a custom type for context keys.
type contextKey string

const (
	TenantContextKey contextKey = "tenant"
	APIKeyHeaderName            = "X-API-Key"
)

// TenantFromContext returns the authenticated tenant, or nil when the
// request skipped authentication.
func TenantFromContext(ctx context.Context) *models.Tenant {
	tenant, _ := ctx.Value(TenantContextKey).(*models.Tenant)
	return tenant
}

// AuthMiddleware resolves the caller to a tenant. Dashboard clients
// send a Bearer token from login; storefront trackers send the
// tenant's API key.
type AuthMiddleware struct {
	cfg    config.AuthConfig
	auth   *auth.Service
	logger *zap.Logger
}

func NewAuthMiddleware(cfg config.AuthConfig, svc *auth.Service, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{cfg: cfg, auth: svc, logger: logger}
}

func (a *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || a.shouldSkip(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		tenant, err := a.resolveTenant(r)
		if err != nil {
			a.logger.Warn("authentication failed",
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
				zap.Error(err),
			)
			a.unauthorized(w)
			return
		}

		ctx := context.WithValue(r.Context(), TenantContextKey, tenant)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *AuthMiddleware) resolveTenant(r *http.Request) (*models.Tenant, error) {
	if key := r.Header.Get(APIKeyHeaderName); key != "" {
		return a.auth.AuthenticateAPIKey(r.Context(), key)
	}

	header := r.Header.Get("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == header {
		token = ""
	}
	return a.auth.AuthenticateToken(r.Context(), token)
}

func (a *AuthMiddleware) shouldSkip(path string) bool {
	for _, skip := range a.cfg.SkipPaths {
		if strings.HasPrefix(path, skip) {
			return true
		}
	}
	return false
}

func (a *AuthMiddleware) unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"unauthorized"}`))
}
