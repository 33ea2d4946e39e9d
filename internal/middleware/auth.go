package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/aiserve/modelrouter/internal/auth"
)

type contextKey string

const (
	apiKeyContextKey contextKey = "api_key_info"
	RequestIDKey     contextKey = "request_id"
)

type AuthMiddleware struct {
	authService *auth.Service
	jwtSecret   string
}

func NewAuthMiddleware(authService *auth.Service, jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{
		authService: authService,
		jwtSecret:   jwtSecret,
	}
}

// RequireAuth accepts either an X-API-Key (the request path every generate/
// stream/load call uses) or a Bearer JWT (the operator/admin path, with
// tokens issued by the login endpoint).
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey != "" {
			info, err := m.authService.ValidateAPIKey(r.Context(), apiKey)
			if err != nil {
				respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid API key"})
				return
			}
			ctx := context.WithValue(r.Context(), apiKeyContextKey, info)
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing authorization"})
			return
		}

		bearerToken := strings.TrimPrefix(authHeader, "Bearer ")
		if bearerToken == authHeader {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid authorization format"})
			return
		}

		if _, err := auth.ValidateToken(bearerToken, m.jwtSecret); err != nil {
			respondJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		bearerToken := strings.TrimPrefix(authHeader, "Bearer ")
		if bearerToken == "" || bearerToken == authHeader {
			respondJSON(w, http.StatusForbidden, map[string]string{"error": "admin access required"})
			return
		}
		claims, err := auth.ValidateToken(bearerToken, m.jwtSecret)
		if err != nil || !claims.IsAdmin {
			respondJSON(w, http.StatusForbidden, map[string]string{"error": "admin access required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetAPIKeyInfo returns the API key the current request authenticated with,
// or nil for a JWT-authenticated (admin) request.
func GetAPIKeyInfo(ctx context.Context) *auth.APIKeyInfo {
	info, _ := ctx.Value(apiKeyContextKey).(*auth.APIKeyInfo)
	return info
}

// GetAPIKeyID returns the authenticated key's ID, or "" if the request has
// none (used by the rate limiter to key its window).
func GetAPIKeyID(ctx context.Context) string {
	if info := GetAPIKeyInfo(ctx); info != nil {
		return info.ID.String()
	}
	return ""
}

func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(RequestIDKey).(string)
	return id
}
