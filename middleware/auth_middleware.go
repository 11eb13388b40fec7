package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/taskpilot/taskpilot/auth"
	"github.com/taskpilot/taskpilot/utils"
)

// TokenValidator defines the interface for validating bearer credentials
type TokenValidator interface {
	// ValidateToken validates a credential and returns the caller principal
	ValidateToken(ctx context.Context, token string) (*auth.Principal, error)
}

// APIKeyHeader carries the static API token as an alternative to the
// Authorization header
const APIKeyHeader = "X-API-Key"

// AuthMiddleware provides authentication middleware functionality
type AuthMiddleware struct {
	validator TokenValidator
	enabled   bool
	logger    *zap.Logger
}

// NewAuthMiddleware creates a new AuthMiddleware. When enabled is false every
// request passes through unauthenticated, which is the local development
// default.
func NewAuthMiddleware(validator TokenValidator, enabled bool, logger *zap.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		validator: validator,
		enabled:   enabled,
		logger:    logger,
	}
}

// RequireAuth is a middleware that requires a valid bearer credential
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		requestID := GetRequestIDFromContext(ctx)

		// Extract credential from Authorization header ("Bearer TOKEN") or
		// the X-API-Key header
		token := extractToken(r)
		if token == "" {
			m.logger.Warn("missing credential",
				zap.String("request_id", requestID),
				zap.String("path", r.URL.Path))
			_ = utils.WriteUnauthorized(w, "Missing or invalid authorization")
			return
		}

		principal, err := m.validator.ValidateToken(ctx, token)
		if err != nil {
			m.logger.Warn("credential validation failed",
				zap.String("request_id", requestID),
				zap.Error(err))
			_ = utils.WriteUnauthorized(w, "Invalid or expired token")
			return
		}

		ctx = WithPrincipal(ctx, principal)

		m.logger.Debug("authentication successful",
			zap.String("request_id", requestID),
			zap.String("subject", principal.Subject),
			zap.String("auth_method", principal.Method))

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// extractToken extracts the credential from the Authorization header or the
// X-API-Key header. The Authorization header takes precedence when both are
// present.
func extractToken(r *http.Request) string {
	if token := extractBearerToken(r); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get(APIKeyHeader))
}

// extractBearerToken extracts the Bearer token from the Authorization header
func extractBearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}

	// Check if it starts with "Bearer "
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
