package middleware

import (
	"context"

	"github.com/taskpilot/taskpilot/auth"
)

// Context key type to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"

	// PrincipalKey is the context key for the authenticated caller
	PrincipalKey contextKey = "principal"
)

// GetRequestIDFromContext retrieves the request ID from context
func GetRequestIDFromContext(ctx context.Context) string {
	if val := ctx.Value(RequestIDKey); val != nil {
		if requestID, ok := val.(string); ok {
			return requestID
		}
	}
	return ""
}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// GetPrincipalFromContext retrieves the authenticated caller from context.
// Returns nil when the request was not authenticated, which is the case for
// public endpoints and when authentication is disabled.
func GetPrincipalFromContext(ctx context.Context) *auth.Principal {
	if val := ctx.Value(PrincipalKey); val != nil {
		if principal, ok := val.(*auth.Principal); ok {
			return principal
		}
	}
	return nil
}

// WithPrincipal adds the authenticated caller to the context
func WithPrincipal(ctx context.Context, principal *auth.Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, principal)
}
