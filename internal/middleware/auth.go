// Package middleware provides HTTP middleware for the paywall API
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/nightstudio/paywall/internal/errors"
	internalhttputil "github.com/nightstudio/paywall/internal/httputil"
	"github.com/nightstudio/paywall/internal/logging"
)

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// AuthMiddleware attaches the caller's identity to the request context.
// Requests without credentials continue anonymously; requests with bad
// credentials are rejected.
type AuthMiddleware struct {
	validator TokenValidator
	logger    *logging.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(validator TokenValidator, logger *logging.Logger, skipPaths []string) *AuthMiddleware {
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		validator: validator,
		logger:    logger,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		tokenString, ok := bearerToken(r)
		if !ok {
			m.respondError(w, r, errors.Unauthorized("Invalid Authorization header format"))
			return
		}
		if tokenString == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := m.validator.ValidateToken(tokenString)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}

		ctx := logging.WithUserID(r.Context(), userID)
		m.logger.WithContext(ctx).Debug("Authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// bearerToken returns the token and whether the header was well formed.
// Browsers cannot set headers on websocket upgrades, so the feed may pass
// the token as ?access_token=.
func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		if websocketUpgrade(r) {
			return r.URL.Query().Get("access_token"), true
		}
		return "", true
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}

func websocketUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.InvalidToken(err)
	}

	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	})
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// RequireUserID middleware ensures user ID is present in context
func RequireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetUserID(r.Context()) == "" {
			internalhttputil.WriteError(w, r, errors.IdentityRequired())
			return
		}
		next.ServeHTTP(w, r)
	})
}
