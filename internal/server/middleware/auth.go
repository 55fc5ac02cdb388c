package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/lacunahq/lacuna/internal/model"
	"github.com/lacunahq/lacuna/internal/service"
)

type contextKeyAuth string

const (
	// AuthPrincipalKey is the context key for the authenticated principal.
	AuthPrincipalKey contextKeyAuth = "auth_principal"
)

// Principal represents the authenticated identity making the request.
type Principal struct {
	Type         string // "admin" or "api_key"
	AdminID      string
	Email        string
	CredentialID string
	OwnerID      string
	Scopes       model.ScopeSet
	RateLimit    int
	IsAdmin      bool
}

// Authenticate returns an HTTP middleware that validates the request's
// authentication credentials. It supports two methods:
//
//  1. API key via the configured header (for service consumers)
//  2. JWT Bearer token via the Authorization header (for dashboard admins)
//
// On success, a Principal is attached to the request context. Scope
// enforcement is per-route via RequireScope; this middleware only
// authenticates.
func Authenticate(authSvc *service.AuthService, apiKeyHeader string) func(http.Handler) http.Handler {
	if apiKeyHeader == "" {
		apiKeyHeader = "X-API-Key"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var principal *Principal

			// Try API key first
			apiKey := r.Header.Get(apiKeyHeader)
			if apiKey != "" {
				cred, err := authSvc.ValidateAPIKey(r.Context(), apiKey, "")
				if err != nil {
					status, msg := mapAuthError(err)
					writeAuthError(w, status, msg)
					return
				}
				principal = &Principal{
					Type:         "api_key",
					CredentialID: cred.ID,
					OwnerID:      cred.OwnerID,
					Scopes:       cred.Scopes,
					RateLimit:    cred.RateLimit,
				}
			}

			// Try JWT Bearer token
			if principal == nil {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					token := strings.TrimPrefix(authHeader, "Bearer ")
					p, err := authSvc.ValidateJWT(r.Context(), token)
					if err != nil {
						writeAuthError(w, http.StatusUnauthorized, "Invalid token")
						return
					}
					principal = &Principal{
						Type:    "admin",
						AdminID: p.AdminID,
						Email:   p.Email,
						IsAdmin: true,
					}
				}
			}

			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized,
					"Authentication required. Provide "+apiKeyHeader+" header or Bearer token.")
				return
			}

			ctx := context.WithValue(r.Context(), AuthPrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope returns an HTTP middleware that enforces a scope on API-key
// principals. Admin sessions pass unconditionally. It must be used after
// Authenticate in the middleware chain.
func RequireScope(scope model.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, "Authentication required")
				return
			}
			if !principal.IsAdmin && !principal.Scopes.Has(scope) {
				writeAuthError(w, http.StatusForbidden, "Missing required scope: "+string(scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces admin-level access.
// It must be used after Authenticate in the middleware chain.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil || !principal.IsAdmin {
				writeAuthError(w, http.StatusForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil if no principal is present (i.e., unauthenticated request).
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// mapAuthError translates validation failures into HTTP responses. Invalid,
// malformed, and expired keys all read as 401; scope failures are 403; store
// faults are 503 so clients retry instead of treating the key as dead.
func mapAuthError(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrKeyExpired):
		return http.StatusUnauthorized, "API key expired"
	case errors.Is(err, service.ErrInsufficientScope):
		return http.StatusForbidden, "Insufficient scope"
	case errors.Is(err, service.ErrStoreUnavailable):
		return http.StatusServiceUnavailable, "Credential store unavailable"
	default:
		return http.StatusUnauthorized, "Invalid API key"
	}
}

// writeAuthError writes the standard error envelope, keeping middleware
// denials byte-compatible with handler errors.
func writeAuthError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: status, Message: message},
	})
}
