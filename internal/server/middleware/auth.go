package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/audiogate/audiogate/internal/auth"
	"github.com/audiogate/audiogate/internal/model"
	"github.com/audiogate/audiogate/internal/store"
)

type contextKeyAuth string

// AuthPrincipalKey is the context key for the authenticated principal.
const AuthPrincipalKey contextKeyAuth = "auth_principal"

// Principal is the identity resolved for the request, plus which credential
// kind produced it ("session" or "api_key").
type Principal struct {
	UserID int64
	Via    string
}

// SessionCookieName names the cookie consulted by Authenticate. Set once at
// startup from configuration.
var SessionCookieName = "session_id"

// APIKeyHeader is the request header carrying a raw API key.
const APIKeyHeader = "X-API-Key"

// Authenticate returns an HTTP middleware that identifies the caller through
// the credential resolver: session cookie first, API key header second. On
// success a Principal is attached to the request context; otherwise a 401
// JSON error is returned.
func Authenticate(resolver *auth.Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, via, err := resolver.Resolve(r.Context(), RequestCredentials(r))
			if err != nil {
				writeAuthError(w, http.StatusUnauthorized, model.CodeUnauthenticated,
					"Authentication required. Log in or provide "+APIKeyHeader+".")
				return
			}
			ctx := context.WithValue(r.Context(), AuthPrincipalKey, &Principal{UserID: userID, Via: via})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAdmin returns an HTTP middleware that enforces the admin flag. It
// must run after Authenticate.
func RequireAdmin(s *store.Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetPrincipal(r.Context())
			if principal == nil {
				writeAuthError(w, http.StatusUnauthorized, model.CodeUnauthenticated, "Login required")
				return
			}
			user, err := s.GetUser(r.Context(), principal.UserID)
			if err != nil || !user.IsAdmin {
				if err != nil && !errors.Is(err, store.ErrNotFound) {
					writeAuthError(w, http.StatusInternalServerError, model.CodeInternal, "Authorization check failed")
					return
				}
				writeAuthError(w, http.StatusForbidden, model.CodeForbidden, "Admin access required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// GetPrincipal extracts the authenticated principal from the context.
// Returns nil for an unauthenticated request.
func GetPrincipal(ctx context.Context) *Principal {
	if p, ok := ctx.Value(AuthPrincipalKey).(*Principal); ok {
		return p
	}
	return nil
}

// RequestCredentials collects the raw credential material from a request:
// session cookie value and API key header, either possibly empty.
func RequestCredentials(r *http.Request) auth.Credentials {
	creds := auth.Credentials{APIKey: r.Header.Get(APIKeyHeader)}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		creds.SessionID = c.Value
	}
	return creds
}

func writeAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{
		Error: model.ErrorDetail{Code: code, Message: message},
	})
}
