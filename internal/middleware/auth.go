package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/tikiti/tikiti/internal/auth"
	"github.com/tikiti/tikiti/internal/model"
)

// SessionCookie is the cookie browsers carry the session token in.
const SessionCookie = "tikiti_session"

// Authenticator resolves a session token to its principal. Unknown or
// expired tokens fail with auth.ErrUnauthenticated.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.AuthContext, error)
}

// AuthConfig holds configuration for the auth middleware.
type AuthConfig struct {
	Logger        *slog.Logger
	Authenticator Authenticator
}

// RequireAuth rejects requests without a valid session with 401.
func RequireAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	return authenticate(cfg, true)
}

// OptionalAuth attaches the session when one is presented and lets anonymous
// requests through.
func OptionalAuth(cfg AuthConfig) func(http.Handler) http.Handler {
	return authenticate(cfg, false)
}

func authenticate(cfg AuthConfig, required bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			if token == "" {
				if required {
					writeAuthError(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			principal, err := cfg.Authenticator.Authenticate(r.Context(), token)
			if err != nil {
				prefix, _ := auth.ParseSessionToken(token)
				if !errors.Is(err, auth.ErrUnauthenticated) {
					cfg.Logger.Error("session lookup failed",
						slog.String("error", err.Error()),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				} else {
					cfg.Logger.Warn("authentication failed",
						slog.String("token_prefix", prefix),
						slog.String("endpoint", r.Method+" "+r.URL.Path),
						slog.String("request_id", GetRequestID(r.Context())),
					)
				}
				if required {
					writeAuthError(w)
					return
				}
				next.ServeHTTP(w, r)
				return
			}

			annotateUser(r.Context(), principal.UserID)
			ctx := auth.ContextWithAuth(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionToken extracts the session token from "Authorization: Bearer" or
// the session cookie.
func SessionToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	if c, err := r.Cookie(SessionCookie); err == nil {
		return c.Value
	}
	return ""
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all auth failures to prevent enumeration.
func writeAuthError(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"success":false,"message":"Not authenticated","code":"UNAUTHORIZED"}`))
}
