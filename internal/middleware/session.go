package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/trainfriends/backend/internal/apperr"
	"github.com/trainfriends/backend/internal/auth"
	"github.com/trainfriends/backend/internal/logging"
)

// SessionCookie is the cookie that carries the session token.
const SessionCookie = "session_id"

// SessionResolver maps a token to the user that owns it.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// RequireSession rejects requests without a live session and stores the caller's
// identity on the request context.
func RequireSession(sessions SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := SessionToken(r)
			user, err := sessions.Resolve(r.Context(), token)
			if err != nil {
				if errors.Is(err, apperr.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, "unauthorized")
					return
				}
				logging.FromContext(r.Context()).Error().Err(err).Msg("resolve session")
				writeError(w, http.StatusInternalServerError, "internal error")
				return
			}

			logging.FromContext(r.Context()).UpdateContext(func(c zerolog.Context) zerolog.Context {
				return c.Str("user", user)
			})
			ctx := auth.WithIdentity(r.Context(), auth.Identity{User: user, Token: token})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionToken reads the token from the session cookie or a bearer Authorization header.
func SessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(SessionCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
