package handlers

import (
	"errors"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trainfriends/backend/internal/apperr"
	"github.com/trainfriends/backend/internal/auth"
	"github.com/trainfriends/backend/internal/logging"
	"github.com/trainfriends/backend/internal/middleware"
	"github.com/trainfriends/backend/internal/models"
)

// AuthHandler implements account and session endpoints.
type AuthHandler struct {
	Users        UserStore
	Sessions     SessionManager
	Events       EventBroker
	CookieSecure bool
	NowFunc      func() time.Time
}

// SignUp handles POST /signup requests.
func (h AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req credentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.Error().Err(err).Msg("signup failed to hash password")
		respondJSON(ctx, w, http.StatusInternalServerError, errorResponse{Error: "failed to secure password"})
		return
	}

	user := models.User{Username: req.Username, PasswordHash: string(hashed), CreatedAt: h.now()}
	if err := h.Users.Create(ctx, user); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			respondJSON(ctx, w, http.StatusConflict, errorResponse{Error: "username already exists"})
			return
		}
		respondError(ctx, w, err)
		return
	}

	token, err := h.Sessions.Create(ctx, user.Username)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	logger.Info().Str("user", user.Username).Msg("account created")
	h.setSessionCookie(w, token)
	respondJSON(ctx, w, http.StatusCreated, sessionResponse{Username: user.Username, Token: token})
}

// Login handles POST /login requests.
func (h AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.FromContext(ctx)

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	user, err := h.Users.FindByUsername(ctx, req.Username)
	if err != nil {
		if !errors.Is(err, apperr.ErrNotFound) {
			respondError(ctx, w, err)
			return
		}
		logger.Warn().Str("username", req.Username).Msg("login unknown user")
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		logger.Warn().Str("username", req.Username).Msg("login password mismatch")
		respondJSON(ctx, w, http.StatusUnauthorized, errorResponse{Error: "invalid credentials"})
		return
	}

	token, err := h.Sessions.Create(ctx, user.Username)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	h.setSessionCookie(w, token)
	respondJSON(ctx, w, http.StatusOK, sessionResponse{Username: user.Username, Token: token})
}

// Logout handles POST /logout. It succeeds whether or not the token is still live.
func (h AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.Sessions.Destroy(ctx, middleware.SessionToken(r)); err != nil {
		respondError(ctx, w, err)
		return
	}

	h.clearSessionCookie(w)
	respondJSON(ctx, w, http.StatusOK, statusResponse{Status: "logged out"})
}

// Check handles GET /auth/check and echoes the authenticated user.
func (h AuthHandler) Check(w http.ResponseWriter, r *http.Request) {
	id, _ := auth.IdentityFromContext(r.Context())
	respondJSON(r.Context(), w, http.StatusOK, usernameResponse{Username: id.User})
}

// DeleteAccount handles DELETE /account. The user's sessions, requests, friendships and
// locations go with it and any open event streams are closed.
func (h AuthHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)

	if err := h.Users.DeleteByUsername(ctx, id.User); err != nil {
		respondError(ctx, w, err)
		return
	}
	if h.Events != nil {
		h.Events.Disconnect(id.User)
	}

	logging.FromContext(ctx).Info().Msg("account deleted")
	h.clearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

func (h AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h AuthHandler) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     middleware.SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h AuthHandler) now() time.Time {
	if h.NowFunc != nil {
		return h.NowFunc()
	}
	return time.Now().UTC()
}

type credentialsRequest struct {
	Username string `json:"username" validate:"required,alphanum,min=3,max=32"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type sessionResponse struct {
	Username string `json:"username"`
	Token    string `json:"token"`
}

type usernameResponse struct {
	Username string `json:"username"`
}

type statusResponse struct {
	Status string `json:"status"`
}
