package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/trainfriends/backend/internal/apperr"
	"github.com/trainfriends/backend/internal/models"
)

// ErrUnauthorized indicates the presented token does not map to a session.
var ErrUnauthorized = fmt.Errorf("%w: invalid session", apperr.ErrUnauthorized)

// tokenAttempts bounds regeneration when a freshly generated token collides with a stored one.
const tokenAttempts = 3

// SessionStore persists issued session tokens so they survive process restarts.
type SessionStore interface {
	Save(ctx context.Context, session models.Session) error
	Find(ctx context.Context, token string) (models.Session, error)
	Delete(ctx context.Context, token string) error
}

// Manager manages the lifecycle of session tokens backed by a persistent store.
type Manager struct {
	store SessionStore
	now   func() time.Time
	token func() (string, error)
}

// NewManager constructs a Manager over store.
func NewManager(store SessionStore) *Manager {
	if store == nil {
		panic("auth: session store must not be nil")
	}
	return &Manager{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		token: randomToken,
	}
}

// WithNowFunc allows tests to override the time source.
func (m *Manager) WithNowFunc(now func() time.Time) *Manager {
	m.now = now
	return m
}

// Create opens a new session for user and returns its token.
func (m *Manager) Create(ctx context.Context, user string) (string, error) {
	if user == "" {
		return "", fmt.Errorf("%w: user must be provided", apperr.ErrInvalidArgument)
	}

	for attempt := 0; attempt < tokenAttempts; attempt++ {
		token, err := m.token()
		if err != nil {
			return "", fmt.Errorf("generate session token: %w", err)
		}

		err = m.store.Save(ctx, models.Session{Token: token, Owner: user, CreatedAt: m.now()})
		if errors.Is(err, apperr.ErrConflict) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("save session: %w", err)
		}
		return token, nil
	}

	return "", fmt.Errorf("save session: token collided %d times", tokenAttempts)
}

// Resolve returns the owner of token. Age is not checked here; expired sessions keep
// resolving until the reaper removes them.
func (m *Manager) Resolve(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrUnauthorized
	}

	session, err := m.store.Find(ctx, token)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("find session: %w", err)
	}
	return session.Owner, nil
}

// Destroy removes the session. Unknown tokens are ignored.
func (m *Manager) Destroy(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := m.store.Delete(ctx, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func randomToken() (string, error) {
	const size = 32
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
