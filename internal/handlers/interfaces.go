package handlers

import (
	"context"

	"github.com/trainfriends/backend/internal/events"
	"github.com/trainfriends/backend/internal/friends"
	"github.com/trainfriends/backend/internal/models"
)

// UserStore captures the persistence operations required by the auth handlers.
type UserStore interface {
	Create(ctx context.Context, user models.User) error
	FindByUsername(ctx context.Context, username string) (models.User, error)
	DeleteByUsername(ctx context.Context, username string) error
}

// SessionManager opens, resolves and destroys session tokens.
type SessionManager interface {
	Create(ctx context.Context, user string) (string, error)
	Resolve(ctx context.Context, token string) (string, error)
	Destroy(ctx context.Context, token string) error
}

// FriendGraph captures the friend request lifecycle used by the friend handlers.
type FriendGraph interface {
	CreateRequest(ctx context.Context, from, to string) (string, error)
	Respond(ctx context.Context, caller, requestID string, decision friends.Decision) error
	RemoveFriend(ctx context.Context, caller, peer string) error
	ListFriends(ctx context.Context, user string) ([]string, error)
	ListPending(ctx context.Context, user string) (models.PendingRequests, error)
}

// LocationService records positions and notifies friends.
type LocationService interface {
	Push(ctx context.Context, caller string, latitude, longitude float64) ([]models.Location, error)
	NotifyNearby(ctx context.Context, caller string, targets []string) ([]string, error)
}

// EventBroker opens live streams and ends them when an account goes away.
type EventBroker interface {
	Open(user string) *events.Stream
	Disconnect(user string)
}

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
