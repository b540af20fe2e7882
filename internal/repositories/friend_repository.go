package repositories

import (
	"context"
	"time"

	"github.com/trainfriends/backend/internal/models"
)

// FriendRepository defines data access for friend requests and friendship edges.
type FriendRepository interface {
	// CreateRequest stores a pending request after checking, in the same write, that the
	// receiver exists and the pair is neither friends nor already has a pending request.
	CreateRequest(ctx context.Context, request models.FriendRequest) error
	// ResolveRequest deletes the request when authorize accepts it. With accept set, both
	// friendship edges are inserted in the same transaction, created at resolvedAt.
	ResolveRequest(ctx context.Context, requestID string, accept bool, resolvedAt time.Time, authorize func(models.FriendRequest) error) (models.FriendRequest, error)
	DeleteFriendship(ctx context.Context, owner, peer string) error
	ListFriends(ctx context.Context, user string) ([]string, error)
	ListRequests(ctx context.Context, user string) ([]models.FriendRequest, error)
}
