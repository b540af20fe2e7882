package repositories

import (
	"context"

	"github.com/trainfriends/backend/internal/models"
)

// UserRepository defines data access for user accounts.
type UserRepository interface {
	Create(ctx context.Context, user models.User) error
	FindByUsername(ctx context.Context, username string) (models.User, error)
	// DeleteByUsername removes the account together with its sessions, friend requests,
	// friendship edges and location history.
	DeleteByUsername(ctx context.Context, username string) error
}
