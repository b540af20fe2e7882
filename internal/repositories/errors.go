package repositories

import (
	"fmt"

	"github.com/trainfriends/backend/internal/apperr"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = apperr.ErrNotFound
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = apperr.ErrConflict

	// ErrAlreadyFriends is returned when a request targets an existing friend.
	ErrAlreadyFriends = fmt.Errorf("%w: already friends", ErrConflict)
	// ErrRequestPending is returned when the pair already has a pending request in either direction.
	ErrRequestPending = fmt.Errorf("%w: friend request already pending", ErrConflict)
	// ErrNotFriends is returned when removing a friendship that does not exist.
	ErrNotFriends = fmt.Errorf("%w: not friends", ErrConflict)
)
