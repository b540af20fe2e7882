package models

import "time"

// User represents a TrainFriends account. Username is the user's identity everywhere else.
type User struct {
	Username     string    `db:"username"`
	PasswordHash string    `db:"password_hash"`
	CreatedAt    time.Time `db:"created_at"`
}

// Session binds an opaque bearer token to the user that logged in.
type Session struct {
	Token     string    `db:"token"`
	Owner     string    `db:"owner"`
	CreatedAt time.Time `db:"created_at"`
}

// FriendRequestStatusPending is the only status ever persisted. Responding to a request
// deletes it.
const FriendRequestStatusPending = "pending"

// FriendRequest is an outstanding invitation from one user to another.
type FriendRequest struct {
	ID        string    `db:"id"`
	From      string    `db:"from_user"`
	To        string    `db:"to_user"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
}

// PendingRequest is a friend request seen from one side of the pair.
type PendingRequest struct {
	ID          string
	Counterpart string
	CreatedAt   time.Time
}

// PendingRequests groups the requests addressed to a user and the ones they sent.
type PendingRequests struct {
	Incoming []PendingRequest
	Outgoing []PendingRequest
}

// Location is a single position report.
type Location struct {
	ID         int64     `db:"id"`
	Owner      string    `db:"owner"`
	Latitude   float64   `db:"latitude"`
	Longitude  float64   `db:"longitude"`
	RecordedAt time.Time `db:"recorded_at"`
}
