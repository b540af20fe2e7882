package repositories

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/trainfriends/backend/internal/models"
)

// MemoryStore implements every repository in process memory for tests and local development.
// A single writer lock serializes mutations, so multi-row changes are atomic to readers.
type MemoryStore struct {
	mu        sync.RWMutex
	users     map[string]models.User
	sessions  map[string]models.Session
	requests  map[string]models.FriendRequest
	friends   map[string]map[string]struct{}
	locations []models.Location
	nextID    int64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:    make(map[string]models.User),
		sessions: make(map[string]models.Session),
		requests: make(map[string]models.FriendRequest),
		friends:  make(map[string]map[string]struct{}),
	}
}

// Store exposes the MemoryStore through the repository interfaces.
func (s *MemoryStore) Store() Store {
	return Store{Users: s, Sessions: s, Friends: s, Locations: s}
}

// Create persists a new user record.
func (s *MemoryStore) Create(_ context.Context, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return ErrConflict
	}
	s.users[user.Username] = user
	return nil
}

// FindByUsername fetches a user by username.
func (s *MemoryStore) FindByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[username]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// DeleteByUsername removes the user and everything that references it.
func (s *MemoryStore) DeleteByUsername(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[username]; !ok {
		return ErrNotFound
	}
	delete(s.users, username)

	for token, session := range s.sessions {
		if session.Owner == username {
			delete(s.sessions, token)
		}
	}
	for id, request := range s.requests {
		if request.From == username || request.To == username {
			delete(s.requests, id)
		}
	}
	for peer := range s.friends[username] {
		delete(s.friends[peer], username)
	}
	delete(s.friends, username)

	s.locations = slices.DeleteFunc(s.locations, func(l models.Location) bool {
		return l.Owner == username
	})
	return nil
}

// Save inserts a new session. A duplicate token yields ErrConflict.
func (s *MemoryStore) Save(_ context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.Token]; exists {
		return ErrConflict
	}
	if _, ok := s.users[session.Owner]; !ok {
		return ErrNotFound
	}
	s.sessions[session.Token] = session
	return nil
}

// Find retrieves a session by token.
func (s *MemoryStore) Find(_ context.Context, token string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[token]
	if !ok {
		return models.Session{}, ErrNotFound
	}
	return session, nil
}

// Delete removes the session associated with the token.
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// DeleteCreatedBefore removes sessions created before cutoff.
func (s *MemoryStore) DeleteCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, session := range s.sessions {
		if session.CreatedAt.Before(cutoff) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// CreateRequest stores a pending request when the pair has no edge and no pending request.
func (s *MemoryStore) CreateRequest(_ context.Context, request models.FriendRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, name := range []string{request.From, request.To} {
		if _, ok := s.users[name]; !ok {
			return fmt.Errorf("%w: user %q", ErrNotFound, name)
		}
	}
	if _, ok := s.friends[request.From][request.To]; ok {
		return ErrAlreadyFriends
	}
	for _, existing := range s.requests {
		if samePair(existing, request.From, request.To) {
			return ErrRequestPending
		}
	}
	if _, exists := s.requests[request.ID]; exists {
		return ErrConflict
	}

	s.requests[request.ID] = request
	return nil
}

// ResolveRequest deletes the request after authorize approves it and, when accept is set,
// inserts both friendship edges under the same lock.
func (s *MemoryStore) ResolveRequest(_ context.Context, requestID string, accept bool, _ time.Time, authorize func(models.FriendRequest) error) (models.FriendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, ok := s.requests[requestID]
	if !ok {
		return models.FriendRequest{}, fmt.Errorf("%w: friend request %s", ErrNotFound, requestID)
	}
	if authorize != nil {
		if err := authorize(request); err != nil {
			return models.FriendRequest{}, err
		}
	}

	delete(s.requests, requestID)
	if accept {
		s.addEdgeLocked(request.From, request.To)
		s.addEdgeLocked(request.To, request.From)
	}
	return request, nil
}

// DeleteFriendship removes both directed edges between owner and peer.
func (s *MemoryStore) DeleteFriendship(_ context.Context, owner, peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.friends[owner][peer]; !ok {
		return ErrNotFriends
	}
	delete(s.friends[owner], peer)
	delete(s.friends[peer], owner)
	return nil
}

// ListFriends returns the user's friends in lexicographic order.
func (s *MemoryStore) ListFriends(_ context.Context, user string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	peers := make([]string, 0, len(s.friends[user]))
	for peer := range s.friends[user] {
		peers = append(peers, peer)
	}
	slices.Sort(peers)
	return peers, nil
}

// ListRequests returns the user's sent and received requests, oldest first.
func (s *MemoryStore) ListRequests(_ context.Context, user string) ([]models.FriendRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.FriendRequest
	for _, request := range s.requests {
		if request.From == user || request.To == user {
			out = append(out, request)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Record appends a location row.
func (s *MemoryStore) Record(_ context.Context, location models.Location) (models.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[location.Owner]; !ok {
		return models.Location{}, ErrNotFound
	}
	s.nextID++
	location.ID = s.nextID
	s.locations = append(s.locations, location)
	return location, nil
}

// RecentFor returns every retained row owned by users, ordered by recorded_at.
func (s *MemoryStore) RecentFor(_ context.Context, users []string) ([]models.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Location{}
	for _, location := range s.locations {
		if slices.Contains(users, location.Owner) {
			out = append(out, location)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteRecordedBefore removes rows recorded before cutoff.
func (s *MemoryStore) DeleteRecordedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.locations)
	s.locations = slices.DeleteFunc(s.locations, func(l models.Location) bool {
		return l.RecordedAt.Before(cutoff)
	})
	return int64(before - len(s.locations)), nil
}

func (s *MemoryStore) addEdgeLocked(owner, peer string) {
	if s.friends[owner] == nil {
		s.friends[owner] = make(map[string]struct{})
	}
	s.friends[owner][peer] = struct{}{}
}

func samePair(request models.FriendRequest, a, b string) bool {
	return (request.From == a && request.To == b) || (request.From == b && request.To == a)
}

var (
	_ UserRepository     = (*MemoryStore)(nil)
	_ SessionRepository  = (*MemoryStore)(nil)
	_ FriendRepository   = (*MemoryStore)(nil)
	_ LocationRepository = (*MemoryStore)(nil)
)
