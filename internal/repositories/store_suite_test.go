package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/trainfriends/backend/internal/models"
)

// base is truncated to microseconds so it survives a round trip through TIMESTAMPTZ.
var base = time.Date(2025, time.March, 3, 9, 30, 0, 0, time.UTC)

// runStoreSuite exercises behaviour every Store implementation must share.
func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("Users", func(t *testing.T) { testUsers(t, newStore(t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(t, newStore(t)) })
	t.Run("FriendRequests", func(t *testing.T) { testFriendRequests(t, newStore(t)) })
	t.Run("Friendships", func(t *testing.T) { testFriendships(t, newStore(t)) })
	t.Run("Locations", func(t *testing.T) { testLocations(t, newStore(t)) })
	t.Run("DeleteUserCascades", func(t *testing.T) { testDeleteUserCascades(t, newStore(t)) })
	t.Run("ConcurrentResponsesHaveOneWinner", func(t *testing.T) { testConcurrentResponses(t, newStore(t)) })
	t.Run("AcceptRacingCreateLeavesNoPendingRequest", func(t *testing.T) { testAcceptRacingCreate(t, newStore(t)) })
}

func createUsers(t *testing.T, store Store, names ...string) {
	t.Helper()
	for _, name := range names {
		user := models.User{Username: name, PasswordHash: "hash-" + name, CreatedAt: base}
		if err := store.Users.Create(context.Background(), user); err != nil {
			t.Fatalf("create user %s: %v", name, err)
		}
	}
}

func newRequest(from, to string, createdAt time.Time) models.FriendRequest {
	return models.FriendRequest{
		ID:        uuid.NewString(),
		From:      from,
		To:        to,
		Status:    models.FriendRequestStatusPending,
		CreatedAt: createdAt,
	}
}

func testUsers(t *testing.T, store Store) {
	ctx := context.Background()
	createUsers(t, store, "alice")

	if err := store.Users.Create(ctx, models.User{Username: "alice", PasswordHash: "other", CreatedAt: base}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}

	user, err := store.Users.FindByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("find user: %v", err)
	}
	if user.PasswordHash != "hash-alice" || !user.CreatedAt.Equal(base) {
		t.Fatalf("unexpected user: %+v", user)
	}

	if _, err := store.Users.FindByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing user, got %v", err)
	}
	if err := store.Users.DeleteByUsername(ctx, "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting missing user, got %v", err)
	}
}

func testSessions(t *testing.T, store Store) {
	ctx := context.Background()
	createUsers(t, store, "alice")

	old := models.Session{Token: "old-token", Owner: "alice", CreatedAt: base.Add(-31 * 24 * time.Hour)}
	fresh := models.Session{Token: "fresh-token", Owner: "alice", CreatedAt: base}
	for _, session := range []models.Session{old, fresh} {
		if err := store.Sessions.Save(ctx, session); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}

	if err := store.Sessions.Save(ctx, fresh); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate token, got %v", err)
	}
	if err := store.Sessions.Save(ctx, models.Session{Token: "ghost", Owner: "nobody", CreatedAt: base}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}

	got, err := store.Sessions.Find(ctx, "fresh-token")
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if got.Owner != "alice" || !got.CreatedAt.Equal(base) {
		t.Fatalf("unexpected session: %+v", got)
	}

	removed, err := store.Sessions.DeleteCreatedBefore(ctx, base.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("delete expired sessions: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired session removed, got %d", removed)
	}
	if _, err := store.Sessions.Find(ctx, "old-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expired session to be gone, got %v", err)
	}

	if err := store.Sessions.Delete(ctx, "fresh-token"); err != nil {
		t.Fatalf("delete session: %v", err)
	}
	if err := store.Sessions.Delete(ctx, "fresh-token"); err != nil {
		t.Fatalf("deleting an unknown token should be a no-op, got %v", err)
	}
	if _, err := store.Sessions.Find(ctx, "fresh-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func testFriendRequests(t *testing.T, store Store) {
	ctx := context.Background()
	createUsers(t, store, "alice", "bob", "carol")

	first := newRequest("alice", "bob", base)
	if err := store.Friends.CreateRequest(ctx, first); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if err := store.Friends.CreateRequest(ctx, newRequest("alice", "bob", base)); !errors.Is(err, ErrRequestPending) {
		t.Fatalf("expected ErrRequestPending for repeated request, got %v", err)
	}
	if err := store.Friends.CreateRequest(ctx, newRequest("bob", "alice", base)); !errors.Is(err, ErrRequestPending) {
		t.Fatalf("expected ErrRequestPending for reverse request, got %v", err)
	}
	if err := store.Friends.CreateRequest(ctx, newRequest("alice", "nobody", base)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown receiver, got %v", err)
	}

	second := newRequest("carol", "alice", base.Add(time.Minute))
	if err := store.Friends.CreateRequest(ctx, second); err != nil {
		t.Fatalf("create second request: %v", err)
	}

	requests, err := store.Friends.ListRequests(ctx, "alice")
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(requests) != 2 || requests[0].ID != first.ID || requests[1].ID != second.ID {
		t.Fatalf("expected requests oldest first, got %+v", requests)
	}
	if requests[0].From != "alice" || requests[0].To != "bob" || !requests[0].CreatedAt.Equal(base) {
		t.Fatalf("unexpected request fields: %+v", requests[0])
	}

	denied := errors.New("denied")
	if _, err := store.Friends.ResolveRequest(ctx, first.ID, true, base, func(models.FriendRequest) error { return denied }); !errors.Is(err, denied) {
		t.Fatalf("expected authorize error, got %v", err)
	}
	requests, err = store.Friends.ListRequests(ctx, "bob")
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(requests) != 1 {
		t.Fatalf("a rejected authorization must leave the request, got %+v", requests)
	}

	resolved, err := store.Friends.ResolveRequest(ctx, second.ID, false, base, nil)
	if err != nil {
		t.Fatalf("reject request: %v", err)
	}
	if resolved.From != "carol" {
		t.Fatalf("unexpected resolved request: %+v", resolved)
	}
	friends, err := store.Friends.ListFriends(ctx, "carol")
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 0 {
		t.Fatalf("rejecting must not create friendship, got %v", friends)
	}

	if _, err := store.Friends.ResolveRequest(ctx, second.ID, true, base, nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for resolved request, got %v", err)
	}

	if err := store.Friends.CreateRequest(ctx, newRequest("alice", "carol", base)); err != nil {
		t.Fatalf("a new request after rejection should be allowed: %v", err)
	}
}

func testFriendships(t *testing.T, store Store) {
	ctx := context.Background()
	createUsers(t, store, "alice", "bob", "carol")

	for _, peer := range []string{"carol", "bob"} {
		request := newRequest("alice", peer, base)
		if err := store.Friends.CreateRequest(ctx, request); err != nil {
			t.Fatalf("create request: %v", err)
		}
		if _, err := store.Friends.ResolveRequest(ctx, request.ID, true, base, nil); err != nil {
			t.Fatalf("accept request: %v", err)
		}
	}

	friends, err := store.Friends.ListFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 2 || friends[0] != "bob" || friends[1] != "carol" {
		t.Fatalf("expected sorted friends [bob carol], got %v", friends)
	}
	friends, err = store.Friends.ListFriends(ctx, "bob")
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 1 || friends[0] != "alice" {
		t.Fatalf("friendship must be symmetric, got %v", friends)
	}

	if err := store.Friends.CreateRequest(ctx, newRequest("bob", "alice", base)); !errors.Is(err, ErrAlreadyFriends) {
		t.Fatalf("expected ErrAlreadyFriends, got %v", err)
	}

	if err := store.Friends.DeleteFriendship(ctx, "bob", "alice"); err != nil {
		t.Fatalf("delete friendship: %v", err)
	}
	if err := store.Friends.DeleteFriendship(ctx, "alice", "bob"); !errors.Is(err, ErrNotFriends) {
		t.Fatalf("expected ErrNotFriends, got %v", err)
	}
	friends, err = store.Friends.ListFriends(ctx, "alice")
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 1 || friends[0] != "carol" {
		t.Fatalf("expected only carol to remain, got %v", friends)
	}
}

func testLocations(t *testing.T, store Store) {
	ctx := context.Background()
	createUsers(t, store, "alice", "bob", "carol")

	reports := []models.Location{
		{Owner: "bob", Latitude: 52.52, Longitude: 13.405, RecordedAt: base.Add(2 * time.Minute)},
		{Owner: "alice", Latitude: 48.1371, Longitude: 11.5754, RecordedAt: base.Add(time.Minute)},
		{Owner: "carol", Latitude: 50.1109, Longitude: 8.6821, RecordedAt: base},
		{Owner: "alice", Latitude: 48.14, Longitude: 11.58, RecordedAt: base.Add(-20 * time.Minute)},
	}
	for i, report := range reports {
		saved, err := store.Locations.Record(ctx, report)
		if err != nil {
			t.Fatalf("record location %d: %v", i, err)
		}
		if saved.ID == 0 {
			t.Fatalf("expected generated id for location %d", i)
		}
	}

	if _, err := store.Locations.Record(ctx, models.Location{Owner: "nobody", RecordedAt: base}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown owner, got %v", err)
	}

	rows, err := store.Locations.RecentFor(ctx, []string{"alice", "bob"})
	if err != nil {
		t.Fatalf("recent locations: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %+v", rows)
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].RecordedAt.Before(rows[i-1].RecordedAt) {
			t.Fatalf("rows must be ordered by recorded_at, got %+v", rows)
		}
	}
	if rows[2].Owner != "bob" || rows[2].Latitude != 52.52 || !rows[2].RecordedAt.Equal(base.Add(2*time.Minute)) {
		t.Fatalf("unexpected newest row: %+v", rows[2])
	}

	empty, err := store.Locations.RecentFor(ctx, nil)
	if err != nil {
		t.Fatalf("recent locations for nobody: %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}

	removed, err := store.Locations.DeleteRecordedBefore(ctx, base.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("delete stale locations: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one stale row removed, got %d", removed)
	}
	rows, err = store.Locations.RecentFor(ctx, []string{"alice"})
	if err != nil {
		t.Fatalf("recent locations: %v", err)
	}
	if len(rows) != 1 || rows[0].Latitude != 48.1371 {
		t.Fatalf("expected only the fresh alice row, got %+v", rows)
	}
}

func testDeleteUserCascades(t *testing.T, store Store) {
	ctx := context.Background()
	createUsers(t, store, "alice", "bob", "carol")

	friendship := newRequest("alice", "bob", base)
	if err := store.Friends.CreateRequest(ctx, friendship); err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := store.Friends.ResolveRequest(ctx, friendship.ID, true, base, nil); err != nil {
		t.Fatalf("accept request: %v", err)
	}
	if err := store.Friends.CreateRequest(ctx, newRequest("carol", "alice", base)); err != nil {
		t.Fatalf("create pending request: %v", err)
	}
	if err := store.Sessions.Save(ctx, models.Session{Token: "alice-token", Owner: "alice", CreatedAt: base}); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if _, err := store.Locations.Record(ctx, models.Location{Owner: "alice", Latitude: 1, Longitude: 1, RecordedAt: base}); err != nil {
		t.Fatalf("record location: %v", err)
	}

	if err := store.Users.DeleteByUsername(ctx, "alice"); err != nil {
		t.Fatalf("delete user: %v", err)
	}

	if _, err := store.Users.FindByUsername(ctx, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected user to be gone, got %v", err)
	}
	if _, err := store.Sessions.Find(ctx, "alice-token"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected session to be gone, got %v", err)
	}
	friends, err := store.Friends.ListFriends(ctx, "bob")
	if err != nil {
		t.Fatalf("list friends: %v", err)
	}
	if len(friends) != 0 {
		t.Fatalf("expected bob's edge to alice to be gone, got %v", friends)
	}
	requests, err := store.Friends.ListRequests(ctx, "carol")
	if err != nil {
		t.Fatalf("list requests: %v", err)
	}
	if len(requests) != 0 {
		t.Fatalf("expected carol's request to alice to be gone, got %+v", requests)
	}
	rows, err := store.Locations.RecentFor(ctx, []string{"alice"})
	if err != nil {
		t.Fatalf("recent locations: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected alice's locations to be gone, got %+v", rows)
	}
}

// raceIterations repeats each race so that both interleavings are likely to occur.
const raceIterations = 25

// runTogether starts every fn at the same moment and waits for all of them.
func runTogether(fns ...func()) {
	var (
		ready sync.WaitGroup
		done  sync.WaitGroup
	)
	start := make(chan struct{})
	for _, fn := range fns {
		ready.Add(1)
		done.Add(1)
		go func() {
			defer done.Done()
			ready.Done()
			<-start
			fn()
		}()
	}
	ready.Wait()
	close(start)
	done.Wait()
}

func testConcurrentResponses(t *testing.T, store Store) {
	ctx := context.Background()
	createUsers(t, store, "alice", "bob")

	receiverOnly := func(r models.FriendRequest) error {
		if r.To != "bob" {
			return errors.New("not the receiver")
		}
		return nil
	}
	senderOnly := func(r models.FriendRequest) error {
		if r.From != "alice" {
			return errors.New("not the sender")
		}
		return nil
	}

	for i := 0; i < raceIterations; i++ {
		request := newRequest("alice", "bob", base)
		if err := store.Friends.CreateRequest(ctx, request); err != nil {
			t.Fatalf("iteration %d: create request: %v", i, err)
		}

		var acceptErr, cancelErr error
		runTogether(
			func() { _, acceptErr = store.Friends.ResolveRequest(ctx, request.ID, true, base, receiverOnly) },
			func() { _, cancelErr = store.Friends.ResolveRequest(ctx, request.ID, false, base, senderOnly) },
		)

		switch {
		case acceptErr == nil && cancelErr == nil:
			t.Fatalf("iteration %d: accept and cancel both succeeded", i)
		case acceptErr == nil:
			if !errors.Is(cancelErr, ErrNotFound) {
				t.Fatalf("iteration %d: expected cancel to see ErrNotFound, got %v", i, cancelErr)
			}
			if err := store.Friends.DeleteFriendship(ctx, "alice", "bob"); err != nil {
				t.Fatalf("iteration %d: accepted request left no friendship: %v", i, err)
			}
		case cancelErr == nil:
			if !errors.Is(acceptErr, ErrNotFound) {
				t.Fatalf("iteration %d: expected accept to see ErrNotFound, got %v", i, acceptErr)
			}
			friends, err := store.Friends.ListFriends(ctx, "alice")
			if err != nil {
				t.Fatalf("iteration %d: list friends: %v", i, err)
			}
			if len(friends) != 0 {
				t.Fatalf("iteration %d: cancelled request created friendship %v", i, friends)
			}
		default:
			t.Fatalf("iteration %d: neither response succeeded: accept=%v cancel=%v", i, acceptErr, cancelErr)
		}
	}
}

func testAcceptRacingCreate(t *testing.T, store Store) {
	ctx := context.Background()
	createUsers(t, store, "alice", "bob")

	for i := 0; i < raceIterations; i++ {
		request := newRequest("alice", "bob", base)
		if err := store.Friends.CreateRequest(ctx, request); err != nil {
			t.Fatalf("iteration %d: create request: %v", i, err)
		}

		var acceptErr, createErr error
		runTogether(
			func() { _, acceptErr = store.Friends.ResolveRequest(ctx, request.ID, true, base, nil) },
			func() { createErr = store.Friends.CreateRequest(ctx, newRequest("alice", "bob", base)) },
		)

		if acceptErr != nil {
			t.Fatalf("iteration %d: accept: %v", i, acceptErr)
		}
		if !errors.Is(createErr, ErrConflict) {
			t.Fatalf("iteration %d: expected the racing request to conflict, got %v", i, createErr)
		}

		requests, err := store.Friends.ListRequests(ctx, "alice")
		if err != nil {
			t.Fatalf("iteration %d: list requests: %v", i, err)
		}
		if len(requests) != 0 {
			t.Fatalf("iteration %d: friends alice and bob still have pending requests %+v", i, requests)
		}

		if err := store.Friends.DeleteFriendship(ctx, "alice", "bob"); err != nil {
			t.Fatalf("iteration %d: delete friendship: %v", i, err)
		}
	}
}
