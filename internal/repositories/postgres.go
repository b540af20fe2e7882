package repositories

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trainfriends/backend/internal/db"
	"github.com/trainfriends/backend/internal/models"
)

// Store groups the repositories backing the service.
type Store struct {
	Users     UserRepository
	Sessions  SessionRepository
	Friends   FriendRepository
	Locations LocationRepository
}

// NewPostgresStore wires every repository to the same connection pool.
func NewPostgresStore(pool db.Pool) Store {
	return Store{
		Users:     NewPostgresUserRepository(pool),
		Sessions:  NewPostgresSessionStore(pool),
		Friends:   NewPostgresFriendRepository(pool),
		Locations: NewPostgresLocationRepository(pool),
	}
}

// PostgresUserRepository provides PostgreSQL-backed persistence for users.
type PostgresUserRepository struct {
	pool db.Pool
}

// NewPostgresUserRepository constructs a user repository backed by PostgreSQL.
func NewPostgresUserRepository(pool db.Pool) *PostgresUserRepository {
	return &PostgresUserRepository{pool: pool}
}

// Create persists a new user record.
func (r *PostgresUserRepository) Create(ctx context.Context, user models.User) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, `
        INSERT INTO users (username, password_hash, created_at)
        VALUES ($1, $2, $3)
    `, user.Username, user.PasswordHash, user.CreatedAt.UTC())
	if err != nil {
		return translateError(err, "insert user")
	}

	return nil
}

// FindByUsername fetches a user by username.
func (r *PostgresUserRepository) FindByUsername(ctx context.Context, username string) (models.User, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.User{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var user models.User
	err = pgxscan.Get(ctx, conn, &user, `
        SELECT username, password_hash, created_at
        FROM users
        WHERE username = $1
    `, username)
	if err != nil {
		if pgxscan.NotFound(err) {
			return models.User{}, ErrNotFound
		}
		return models.User{}, fmt.Errorf("select user by username: %w", err)
	}

	user.CreatedAt = user.CreatedAt.UTC()
	return user, nil
}

// DeleteByUsername removes the user. Foreign keys cascade to every table that references it.
func (r *PostgresUserRepository) DeleteByUsername(ctx context.Context, username string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM users WHERE username = $1`, username)
	if err != nil {
		return fmt.Errorf("delete user: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	return nil
}

// PostgresFriendRepository provides PostgreSQL-backed persistence for friend requests and edges.
type PostgresFriendRepository struct {
	pool db.Pool
}

// NewPostgresFriendRepository constructs a friend repository backed by PostgreSQL.
func NewPostgresFriendRepository(pool db.Pool) *PostgresFriendRepository {
	return &PostgresFriendRepository{pool: pool}
}

// CreateRequest persists a new friend request. Both users' rows are locked for the duration
// of the transaction so concurrent writes on the same pair are serialized.
func (r *PostgresFriendRepository) CreateRequest(ctx context.Context, request models.FriendRequest) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return inTx(ctx, conn, func(tx pgx.Tx) error {
		if err := lockUsers(ctx, tx, request.From, request.To); err != nil {
			return err
		}

		var friends bool
		if err := tx.QueryRow(ctx, `
            SELECT EXISTS (SELECT 1 FROM friends WHERE owner = $1 AND peer = $2)
        `, request.From, request.To).Scan(&friends); err != nil {
			return fmt.Errorf("check friendship: %w", err)
		}
		if friends {
			return ErrAlreadyFriends
		}

		var pending bool
		if err := tx.QueryRow(ctx, `
            SELECT EXISTS (
                SELECT 1 FROM friend_requests
                WHERE (from_user = $1 AND to_user = $2) OR (from_user = $2 AND to_user = $1)
            )
        `, request.From, request.To).Scan(&pending); err != nil {
			return fmt.Errorf("check pending requests: %w", err)
		}
		if pending {
			return ErrRequestPending
		}

		_, err := tx.Exec(ctx, `
            INSERT INTO friend_requests (id, from_user, to_user, status, created_at)
            VALUES ($1, $2, $3, $4, $5)
        `, request.ID, request.From, request.To, request.Status, request.CreatedAt.UTC())
		if err != nil {
			err = translateError(err, "insert friend request")
			if errors.Is(err, ErrConflict) {
				return ErrRequestPending
			}
			return err
		}
		return nil
	})
}

// ResolveRequest locks both users and then the request row, lets authorize inspect it, and
// deletes it. When accept is set, the symmetric friendship edges are inserted in the same
// transaction, stamped with resolvedAt. The lock order matches CreateRequest.
func (r *PostgresFriendRepository) ResolveRequest(ctx context.Context, requestID string, accept bool, resolvedAt time.Time, authorize func(models.FriendRequest) error) (models.FriendRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.FriendRequest{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var request models.FriendRequest
	err = inTx(ctx, conn, func(tx pgx.Tx) error {
		var from, to string
		err := tx.QueryRow(ctx, `
            SELECT from_user, to_user FROM friend_requests WHERE id = $1
        `, requestID).Scan(&from, &to)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: friend request %s", ErrNotFound, requestID)
			}
			return fmt.Errorf("select friend request: %w", err)
		}

		if err := lockUsers(ctx, tx, from, to); err != nil {
			return err
		}

		// A concurrent response may have deleted the row while we waited for the user locks.
		err = pgxscan.Get(ctx, tx, &request, `
            SELECT id, from_user, to_user, status, created_at
            FROM friend_requests
            WHERE id = $1
            FOR UPDATE
        `, requestID)
		if err != nil {
			if pgxscan.NotFound(err) {
				return fmt.Errorf("%w: friend request %s", ErrNotFound, requestID)
			}
			return fmt.Errorf("select friend request: %w", err)
		}

		if authorize != nil {
			if err := authorize(request); err != nil {
				return err
			}
		}

		if _, err := tx.Exec(ctx, `DELETE FROM friend_requests WHERE id = $1`, requestID); err != nil {
			return fmt.Errorf("delete friend request: %w", err)
		}

		if !accept {
			return nil
		}

		_, err = tx.Exec(ctx, `
            INSERT INTO friends (owner, peer, created_at)
            VALUES ($1, $2, $3), ($2, $1, $3)
            ON CONFLICT (owner, peer) DO NOTHING
        `, request.From, request.To, resolvedAt.UTC())
		if err != nil {
			return translateError(err, "insert friendship")
		}
		return nil
	})
	if err != nil {
		return models.FriendRequest{}, err
	}

	request.CreatedAt = request.CreatedAt.UTC()
	return request, nil
}

// DeleteFriendship removes both directed edges between owner and peer under the same user
// locks as the other friend-graph writes.
func (r *PostgresFriendRepository) DeleteFriendship(ctx context.Context, owner, peer string) error {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	return inTx(ctx, conn, func(tx pgx.Tx) error {
		if err := lockUsers(ctx, tx, owner, peer); err != nil {
			if errors.Is(err, ErrNotFound) {
				return ErrNotFriends
			}
			return err
		}

		tag, err := tx.Exec(ctx, `
            DELETE FROM friends
            WHERE (owner = $1 AND peer = $2) OR (owner = $2 AND peer = $1)
        `, owner, peer)
		if err != nil {
			return fmt.Errorf("delete friendship: %w", err)
		}

		if tag.RowsAffected() == 0 {
			return ErrNotFriends
		}
		return nil
	})
}

// ListFriends returns the user's friends in lexicographic order.
func (r *PostgresFriendRepository) ListFriends(ctx context.Context, user string) ([]string, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var peers []string
	if err := pgxscan.Select(ctx, conn, &peers, `SELECT peer FROM friends WHERE owner = $1`, user); err != nil {
		return nil, fmt.Errorf("select friends: %w", err)
	}

	// Byte order, independent of the database collation.
	slices.Sort(peers)
	return peers, nil
}

// ListRequests returns every pending request the user sent or received, oldest first.
func (r *PostgresFriendRepository) ListRequests(ctx context.Context, user string) ([]models.FriendRequest, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	var requests []models.FriendRequest
	err = pgxscan.Select(ctx, conn, &requests, `
        SELECT id, from_user, to_user, status, created_at
        FROM friend_requests
        WHERE from_user = $1 OR to_user = $1
        ORDER BY created_at ASC, id ASC
    `, user)
	if err != nil {
		return nil, fmt.Errorf("select friend requests: %w", err)
	}

	for i := range requests {
		requests[i].CreatedAt = requests[i].CreatedAt.UTC()
	}
	return requests, nil
}

// PostgresLocationRepository provides PostgreSQL-backed persistence for location reports.
type PostgresLocationRepository struct {
	pool db.Pool
}

// NewPostgresLocationRepository constructs a location repository backed by PostgreSQL.
func NewPostgresLocationRepository(pool db.Pool) *PostgresLocationRepository {
	return &PostgresLocationRepository{pool: pool}
}

// Record appends a location row and returns it with its generated id.
func (r *PostgresLocationRepository) Record(ctx context.Context, location models.Location) (models.Location, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return models.Location{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	location.RecordedAt = location.RecordedAt.UTC()
	err = conn.QueryRow(ctx, `
        INSERT INTO locations (owner, latitude, longitude, recorded_at)
        VALUES ($1, $2, $3, $4)
        RETURNING id
    `, location.Owner, location.Latitude, location.Longitude, location.RecordedAt).Scan(&location.ID)
	if err != nil {
		return models.Location{}, translateError(err, "insert location")
	}

	return location, nil
}

// RecentFor returns every retained row owned by users, ordered by recorded_at.
func (r *PostgresLocationRepository) RecentFor(ctx context.Context, users []string) ([]models.Location, error) {
	if len(users) == 0 {
		return []models.Location{}, nil
	}

	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	locations := []models.Location{}
	err = pgxscan.Select(ctx, conn, &locations, `
        SELECT id, owner, latitude, longitude, recorded_at
        FROM locations
        WHERE owner = ANY($1)
        ORDER BY recorded_at ASC, id ASC
    `, users)
	if err != nil {
		return nil, fmt.Errorf("select locations: %w", err)
	}

	for i := range locations {
		locations[i].RecordedAt = locations[i].RecordedAt.UTC()
	}
	return locations, nil
}

// DeleteRecordedBefore removes rows recorded before cutoff and reports how many were removed.
func (r *PostgresLocationRepository) DeleteRecordedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Exec(ctx, `DELETE FROM locations WHERE recorded_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete stale locations: %w", err)
	}

	return tag.RowsAffected(), nil
}

// lockUsers takes row locks on both users in a stable order. A missing user yields ErrNotFound.
func lockUsers(ctx context.Context, tx pgx.Tx, a, b string) error {
	names := []string{a, b}
	slices.Sort(names)

	var found []string
	if err := pgxscan.Select(ctx, tx, &found, `
        SELECT username FROM users
        WHERE username = ANY($1)
        ORDER BY username
        FOR UPDATE
    `, names); err != nil {
		return fmt.Errorf("lock users: %w", err)
	}

	for _, name := range names {
		if !slices.Contains(found, name) {
			return fmt.Errorf("%w: user %q", ErrNotFound, name)
		}
	}
	return nil
}

// txMaxAttempts bounds reruns of a transaction that lost a serialization or deadlock race.
const txMaxAttempts = 3

var retryableTxCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
}

// inTx runs fn in a transaction, rerunning it from the start when the database aborts it
// with a serialization failure or deadlock.
func inTx(ctx context.Context, conn *pgxpool.Conn, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		err = pgx.BeginTxFunc(ctx, conn, pgx.TxOptions{}, fn)
		if err == nil || !isRetryableTx(err) {
			return err
		}
	}
	return fmt.Errorf("transaction aborted %d times: %w", txMaxAttempts, err)
}

func isRetryableTx(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		_, ok := retryableTxCodes[pgErr.Code]
		return ok
	}
	return false
}

func translateError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return ErrConflict
		case "23503":
			return ErrNotFound
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var (
	_ UserRepository     = (*PostgresUserRepository)(nil)
	_ FriendRepository   = (*PostgresFriendRepository)(nil)
	_ LocationRepository = (*PostgresLocationRepository)(nil)
)
