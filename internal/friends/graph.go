// Package friends implements the friend request lifecycle and the symmetric friendship graph.
package friends

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trainfriends/backend/internal/apperr"
	"github.com/trainfriends/backend/internal/logging"
	"github.com/trainfriends/backend/internal/models"
	"github.com/trainfriends/backend/internal/repositories"
)

// Decision is a response to a pending friend request.
type Decision string

// Decisions accepted by Respond.
const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
	DecisionCancel Decision = "cancel"
)

// ParseDecision validates a decision name.
func ParseDecision(name string) (Decision, error) {
	switch d := Decision(strings.ToLower(name)); d {
	case DecisionAccept, DecisionReject, DecisionCancel:
		return d, nil
	default:
		return "", fmt.Errorf("%w: unknown decision %q", apperr.ErrInvalidArgument, name)
	}
}

// Graph enforces the friend request rules on top of a FriendRepository.
type Graph struct {
	store repositories.FriendRepository
	now   func() time.Time
	newID func() string
}

// NewGraph constructs a Graph over store.
func NewGraph(store repositories.FriendRepository) *Graph {
	return &Graph{
		store: store,
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuid.NewString,
	}
}

// WithNowFunc allows tests to override the time source.
func (g *Graph) WithNowFunc(now func() time.Time) *Graph {
	g.now = now
	return g
}

// CreateRequest opens a pending request from one user to another and returns its id.
func (g *Graph) CreateRequest(ctx context.Context, from, to string) (string, error) {
	ctx, span := logging.StartSpan(ctx, "friends.create_request")
	defer span.End()

	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" || to == "" {
		return "", fmt.Errorf("%w: both users are required", apperr.ErrInvalidArgument)
	}
	if from == to {
		return "", fmt.Errorf("%w: cannot send a friend request to yourself", apperr.ErrInvalidArgument)
	}

	request := models.FriendRequest{
		ID:        g.newID(),
		From:      from,
		To:        to,
		Status:    models.FriendRequestStatusPending,
		CreatedAt: g.now(),
	}
	if err := g.store.CreateRequest(ctx, request); err != nil {
		return "", err
	}

	logging.FromContext(ctx).Info().
		Str("request_id", request.ID).
		Str("from", from).
		Str("to", to).
		Msg("friend request created")
	return request.ID, nil
}

// Respond applies decision to a pending request on behalf of caller. Accept and reject are
// reserved for the receiver and cancel for the sender.
func (g *Graph) Respond(ctx context.Context, caller, requestID string, decision Decision) error {
	ctx, span := logging.StartSpan(ctx, "friends.respond")
	defer span.End()

	var authorize func(models.FriendRequest) error
	switch decision {
	case DecisionAccept, DecisionReject:
		authorize = func(r models.FriendRequest) error {
			if r.To != caller {
				return fmt.Errorf("%w: only the receiver may %s a friend request", apperr.ErrForbidden, decision)
			}
			return nil
		}
	case DecisionCancel:
		authorize = func(r models.FriendRequest) error {
			if r.From != caller {
				return fmt.Errorf("%w: only the sender may cancel a friend request", apperr.ErrForbidden)
			}
			return nil
		}
	default:
		return fmt.Errorf("%w: unknown decision %q", apperr.ErrInvalidArgument, decision)
	}

	request, err := g.store.ResolveRequest(ctx, requestID, decision == DecisionAccept, g.now(), authorize)
	if err != nil {
		return err
	}

	logging.FromContext(ctx).Info().
		Str("request_id", request.ID).
		Str("from", request.From).
		Str("to", request.To).
		Str("decision", string(decision)).
		Msg("friend request resolved")
	return nil
}

// Accept is Respond with DecisionAccept.
func (g *Graph) Accept(ctx context.Context, caller, requestID string) error {
	return g.Respond(ctx, caller, requestID, DecisionAccept)
}

// Reject is Respond with DecisionReject.
func (g *Graph) Reject(ctx context.Context, caller, requestID string) error {
	return g.Respond(ctx, caller, requestID, DecisionReject)
}

// Cancel is Respond with DecisionCancel.
func (g *Graph) Cancel(ctx context.Context, caller, requestID string) error {
	return g.Respond(ctx, caller, requestID, DecisionCancel)
}

// RemoveFriend deletes the friendship between caller and peer in both directions.
func (g *Graph) RemoveFriend(ctx context.Context, caller, peer string) error {
	if err := g.store.DeleteFriendship(ctx, caller, peer); err != nil {
		return err
	}

	logging.FromContext(ctx).Info().Str("user", caller).Str("peer", peer).Msg("friendship removed")
	return nil
}

// ListFriends returns user's friends in lexicographic order.
func (g *Graph) ListFriends(ctx context.Context, user string) ([]string, error) {
	return g.store.ListFriends(ctx, user)
}

// ListPending splits user's pending requests into the ones received and the ones sent,
// each ordered by creation time.
func (g *Graph) ListPending(ctx context.Context, user string) (models.PendingRequests, error) {
	requests, err := g.store.ListRequests(ctx, user)
	if err != nil {
		return models.PendingRequests{}, err
	}

	pending := models.PendingRequests{
		Incoming: []models.PendingRequest{},
		Outgoing: []models.PendingRequest{},
	}
	for _, r := range requests {
		if r.To == user {
			pending.Incoming = append(pending.Incoming, models.PendingRequest{ID: r.ID, Counterpart: r.From, CreatedAt: r.CreatedAt})
		} else {
			pending.Outgoing = append(pending.Outgoing, models.PendingRequest{ID: r.ID, Counterpart: r.To, CreatedAt: r.CreatedAt})
		}
	}
	return pending, nil
}
