package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/trainfriends/backend/internal/auth"
	"github.com/trainfriends/backend/internal/friends"
	"github.com/trainfriends/backend/internal/models"
)

// FriendHandler provides the friend request and friend list endpoints.
type FriendHandler struct {
	Friends FriendGraph
}

// Create handles POST /friend-request/create.
func (h FriendHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)

	var req friendRequestBody
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	requestID, err := h.Friends.CreateRequest(ctx, id.User, req.FriendUsername)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusCreated, idResponse{ID: requestID})
}

// Respond handles POST /friend-request/{id}/{decision}.
func (h FriendHandler) Respond(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)

	decision, err := friends.ParseDecision(chi.URLParam(r, "decision"))
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	requestID := chi.URLParam(r, "id")
	if err := h.Friends.Respond(ctx, id.User, requestID, decision); err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, decisionResponse{ID: requestID, Decision: string(decision)})
}

// List handles GET /friends.
func (h FriendHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)

	names, err := h.Friends.ListFriends(ctx, id.User)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	respondJSON(ctx, w, http.StatusOK, friendsResponse{Friends: names})
}

// ListPending handles GET /friend-requests.
func (h FriendHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)

	pending, err := h.Friends.ListPending(ctx, id.User)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, pendingResponse{
		RequestsToYou:   toPendingEntries(pending.Incoming),
		RequestsFromYou: toPendingEntries(pending.Outgoing),
	})
}

// Remove handles DELETE /friends/{username}.
func (h FriendHandler) Remove(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)

	if err := h.Friends.RemoveFriend(ctx, id.User, chi.URLParam(r, "username")); err != nil {
		respondError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toPendingEntries(requests []models.PendingRequest) []pendingEntry {
	out := make([]pendingEntry, 0, len(requests))
	for _, req := range requests {
		out = append(out, pendingEntry{ID: req.ID, FriendName: req.Counterpart, CreatedAt: req.CreatedAt})
	}
	return out
}

type friendRequestBody struct {
	FriendUsername string `json:"friendUsername" validate:"required"`
}

type idResponse struct {
	ID string `json:"id"`
}

type decisionResponse struct {
	ID       string `json:"id"`
	Decision string `json:"decision"`
}

type friendsResponse struct {
	Friends []string `json:"friends"`
}

type pendingEntry struct {
	ID         string    `json:"id"`
	FriendName string    `json:"friendName"`
	CreatedAt  time.Time `json:"createdAt"`
}

type pendingResponse struct {
	RequestsToYou   []pendingEntry `json:"requestsToYou"`
	RequestsFromYou []pendingEntry `json:"requestsFromYou"`
}
