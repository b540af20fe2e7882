package handlers

import (
	"net/http"
	"time"

	"github.com/trainfriends/backend/internal/auth"
)

// LocationHandler accepts position reports and nearby notifications.
type LocationHandler struct {
	Locations LocationService
}

// Push handles POST /location and returns the caller's friends' retained positions.
func (h LocationHandler) Push(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)

	var req locationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	rows, err := h.Locations.Push(ctx, id.User, *req.Latitude, *req.Longitude)
	if err != nil {
		respondError(ctx, w, err)
		return
	}

	out := make([]friendLocation, 0, len(rows))
	for _, row := range rows {
		out = append(out, friendLocation{
			Username:   row.Owner,
			Location:   coordinates{Latitude: row.Latitude, Longitude: row.Longitude},
			RecordedAt: row.RecordedAt,
		})
	}
	respondJSON(ctx, w, http.StatusOK, out)
}

// NotifyFriends handles POST /notify-friends.
func (h LocationHandler) NotifyFriends(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, _ := auth.IdentityFromContext(ctx)

	var req notifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(ctx, w, err)
		return
	}

	notified, err := h.Locations.NotifyNearby(ctx, id.User, req.Friends)
	if err != nil {
		respondError(ctx, w, err)
		return
	}
	respondJSON(ctx, w, http.StatusOK, notifyResponse{Notified: notified})
}

type locationRequest struct {
	Latitude  *float64 `json:"latitude" validate:"required,latitude"`
	Longitude *float64 `json:"longitude" validate:"required,longitude"`
}

type coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type friendLocation struct {
	Username   string      `json:"username"`
	Location   coordinates `json:"location"`
	RecordedAt time.Time   `json:"recordedAt"`
}

type notifyRequest struct {
	Friends []string `json:"friends" validate:"required,min=1,max=100,dive,required"`
}

type notifyResponse struct {
	Notified []string `json:"notified"`
}
