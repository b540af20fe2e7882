package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/trainfriends/backend/internal/middleware"
)

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	Users          UserStore
	Sessions       SessionManager
	Friends        FriendGraph
	Locations      LocationService
	Events         EventBroker
	DB             Pinger
	AuthLimiter    middleware.RateLimiter
	AllowedOrigins []string
	CookieSecure   bool
}

// NewRouter builds the chi router with request logging, CORS and every route.
func NewRouter(logger zerolog.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logger))

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           int((10 * time.Minute).Seconds()),
	}))

	RegisterRoutes(r, deps)
	return r
}

// RegisterRoutes wires HTTP handlers into the provided router.
func RegisterRoutes(r chi.Router, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions, Events: deps.Events, CookieSecure: deps.CookieSecure}
	friends := FriendHandler{Friends: deps.Friends}
	locations := LocationHandler{Locations: deps.Locations}
	streams := EventHandler{Events: deps.Events, AllowedOrigins: deps.AllowedOrigins}

	r.Get("/healthz", health.Handle)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.With(middleware.Limit(deps.AuthLimiter, "signup")).Post("/signup", auth.SignUp)
	r.With(middleware.Limit(deps.AuthLimiter, "login")).Post("/login", auth.Login)
	r.Post("/logout", auth.Logout)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireSession(deps.Sessions))

		r.Get("/auth/check", auth.Check)
		r.Delete("/account", auth.DeleteAccount)

		r.Post("/friend-request/create", friends.Create)
		r.Post("/friend-request", friends.Create)
		r.Post("/friend-request/{id}/{decision}", friends.Respond)
		r.Get("/friend-requests", friends.ListPending)
		r.Get("/friends", friends.List)
		r.Delete("/friends/{username}", friends.Remove)

		r.Post("/location", locations.Push)
		r.Post("/notify-friends", locations.NotifyFriends)

		r.Get("/events", streams.SSE)
		r.Get("/events/ws", streams.WebSocket)
	})
}
