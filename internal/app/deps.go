package app

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/trainfriends/backend/internal/auth"
	"github.com/trainfriends/backend/internal/config"
	"github.com/trainfriends/backend/internal/db"
	"github.com/trainfriends/backend/internal/events"
	"github.com/trainfriends/backend/internal/friends"
	"github.com/trainfriends/backend/internal/handlers"
	"github.com/trainfriends/backend/internal/locations"
	"github.com/trainfriends/backend/internal/middleware"
	"github.com/trainfriends/backend/internal/reaper"
	"github.com/trainfriends/backend/internal/repositories"
)

// authLimiterTTL is how long an idle client key stays in the signup/login limiter.
const authLimiterTTL = 10 * time.Minute

// storage is the selected persistence backend plus what must happen when the process stops.
type storage struct {
	repos  repositories.Store
	pinger handlers.Pinger
	close  func()
}

// openStorage selects the backend named by cfg.Storage. Postgres is migrated before the
// pool is opened so that a fresh database serves requests immediately.
func openStorage(ctx context.Context, cfg config.Config, logger zerolog.Logger) (storage, error) {
	if cfg.Storage == config.StorageMemory {
		logger.Warn().Msg("using in-memory storage; all data is lost on exit")
		return storage{repos: repositories.NewMemoryStore().Store(), close: func() {}}, nil
	}

	command := db.MigrateUp
	if cfg.ResetOnStart {
		logger.Warn().Msg("resetting database schema")
		command = db.MigrateReset
	}
	if err := db.Migrate(ctx, cfg.DatabaseURL, command, logger); err != nil {
		return storage{}, err
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return storage{}, err
	}
	return storage{repos: repositories.NewPostgresStore(pool), pinger: pool, close: pool.Close}, nil
}

// components holds everything the supervisor tree runs.
type components struct {
	broker  *events.Broker
	handler http.Handler
	sweeps  []*reaper.Task
}

// buildComponents wires together concrete implementations used by the HTTP handlers and
// the background sweeps.
func buildComponents(cfg config.Config, store storage, logger zerolog.Logger) components {
	broker := events.NewBroker(events.Options{
		Capacity:  cfg.QueueCapacity,
		KeepAlive: cfg.KeepAlive(),
	})
	graph := friends.NewGraph(store.repos.Friends)

	deps := handlers.Dependencies{
		Users:          store.repos.Users,
		Sessions:       auth.NewManager(store.repos.Sessions),
		Friends:        graph,
		Locations:      locations.NewService(store.repos.Locations, graph, broker),
		Events:         broker,
		DB:             store.pinger,
		AuthLimiter:    middleware.NewKeyedRateLimiter(cfg.AuthRateLimitPerMinute, cfg.AuthRateLimitPerMinute, authLimiterTTL),
		AllowedOrigins: cfg.AllowedOrigins,
		CookieSecure:   cfg.CookieSecure,
	}

	sweepCfg := reaper.Config{
		Interval: cfg.ReapInterval(),
		Logger:   logger,
	}

	return components{
		broker:  broker,
		handler: handlers.NewRouter(logger, deps),
		sweeps: []*reaper.Task{
			reaper.NewSessionSweep(store.repos.Sessions, cfg.SessionMaxAge(), sweepCfg),
			reaper.NewLocationSweep(store.repos.Locations, cfg.LocationRetention(), sweepCfg),
		},
	}
}
