// Package app assembles the TrainFriends service from configuration.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/trainfriends/backend/internal/config"
	"github.com/trainfriends/backend/internal/db"
	"github.com/trainfriends/backend/internal/httpserver"
	"github.com/trainfriends/backend/internal/logging"
	"github.com/trainfriends/backend/internal/supervisor"
)

// Serve runs the HTTP API and the reaper sweeps under one supervisor tree until ctx is
// canceled. Streams are closed when the server begins shutting down, and storage is
// released only after every service has returned.
func Serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	store, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.close()

	comps := buildComponents(cfg, store, logger)
	defer comps.broker.Close()

	srv := httpserver.New(cfg.AppPort, comps.handler, logger)
	srv.OnShutdown(comps.broker.Close)

	tree := supervisor.NewTree(logging.NewSlogLogger(logger), supervisor.DefaultTreeConfig())
	for _, sweep := range comps.sweeps {
		tree.AddWorker(sweep)
	}
	tree.AddAPI(srv)

	logger.Info().
		Int("port", cfg.AppPort).
		Str("storage", cfg.Storage).
		Msg("starting supervisor tree")

	err = tree.Serve(ctx)

	unstopped, _ := tree.UnstoppedServiceReport()
	for _, svc := range unstopped {
		logger.Warn().Str("service", svc.Name).Msg("service failed to stop")
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("supervisor tree: %w", err)
	}
	logger.Info().Msg("application stopped gracefully")
	return nil
}

// Migrate runs a schema command (up, status or reset) against the configured database.
func Migrate(ctx context.Context, cfg config.Config, command string, logger zerolog.Logger) error {
	if cfg.Storage == config.StorageMemory {
		return errors.New("migrations require postgres storage")
	}
	return db.Migrate(ctx, cfg.DatabaseURL, command, logger)
}
