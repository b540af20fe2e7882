package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrations embed.FS

const migrationsDir = "migrations"

// Migration commands accepted by Migrate.
const (
	MigrateUp     = "up"
	MigrateStatus = "status"
	MigrateReset  = "reset"
)

const (
	migrationMaxRetries  = 3
	migrationBaseBackoff = 100 * time.Millisecond
	migrationMaxBackoff  = 3 * time.Second
)

var retryablePgErrorCodes = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

var gooseOnce sync.Once

// Migrate runs a goose command against the database behind databaseURL using the embedded
// migrations. MigrateReset drops every table and re-applies all migrations.
func Migrate(ctx context.Context, databaseURL, command string, logger zerolog.Logger) error {
	var setupErr error
	gooseOnce.Do(func() {
		goose.SetBaseFS(migrations)
		setupErr = goose.SetDialect("postgres")
	})
	if setupErr != nil {
		return fmt.Errorf("configure goose: %w", setupErr)
	}
	goose.SetLogger(gooseLogger{logger: logger})

	sqlDB, err := goose.OpenDBWithDriver("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("open migration connection: %w", err)
	}
	defer sqlDB.Close()

	var run func(context.Context, *sql.DB) error
	switch command {
	case MigrateUp, "":
		command = MigrateUp
		run = func(ctx context.Context, sqlDB *sql.DB) error {
			return goose.UpContext(ctx, sqlDB, migrationsDir)
		}
	case MigrateStatus:
		run = func(ctx context.Context, sqlDB *sql.DB) error {
			return goose.StatusContext(ctx, sqlDB, migrationsDir)
		}
	case MigrateReset:
		run = func(ctx context.Context, sqlDB *sql.DB) error {
			if err := goose.ResetContext(ctx, sqlDB, migrationsDir); err != nil {
				return err
			}
			return goose.UpContext(ctx, sqlDB, migrationsDir)
		}
	default:
		return fmt.Errorf("unknown migrate command %q", command)
	}

	if err := runWithRetry(ctx, logger, func() error { return run(ctx, sqlDB) }); err != nil {
		return fmt.Errorf("migrate %s: %w", command, err)
	}
	return nil
}

// runWithRetry repeats fn with exponential backoff while it fails with a transient error.
// Every goose command is safe to repeat because each migration runs in its own transaction.
func runWithRetry(ctx context.Context, logger zerolog.Logger, fn func() error) error {
	var err error
	for attempt := 0; attempt < migrationMaxRetries; attempt++ {
		if attempt > 0 {
			backoff := migrationBaseBackoff << (attempt - 1)
			if backoff > migrationMaxBackoff {
				backoff = migrationMaxBackoff
			}
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn()
		if err == nil || !shouldRetryMigration(err) {
			return err
		}
		logger.Warn().Err(err).
			Int("attempt", attempt+1).
			Int("max_attempts", migrationMaxRetries).
			Msg("transient migration error")
	}
	return fmt.Errorf("exceeded max retries (%d): %w", migrationMaxRetries, err)
}

func shouldRetryMigration(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if _, ok := retryablePgErrorCodes[pgErr.Code]; ok {
			return true
		}
	}

	return errors.Is(err, pgx.ErrTxClosed)
}

type gooseLogger struct {
	logger zerolog.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Info().Str("component", "goose").Msgf(format, v...)
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Fatal().Str("component", "goose").Msgf(format, v...)
}
