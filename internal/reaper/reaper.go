// Package reaper runs the periodic sweeps that expire old sessions and location rows.
package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/trainfriends/backend/internal/logging"
	"github.com/trainfriends/backend/internal/metrics"
)

// Defaults applied when a Config or constructor argument is zero.
const (
	DefaultInterval          = 60 * time.Second
	DefaultSweepTimeout      = 10 * time.Second
	DefaultSessionMaxAge     = 30 * 24 * time.Hour
	DefaultLocationRetention = 15 * time.Minute
)

// SessionDeleter removes sessions created before a cutoff.
type SessionDeleter interface {
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// LocationDeleter removes location rows recorded before a cutoff.
type LocationDeleter interface {
	DeleteRecordedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Config tunes a Task. Zero values select the defaults.
type Config struct {
	Interval     time.Duration
	SweepTimeout time.Duration
	Now          func() time.Time
	Logger       zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.SweepTimeout <= 0 {
		c.SweepTimeout = DefaultSweepTimeout
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Task deletes rows older than maxAge every interval. It implements suture.Service.
type Task struct {
	name   string
	maxAge time.Duration
	delete func(ctx context.Context, cutoff time.Time) (int64, error)
	cfg    Config
}

// NewSessionSweep returns the task that removes sessions older than maxAge.
func NewSessionSweep(store SessionDeleter, maxAge time.Duration, cfg Config) *Task {
	if maxAge <= 0 {
		maxAge = DefaultSessionMaxAge
	}
	return newTask("session-sweep", maxAge, store.DeleteCreatedBefore, cfg)
}

// NewLocationSweep returns the task that removes location rows older than retention.
func NewLocationSweep(store LocationDeleter, retention time.Duration, cfg Config) *Task {
	if retention <= 0 {
		retention = DefaultLocationRetention
	}
	return newTask("location-sweep", retention, store.DeleteRecordedBefore, cfg)
}

func newTask(name string, maxAge time.Duration, del func(context.Context, time.Time) (int64, error), cfg Config) *Task {
	cfg = cfg.withDefaults()
	cfg.Logger = cfg.Logger.With().Str("task", name).Logger()
	return &Task{name: name, maxAge: maxAge, delete: del, cfg: cfg}
}

// Serve sweeps once immediately and then once per interval until ctx ends. Sweep
// failures are logged and do not stop the loop.
func (t *Task) Serve(ctx context.Context) error {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := t.SweepOnce(ctx); err != nil {
			t.cfg.Logger.Error().Err(err).Msg("sweep failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SweepOnce deletes every row older than the cutoff and returns how many were removed.
// The delete runs detached from ctx's cancellation so that shutdown never interrupts a
// sweep that already started.
func (t *Task) SweepOnce(ctx context.Context) (int64, error) {
	sweepCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.SweepTimeout)
	defer cancel()
	sweepCtx = logging.WithLogger(sweepCtx, t.cfg.Logger)

	cutoff := t.Cutoff()
	removed, err := t.delete(sweepCtx, cutoff)
	if err != nil {
		metrics.ReaperSweeps.WithLabelValues(t.name, "error").Inc()
		return 0, fmt.Errorf("%s: %w", t.name, err)
	}

	metrics.ReaperSweeps.WithLabelValues(t.name, "ok").Inc()
	metrics.ReaperRowsDeleted.WithLabelValues(t.name).Add(float64(removed))
	if removed > 0 {
		t.cfg.Logger.Info().Int64("removed", removed).Time("cutoff", cutoff).Msg("sweep removed rows")
	}
	return removed, nil
}

// Cutoff is the instant before which rows are considered expired.
func (t *Task) Cutoff() time.Time {
	return t.cfg.Now().Add(-t.maxAge)
}

// String names the task for supervisor logs.
func (t *Task) String() string {
	return t.name
}
