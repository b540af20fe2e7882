package repositories

import (
	"context"
	"time"

	"github.com/trainfriends/backend/internal/models"
)

// LocationRepository defines data access for the append-only location log.
type LocationRepository interface {
	Record(ctx context.Context, location models.Location) (models.Location, error)
	RecentFor(ctx context.Context, users []string) ([]models.Location, error)
	DeleteRecordedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
