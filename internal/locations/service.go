// Package locations records position reports and fans them out to friends.
package locations

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/trainfriends/backend/internal/apperr"
	"github.com/trainfriends/backend/internal/events"
	"github.com/trainfriends/backend/internal/logging"
	"github.com/trainfriends/backend/internal/metrics"
	"github.com/trainfriends/backend/internal/models"
	"github.com/trainfriends/backend/internal/repositories"
)

// FriendLister returns the current friends of a user.
type FriendLister interface {
	ListFriends(ctx context.Context, user string) ([]string, error)
}

// Publisher delivers events to a user's live streams without blocking.
type Publisher interface {
	Publish(user string, ev events.Event) int
}

// Service is the location ledger's write path.
type Service struct {
	ledger    repositories.LocationRepository
	friends   FriendLister
	publisher Publisher
	now       func() time.Time
}

// NewService wires a Service.
func NewService(ledger repositories.LocationRepository, friends FriendLister, publisher Publisher) *Service {
	return &Service{
		ledger:    ledger,
		friends:   friends,
		publisher: publisher,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithNowFunc allows tests to override the time source.
func (s *Service) WithNowFunc(now func() time.Time) *Service {
	s.now = now
	return s
}

// Validate checks that a coordinate pair lies on the globe.
func Validate(latitude, longitude float64) error {
	if math.IsNaN(latitude) || math.IsNaN(longitude) {
		return fmt.Errorf("%w: coordinates must be numbers", apperr.ErrInvalidArgument)
	}
	if latitude < -90 || latitude > 90 {
		return fmt.Errorf("%w: latitude %v out of range", apperr.ErrInvalidArgument, latitude)
	}
	if longitude < -180 || longitude > 180 {
		return fmt.Errorf("%w: longitude %v out of range", apperr.ErrInvalidArgument, longitude)
	}
	return nil
}

// Record stores a single position for user and returns the stored row.
func (s *Service) Record(ctx context.Context, user string, latitude, longitude float64) (models.Location, error) {
	if err := Validate(latitude, longitude); err != nil {
		return models.Location{}, err
	}

	location, err := s.ledger.Record(ctx, models.Location{
		Owner:      user,
		Latitude:   latitude,
		Longitude:  longitude,
		RecordedAt: s.now(),
	})
	if err != nil {
		return models.Location{}, fmt.Errorf("record location: %w", err)
	}
	return location, nil
}

// Push records the caller's position, publishes it to every current friend and returns
// the friends' retained rows.
func (s *Service) Push(ctx context.Context, caller string, latitude, longitude float64) ([]models.Location, error) {
	ctx, span := logging.StartSpan(ctx, "locations.push")
	defer span.End()

	location, err := s.Record(ctx, caller, latitude, longitude)
	if err != nil {
		return nil, err
	}
	metrics.LocationPushes.Inc()

	friends, err := s.friends.ListFriends(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	update := events.LocationUpdate(caller, location.Latitude, location.Longitude, location.RecordedAt)
	delivered := 0
	for _, friend := range friends {
		delivered += s.publisher.Publish(friend, update)
	}

	logging.FromContext(ctx).Debug().
		Int("friends", len(friends)).
		Int("delivered", delivered).
		Msg("location pushed")

	return s.RecentFor(ctx, friends)
}

// RecentFor returns every retained row owned by users.
func (s *Service) RecentFor(ctx context.Context, users []string) ([]models.Location, error) {
	if len(users) == 0 {
		return []models.Location{}, nil
	}
	rows, err := s.ledger.RecentFor(ctx, users)
	if err != nil {
		return nil, fmt.Errorf("load recent locations: %w", err)
	}
	return rows, nil
}

// NotifyNearby publishes a nearby event to each target that is a friend of caller and
// returns the sorted list of notified friends. Other targets are skipped.
func (s *Service) NotifyNearby(ctx context.Context, caller string, targets []string) ([]string, error) {
	friends, err := s.friends.ListFriends(ctx, caller)
	if err != nil {
		return nil, fmt.Errorf("list friends: %w", err)
	}

	ev := events.Nearby(caller, s.now())
	notified := []string{}
	for _, target := range targets {
		if !slices.Contains(friends, target) || slices.Contains(notified, target) {
			continue
		}
		s.publisher.Publish(target, ev)
		notified = append(notified, target)
	}
	slices.Sort(notified)

	logging.FromContext(ctx).Info().Strs("notified", notified).Msg("nearby notification sent")
	return notified, nil
}
