package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"ridepool/internal/domain"
	"ridepool/internal/redis"
	"ridepool/internal/repository"
	"ridepool/internal/routing"
)

// RideService handles ride operations.
type RideService struct {
	rideRepo      repository.RideRepository
	groupRepo     repository.GroupRepository
	locationStore redis.LocationStoreInterface
	rideCache     redis.RideCacheInterface
	oracle        routing.Oracle
	logger        *slog.Logger
	now           func() time.Time
}

// NewRideService creates a new RideService. rideCache may be nil.
func NewRideService(
	rideRepo repository.RideRepository,
	groupRepo repository.GroupRepository,
	locationStore redis.LocationStoreInterface,
	rideCache redis.RideCacheInterface,
	oracle routing.Oracle,
	logger *slog.Logger,
) *RideService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RideService{
		rideRepo:      rideRepo,
		groupRepo:     groupRepo,
		locationStore: locationStore,
		rideCache:     rideCache,
		oracle:        oracle,
		logger:        logger,
		now:           time.Now,
	}
}

// CreateRideRequest contains the parameters for creating a ride.
type CreateRideRequest struct {
	UserID              string
	Source              string
	Destination         string
	SourceLocation      domain.Point
	DestinationLocation domain.Point
	Datetime            time.Time
	GenderPreference    domain.GenderPreference // Optional: defaults to Any
}

// CreateRide validates and stores a ride, fetching its road geometry when the
// routing provider is reachable.
func (s *RideService) CreateRide(ctx context.Context, req CreateRideRequest) (*domain.Ride, error) {
	if err := validateCreateRequest(&req); err != nil {
		return nil, err
	}

	now := s.now()
	ride := &domain.Ride{
		ID:                  uuid.New().String(),
		UserID:              req.UserID,
		Source:              req.Source,
		Destination:         req.Destination,
		SourceLocation:      req.SourceLocation,
		DestinationLocation: req.DestinationLocation,
		Datetime:            req.Datetime,
		GenderPreference:    req.GenderPreference,
		Status:              domain.RideStatusOpen,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	ride.Route = s.fetchRoute(ctx, ride)

	if err := s.rideRepo.Create(ctx, ride); err != nil {
		return nil, err
	}
	s.indexRide(ctx, ride)
	return ride, nil
}

// fetchRoute returns the ride's road geometry, or nil when unavailable. A
// ride without geometry is only excluded from the overlap pass.
func (s *RideService) fetchRoute(ctx context.Context, ride *domain.Ride) domain.LineString {
	if s.oracle == nil {
		return nil
	}
	payload, err := s.oracle.Directions(ctx, []domain.Point{ride.SourceLocation, ride.DestinationLocation})
	if err == nil {
		var line domain.LineString
		line, err = routing.RouteGeometry(payload)
		if err == nil {
			return line
		}
	}
	s.logger.Warn("ride route unavailable, storing without geometry", "ride_id", ride.ID, "error", err)
	return nil
}

func validateCreateRequest(req *CreateRideRequest) error {
	if req.UserID == "" {
		return ErrInvalidUserID
	}
	if !req.SourceLocation.Valid() {
		return ErrInvalidSourceLocation
	}
	if !req.DestinationLocation.Valid() {
		return ErrInvalidDestinationLocation
	}
	if req.Datetime.IsZero() {
		return ErrInvalidDatetime
	}
	if req.GenderPreference == "" {
		req.GenderPreference = domain.GenderAny
	}
	if !req.GenderPreference.Valid() {
		return ErrInvalidGenderPreference
	}
	return nil
}

// GetRide retrieves a ride, serving it from cache when possible.
func (s *RideService) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	if s.rideCache != nil {
		if cached, err := s.rideCache.GetRide(ctx, rideID); err == nil && cached != nil {
			return cached, nil
		}
	}

	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if s.rideCache != nil {
		_ = s.rideCache.SetRide(ctx, ride)
	}
	return ride, nil
}

// ListRides returns the rides owned by userID.
func (s *RideService) ListRides(ctx context.Context, userID string) ([]*domain.Ride, error) {
	if userID == "" {
		return nil, ErrInvalidUserID
	}
	return s.rideRepo.ListByUser(ctx, userID)
}

// ownedRide loads a ride and checks that userID owns it.
func (s *RideService) ownedRide(ctx context.Context, userID, rideID string) (*domain.Ride, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := s.rideRepo.GetByID(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if ride.UserID != userID {
		return nil, ErrRideNotOwned
	}
	return ride, nil
}

// UpdateRideTime reschedules a ride.
func (s *RideService) UpdateRideTime(ctx context.Context, userID, rideID string, datetime time.Time) (*domain.Ride, error) {
	if datetime.IsZero() {
		return nil, ErrInvalidDatetime
	}
	ride, err := s.ownedRide(ctx, userID, rideID)
	if err != nil {
		return nil, err
	}

	ride.Datetime = datetime
	ride.UpdatedAt = s.now()
	if err := s.rideRepo.Update(ctx, ride); err != nil {
		return nil, err
	}
	s.invalidate(ctx, ride.ID)
	return ride, nil
}

// UpdateRideStatus changes a ride's status and keeps the open ride index in step.
func (s *RideService) UpdateRideStatus(ctx context.Context, userID, rideID string, status domain.RideStatus) (*domain.Ride, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	ride, err := s.ownedRide(ctx, userID, rideID)
	if err != nil {
		return nil, err
	}
	if ride.Status == status {
		return ride, nil
	}
	// A ride held by an active group only leaves Open through finalize.
	if err := s.requireUnclaimed(ctx, ride.ID); err != nil {
		return nil, err
	}

	if err := s.rideRepo.UpdateStatus(ctx, []string{ride.ID}, status); err != nil {
		return nil, err
	}
	ride.Status = status
	ride.UpdatedAt = s.now()
	s.invalidate(ctx, ride.ID)
	s.indexRide(ctx, ride)
	return ride, nil
}

// DeleteRide removes a ride that is not held by an active group.
func (s *RideService) DeleteRide(ctx context.Context, userID, rideID string) error {
	ride, err := s.ownedRide(ctx, userID, rideID)
	if err != nil {
		return err
	}
	if err := s.requireUnclaimed(ctx, ride.ID); err != nil {
		return err
	}

	if err := s.rideRepo.Delete(ctx, ride.ID); err != nil {
		return err
	}
	ride.Status = domain.RideStatusCancelled
	s.indexRide(ctx, ride)
	s.invalidate(ctx, ride.ID)
	return nil
}

// requireUnclaimed fails when an open or locked group holds the ride.
func (s *RideService) requireUnclaimed(ctx context.Context, rideID string) error {
	groups, err := s.groupRepo.FindActiveByRide(ctx, rideID)
	if err != nil {
		return err
	}
	if len(groups) > 0 {
		return ErrRideInAnotherGroup
	}
	return nil
}

// GetRideGroup returns the closed group the ride was committed to.
func (s *RideService) GetRideGroup(ctx context.Context, rideID string) (*domain.Group, error) {
	if rideID == "" {
		return nil, ErrInvalidRideID
	}
	return s.groupRepo.FindClosedByRide(ctx, rideID)
}

// RebuildIndex replaces the geo index with the sources of every open ride.
func (s *RideService) RebuildIndex(ctx context.Context) (int, error) {
	rides, err := s.rideRepo.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	locs := make([]redis.RideLocation, 0, len(rides))
	for _, r := range rides {
		if !r.SourceLocation.Valid() {
			continue
		}
		locs = append(locs, redis.RideLocation{RideID: r.ID, Lat: r.SourceLocation.Lat, Lng: r.SourceLocation.Lng})
	}
	if err := s.locationStore.ReplaceRides(ctx, locs); err != nil {
		return 0, err
	}
	return len(locs), nil
}

// indexRide adds open rides to the geo index and removes all others.
func (s *RideService) indexRide(ctx context.Context, ride *domain.Ride) {
	var err error
	if ride.Status == domain.RideStatusOpen {
		err = s.locationStore.AddRide(ctx, ride.ID, ride.SourceLocation.Lat, ride.SourceLocation.Lng)
	} else {
		err = s.locationStore.RemoveRides(ctx, ride.ID)
	}
	if err != nil {
		s.logger.Warn("ride geo index update failed", "ride_id", ride.ID, "status", ride.Status, "error", err)
	}
}

func (s *RideService) invalidate(ctx context.Context, rideIDs ...string) {
	if s.rideCache == nil {
		return
	}
	if err := s.rideCache.InvalidateRides(ctx, rideIDs...); err != nil {
		s.logger.Debug("ride cache invalidation failed", "error", err)
	}
}
