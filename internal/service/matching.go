package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"ridepool/internal/config"
	"ridepool/internal/domain"
	"ridepool/internal/geo"
	"ridepool/internal/observability"
	"ridepool/internal/redis"
	"ridepool/internal/repository"
)

// MatchingServiceInterface defines the matching service contract.
// This interface allows for testing with mock implementations.
type MatchingServiceInterface interface {
	FindMatches(ctx context.Context, req MatchRequest) ([]*domain.Ride, error)
}

// Ensure MatchingService implements MatchingServiceInterface.
var _ MatchingServiceInterface = (*MatchingService)(nil)

// MatchingService finds open rides that could share a vehicle with a given ride.
type MatchingService struct {
	locationStore redis.LocationStoreInterface
	rideCache     redis.RideCacheInterface
	rideRepo      repository.RideRepository
	cfg           config.MatchingConfig
	logger        *slog.Logger
}

// NewMatchingService creates a new MatchingService. rideCache may be nil.
func NewMatchingService(
	locationStore redis.LocationStoreInterface,
	rideCache redis.RideCacheInterface,
	rideRepo repository.RideRepository,
	cfg config.MatchingConfig,
	logger *slog.Logger,
) *MatchingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &MatchingService{
		locationStore: locationStore,
		rideCache:     rideCache,
		rideRepo:      rideRepo,
		cfg:           cfg,
		logger:        logger,
	}
}

// MatchRequest contains the parameters for a match query.
type MatchRequest struct {
	RideID string
	// CheckOverlap enables the route intersection and bearing pass.
	CheckOverlap bool
}

// matchSet keeps discovery order while deduplicating by ride ID.
type matchSet struct {
	seen  map[string]struct{}
	rides []*domain.Ride
}

func (m *matchSet) add(r *domain.Ride) {
	if _, ok := m.seen[r.ID]; ok {
		return
	}
	m.seen[r.ID] = struct{}{}
	m.rides = append(m.rides, r)
}

// FindMatches returns the open rides compatible with req.RideID. The result
// has no defined order.
func (s *MatchingService) FindMatches(ctx context.Context, req MatchRequest) (rides []*domain.Ride, err error) {
	start := time.Now()
	defer func() {
		observability.MatchLatency.Observe(time.Since(start).Seconds())
		observability.MatchRequestsTotal.WithLabelValues(matchResultLabel(err)).Inc()
		if err == nil {
			observability.MatchResultSize.Observe(float64(len(rides)))
		}
	}()

	if req.RideID == "" {
		return nil, ErrInvalidRideID
	}
	ride, err := s.rideRepo.GetByID(ctx, req.RideID)
	if err != nil {
		return nil, err
	}
	if !ride.HasValidLocations() {
		return nil, fmt.Errorf("%w: ride %s", domain.ErrInvalidCoordinates, ride.ID)
	}

	src, dst := ride.SourceLocation, ride.DestinationLocation
	radiusKm := s.cfg.RadiusFraction * geo.HaversineKm(src.Lat, src.Lng, dst.Lat, dst.Lng)
	matches := &matchSet{seen: make(map[string]struct{})}

	// Pass 1: sources near our source, then destinations near our destination.
	candidates, err := s.nearbyCandidates(ctx, ride, radiusKm)
	if err != nil {
		return nil, err
	}
	for _, c := range candidates {
		if !s.eligible(ride, c) || !c.HasValidLocations() {
			continue
		}
		if geo.HaversineKm(src.Lat, src.Lng, c.SourceLocation.Lat, c.SourceLocation.Lng) > radiusKm {
			continue
		}
		if geo.HaversineKm(dst.Lat, dst.Lng, c.DestinationLocation.Lat, c.DestinationLocation.Lng) > radiusKm {
			continue
		}
		matches.add(c)
	}

	// Pass 2: routes that cross ours heading the same way.
	if req.CheckOverlap {
		if err := s.overlapPass(ctx, ride, matches); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("ride matches computed",
		"ride_id", ride.ID,
		"radius_km", radiusKm,
		"proximity_candidates", len(candidates),
		"matches", len(matches.rides),
	)
	return matches.rides, nil
}

func (s *MatchingService) overlapPass(ctx context.Context, ride *domain.Ride, matches *matchSet) error {
	first, last, ok := ride.Route.Endpoints()
	if !ok {
		return nil
	}
	bearing := geo.InitialBearing(first.Lat, first.Lng, last.Lat, last.Lng)

	crossing, err := s.rideRepo.FindOpenIntersecting(ctx, repository.IntersectQuery{
		Route:         ride.Route,
		ExcludeUserID: ride.UserID,
		From:          ride.Datetime.Add(-s.cfg.TimeWindow),
		To:            ride.Datetime.Add(s.cfg.TimeWindow),
	})
	if err != nil {
		return err
	}

	for _, c := range crossing {
		if !s.eligible(ride, c) {
			continue
		}
		cFirst, cLast, ok := c.Route.Endpoints()
		if !ok {
			continue
		}
		cBearing := geo.InitialBearing(cFirst.Lat, cFirst.Lng, cLast.Lat, cLast.Lng)
		if geo.BearingDifference(bearing, cBearing) <= s.cfg.BearingThreshold {
			matches.add(c)
		}
	}
	return nil
}

// nearbyCandidates returns rides whose source is near ride's source. The
// redis index answers first; postgres answers when the index fails or holds
// nothing but the ride itself.
func (s *MatchingService) nearbyCandidates(ctx context.Context, ride *domain.Ride, radiusKm float64) ([]*domain.Ride, error) {
	src := ride.SourceLocation
	hits, err := s.locationStore.FindNearbyRides(ctx, src.Lat, src.Lng, radiusKm)
	if err != nil {
		s.logger.Warn("ride geo index unavailable, querying the database", "ride_id", ride.ID, "error", err)
	} else if slices.ContainsFunc(hits, func(h redis.RideLocation) bool { return h.RideID != ride.ID }) {
		return s.loadRides(ctx, hits)
	}

	rides, err := s.rideRepo.FindOpenNear(ctx, repository.NearQuery{
		Center:        src,
		RadiusKm:      radiusKm,
		ExcludeUserID: ride.UserID,
		From:          ride.Datetime.Add(-s.cfg.TimeWindow),
		To:            ride.Datetime.Add(s.cfg.TimeWindow),
	})
	if err != nil {
		return nil, err
	}
	s.cacheRides(ctx, rides)
	return rides, nil
}

// eligible applies the filters shared by both passes.
func (s *MatchingService) eligible(ride, c *domain.Ride) bool {
	if c.ID == ride.ID || c.UserID == ride.UserID {
		return false
	}
	if c.Status != domain.RideStatusOpen {
		return false
	}
	if !ride.GenderPreference.CompatibleWith(c.GenderPreference) {
		return false
	}
	diff := c.Datetime.Sub(ride.Datetime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= s.cfg.TimeWindow
}

// loadRides resolves geo index hits to rides, cache first, keeping index order.
// Hits whose ride no longer exists are skipped.
func (s *MatchingService) loadRides(ctx context.Context, hits []redis.RideLocation) ([]*domain.Ride, error) {
	if len(hits) == 0 {
		return nil, nil
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.RideID
	}

	found := make(map[string]*domain.Ride, len(ids))
	missing := ids
	if s.rideCache != nil {
		cached, miss, err := s.rideCache.GetRidesBatch(ctx, ids)
		if err != nil {
			s.logger.Warn("ride cache batch read failed", "error", err)
		} else {
			found, missing = cached, miss
		}
	}

	if len(missing) > 0 {
		fromDB, err := s.rideRepo.GetByIDs(ctx, missing)
		if err != nil {
			return nil, err
		}
		for _, r := range fromDB {
			found[r.ID] = r
		}
		s.cacheRides(ctx, fromDB)
	}

	out := make([]*domain.Ride, 0, len(found))
	for _, id := range ids {
		if r, ok := found[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *MatchingService) cacheRides(ctx context.Context, rides []*domain.Ride) {
	if s.rideCache == nil || len(rides) == 0 {
		return
	}
	if err := s.rideCache.SetRidesBatch(ctx, rides); err != nil {
		s.logger.Debug("ride cache batch write failed", "error", err)
	}
}

func matchResultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	default:
		return "error"
	}
}
