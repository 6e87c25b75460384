package redis

import (
	"context"
	"time"

	"ridepool/internal/domain"
)

// LocationStoreInterface defines the interface for the open ride geo index.
type LocationStoreInterface interface {
	AddRide(ctx context.Context, rideID string, lat, lng float64) error
	FindNearbyRides(ctx context.Context, lat, lng, radiusKm float64) ([]RideLocation, error)
	RemoveRides(ctx context.Context, rideIDs ...string) error
	ReplaceRides(ctx context.Context, locs []RideLocation) error
}

// LockStoreInterface defines the interface for distributed locking.
type LockStoreInterface interface {
	AcquireGroupLock(ctx context.Context, groupID string, ttl time.Duration) (string, bool, error)
	ReleaseGroupLock(ctx context.Context, groupID, token string) error
}

// RideCacheInterface defines the interface for the ride cache.
type RideCacheInterface interface {
	GetRide(ctx context.Context, rideID string) (*domain.Ride, error)
	SetRide(ctx context.Context, ride *domain.Ride) error
	InvalidateRides(ctx context.Context, rideIDs ...string) error
	GetRidesBatch(ctx context.Context, rideIDs []string) (map[string]*domain.Ride, []string, error)
	SetRidesBatch(ctx context.Context, rides []*domain.Ride) error
}

// Ensure concrete types implement interfaces.
var (
	_ LocationStoreInterface = (*LocationStore)(nil)
	_ LockStoreInterface     = (*LockStore)(nil)
	_ RideCacheInterface     = (*CacheStore)(nil)
)
