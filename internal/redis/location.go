package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

const rideSourceKey = "rides:open:sources"

// RideLocation is the indexed source point of an open ride.
type RideLocation struct {
	RideID string
	Lat    float64
	Lng    float64
}

// LocationStore keeps a geo index of the source points of open rides.
type LocationStore struct {
	client *redis.Client
}

// NewLocationStore creates a new LocationStore.
func NewLocationStore(client *redis.Client) *LocationStore {
	return &LocationStore{client: client}
}

// AddRide indexes a ride's source point using GEOADD.
func (s *LocationStore) AddRide(ctx context.Context, rideID string, lat, lng float64) error {
	return s.client.GeoAdd(ctx, rideSourceKey, &redis.GeoLocation{
		Name:      rideID,
		Longitude: lng,
		Latitude:  lat,
	}).Err()
}

// FindNearbyRides returns rides whose source lies within radiusKm of the point.
func (s *LocationStore) FindNearbyRides(ctx context.Context, lat, lng, radiusKm float64) ([]RideLocation, error) {
	results, err := s.client.GeoRadius(ctx, rideSourceKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}

	locations := make([]RideLocation, 0, len(results))
	for _, r := range results {
		locations = append(locations, RideLocation{
			RideID: r.Name,
			Lat:    r.Latitude,
			Lng:    r.Longitude,
		})
	}

	return locations, nil
}

// ReplaceRides swaps the whole index for locs in one transaction.
func (s *LocationStore) ReplaceRides(ctx context.Context, locs []RideLocation) error {
	if len(locs) == 0 {
		return s.client.Del(ctx, rideSourceKey).Err()
	}
	members := make([]*redis.GeoLocation, len(locs))
	for i, l := range locs {
		members[i] = &redis.GeoLocation{Name: l.RideID, Longitude: l.Lng, Latitude: l.Lat}
	}

	staging := rideSourceKey + ":rebuild"
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, staging)
		pipe.GeoAdd(ctx, staging, members...)
		pipe.Rename(ctx, staging, rideSourceKey)
		return nil
	})
	return err
}

// RemoveRides drops rides from the geo index.
func (s *LocationStore) RemoveRides(ctx context.Context, rideIDs ...string) error {
	if len(rideIDs) == 0 {
		return nil
	}
	members := make([]any, len(rideIDs))
	for i, id := range rideIDs {
		members[i] = id
	}
	return s.client.ZRem(ctx, rideSourceKey, members...).Err()
}
