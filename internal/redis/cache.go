package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"ridepool/internal/domain"
)

// CacheStore handles entity and routing payload caching in Redis.
type CacheStore struct {
	client   *redis.Client
	routeTTL time.Duration
}

// NewCacheStore creates a new CacheStore. routeTTL bounds how long routing
// payloads are reused.
func NewCacheStore(client *redis.Client, routeTTL time.Duration) *CacheStore {
	return &CacheStore{client: client, routeTTL: routeTTL}
}

// RideCacheTTL is short because ride status changes on group commit.
const RideCacheTTL = 10 * time.Second

// Key prefixes
const (
	rideCachePrefix  = "cache:ride:"
	routeCachePrefix = "cache:route:"
)

// GetRide retrieves a ride from cache. A miss returns nil, nil.
func (s *CacheStore) GetRide(ctx context.Context, rideID string) (*domain.Ride, error) {
	data, err := s.client.Get(ctx, rideCachePrefix+rideID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil // Cache miss
		}
		return nil, err
	}

	var ride domain.Ride
	if err := json.Unmarshal(data, &ride); err != nil {
		return nil, err
	}
	return &ride, nil
}

// SetRide stores a ride in cache.
func (s *CacheStore) SetRide(ctx context.Context, ride *domain.Ride) error {
	data, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, rideCachePrefix+ride.ID, data, RideCacheTTL).Err()
}

// InvalidateRides removes rides from cache.
func (s *CacheStore) InvalidateRides(ctx context.Context, rideIDs ...string) error {
	if len(rideIDs) == 0 {
		return nil
	}
	keys := make([]string, len(rideIDs))
	for i, id := range rideIDs {
		keys[i] = rideCachePrefix + id
	}
	return s.client.Del(ctx, keys...).Err()
}

// GetRidesBatch retrieves multiple rides from cache using a pipeline.
// Returns a map of rideID -> Ride, and a slice of missing IDs.
func (s *CacheStore) GetRidesBatch(ctx context.Context, rideIDs []string) (map[string]*domain.Ride, []string, error) {
	result := make(map[string]*domain.Ride, len(rideIDs))
	if len(rideIDs) == 0 {
		return result, nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(rideIDs))
	for i, id := range rideIDs {
		cmds[i] = pipe.Get(ctx, rideCachePrefix+id)
	}

	// Exec reports redis.Nil when any key is missing; per-command results are checked below.
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return result, rideIDs, err
	}

	var missing []string
	for i, cmd := range cmds {
		data, err := cmd.Bytes()
		if err != nil {
			missing = append(missing, rideIDs[i])
			continue
		}

		var ride domain.Ride
		if err := json.Unmarshal(data, &ride); err != nil {
			missing = append(missing, rideIDs[i])
			continue
		}
		result[rideIDs[i]] = &ride
	}

	return result, missing, nil
}

// SetRidesBatch stores multiple rides in cache using a pipeline.
func (s *CacheStore) SetRidesBatch(ctx context.Context, rides []*domain.Ride) error {
	if len(rides) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for _, ride := range rides {
		data, err := json.Marshal(ride)
		if err != nil {
			continue
		}
		pipe.Set(ctx, rideCachePrefix+ride.ID, data, RideCacheTTL)
	}

	_, err := pipe.Exec(ctx)
	return err
}

// GetRoute returns a cached routing payload for key.
func (s *CacheStore) GetRoute(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, routeCachePrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// SetRoute caches a routing payload for key.
func (s *CacheStore) SetRoute(ctx context.Context, key string, payload []byte) error {
	return s.client.Set(ctx, routeCachePrefix+key, payload, s.routeTTL).Err()
}
