package routing

import (
	"context"
	"encoding/json"
	"log/slog"

	"ridepool/internal/domain"
)

// RouteCache stores routing payloads by coordinate key.
type RouteCache interface {
	GetRoute(ctx context.Context, key string) ([]byte, bool, error)
	SetRoute(ctx context.Context, key string, payload []byte) error
}

// CachingOracle serves repeated coordinate lists from a cache.
type CachingOracle struct {
	next   Oracle
	cache  RouteCache
	logger *slog.Logger
}

// NewCachingOracle wraps next with cache.
func NewCachingOracle(next Oracle, cache RouteCache, logger *slog.Logger) *CachingOracle {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachingOracle{next: next, cache: cache, logger: logger}
}

// Directions returns a cached payload or asks the wrapped oracle. Cache
// failures are logged and never fail the call.
func (o *CachingOracle) Directions(ctx context.Context, coords []domain.Point) (json.RawMessage, error) {
	key := formatCoords(coords)

	if payload, ok, err := o.cache.GetRoute(ctx, key); err != nil {
		o.logger.Warn("route cache read failed", "error", err)
	} else if ok {
		return json.RawMessage(payload), nil
	}

	payload, err := o.next.Directions(ctx, coords)
	if err != nil {
		return nil, err
	}

	if err := o.cache.SetRoute(ctx, key, payload); err != nil {
		o.logger.Warn("route cache write failed", "error", err)
	}
	return payload, nil
}
