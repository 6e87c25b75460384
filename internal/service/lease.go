package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ridepool/internal/observability"
	"ridepool/internal/redis"
)

const (
	leasePollInterval   = 20 * time.Millisecond
	leaseReleaseTimeout = 2 * time.Second
)

// GroupLocker serializes read-modify-write cycles on a single group.
type GroupLocker interface {
	// Lock blocks until the group lease is held and returns its release func.
	Lock(ctx context.Context, groupID string) (unlock func(), err error)
}

// RedisGroupLocker implements GroupLocker on top of a token-checked redis lease.
type RedisGroupLocker struct {
	store  redis.LockStoreInterface
	ttl    time.Duration
	wait   time.Duration
	logger *slog.Logger
}

// NewRedisGroupLocker creates a locker. ttl bounds how long a crashed holder
// blocks the group; wait bounds how long Lock polls before giving up.
func NewRedisGroupLocker(store redis.LockStoreInterface, ttl, wait time.Duration, logger *slog.Logger) *RedisGroupLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisGroupLocker{store: store, ttl: ttl, wait: wait, logger: logger}
}

// Lock acquires the lease for groupID, polling until wait elapses.
func (l *RedisGroupLocker) Lock(ctx context.Context, groupID string) (func(), error) {
	start := time.Now()
	deadline := start.Add(l.wait)

	for {
		token, ok, err := l.store.AcquireGroupLock(ctx, groupID, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire group lease: %w", err)
		}
		if ok {
			observability.GroupLockWait.Observe(time.Since(start).Seconds())
			return func() { l.release(groupID, token) }, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrGroupBusy
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(leasePollInterval):
		}
	}
}

func (l *RedisGroupLocker) release(groupID, token string) {
	// Released even when the caller's context is already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), leaseReleaseTimeout)
	defer cancel()
	if err := l.store.ReleaseGroupLock(ctx, groupID, token); err != nil {
		l.logger.Warn("failed to release group lease", "group_id", groupID, "error", err)
	}
}
