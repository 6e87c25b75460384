package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only when it is still held by the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LockStore handles distributed locking in Redis.
type LockStore struct {
	client *redis.Client
}

// NewLockStore creates a new LockStore.
func NewLockStore(client *redis.Client) *LockStore {
	return &LockStore{client: client}
}

func groupLockKey(groupID string) string {
	return fmt.Sprintf("lock:group:%s", groupID)
}

// AcquireGroupLock attempts to acquire the lease for the given group.
// It returns the holder token and true if the lease was acquired.
func (s *LockStore) AcquireGroupLock(ctx context.Context, groupID string, ttl time.Duration) (string, bool, error) {
	token := uuid.NewString()

	ok, err := s.client.SetNX(ctx, groupLockKey(groupID), token, ttl).Result()
	if err != nil {
		return "", false, err
	}

	return token, ok, nil
}

// ReleaseGroupLock releases the lease if token still holds it.
func (s *LockStore) ReleaseGroupLock(ctx context.Context, groupID, token string) error {
	return releaseScript.Run(ctx, s.client, []string{groupLockKey(groupID)}, token).Err()
}
