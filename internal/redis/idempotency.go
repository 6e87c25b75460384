package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	idempotencyPrefix = "idempotency:"
	// pendingMarker holds a key while the first request is still running.
	pendingMarker = "pending"
)

// StoredResponse is a response kept for replay to retried requests.
type StoredResponse struct {
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// IdempotencyStore keeps responses of mutating requests by idempotency key.
type IdempotencyStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewIdempotencyStore creates a store keeping completed responses for ttl.
func NewIdempotencyStore(client *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

// Begin claims key for lease. It returns the stored response when a request
// with the same key already completed, and claimed=false without a response
// while that request is still running.
func (s *IdempotencyStore) Begin(ctx context.Context, key string, lease time.Duration) (*StoredResponse, bool, error) {
	ok, err := s.client.SetNX(ctx, idempotencyPrefix+key, pendingMarker, lease).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}

	data, err := s.client.Get(ctx, idempotencyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			// The claim expired between the two calls; the caller retries.
			return nil, false, nil
		}
		return nil, false, err
	}
	if string(data) == pendingMarker {
		return nil, false, nil
	}

	var resp StoredResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, false, err
	}
	return &resp, false, nil
}

// Complete stores the response of a claimed key.
func (s *IdempotencyStore) Complete(ctx context.Context, key string, resp *StoredResponse) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, idempotencyPrefix+key, data, s.ttl).Err()
}

// Abandon releases a claimed key so the request can be retried.
func (s *IdempotencyStore) Abandon(ctx context.Context, key string) error {
	return s.client.Del(ctx, idempotencyPrefix+key).Err()
}
