package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/syncengine/internal/domain/shared"
	"github.com/redis/go-redis/v9"
)

// DefaultDeliveryPrefix namespaces webhook delivery ids.
const DefaultDeliveryPrefix = "webhook:delivery:"

// RedisIdempotencyStore records handled webhook deliveries in Redis so that
// every server instance rejects the same redelivery.
type RedisIdempotencyStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisIdempotencyStore wraps a shared client. An empty prefix uses DefaultDeliveryPrefix.
func NewRedisIdempotencyStore(client *redis.Client, keyPrefix string) *RedisIdempotencyStore {
	if keyPrefix == "" {
		keyPrefix = DefaultDeliveryPrefix
	}
	return &RedisIdempotencyStore{client: client, keyPrefix: keyPrefix}
}

// MarkProcessed uses SET NX with the TTL so the check and the write are one operation.
func (s *RedisIdempotencyStore) MarkProcessed(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keyPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark delivery %s: %w", key, err)
	}
	return ok, nil
}

// IsProcessed checks whether the key exists
func (s *RedisIdempotencyStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.keyPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("check delivery %s: %w", key, err)
	}
	return n > 0, nil
}

// Close is a no-op; the client belongs to the Factory that created it.
func (s *RedisIdempotencyStore) Close() error {
	return nil
}

var _ shared.IdempotencyStore = (*RedisIdempotencyStore)(nil)
