package token

import (
	"context"
	"fmt"
	"time"

	"certvault/internal/platform/redis"
)

const issuedKeyPrefix = "download-token:"

// RedisStore persists issued-token JTIs with their TTL so redemption works
// across replicas.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed issued-token store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Save(ctx context.Context, jti string, ttl time.Duration) error {
	if err := s.client.Set(ctx, issuedKeyPrefix+jti, "1", ttl).Err(); err != nil {
		return fmt.Errorf("save issued token: %w", err)
	}
	return nil
}

func (s *RedisStore) Valid(ctx context.Context, jti string) (bool, error) {
	count, err := s.client.Exists(ctx, issuedKeyPrefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("check issued token: %w", err)
	}
	return count > 0, nil
}
