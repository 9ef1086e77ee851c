package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// OAuthStateKey is the Redis key prefix for pending OAuth CSRF state tokens.
const OAuthStateKey = "oauth:state:"

// RedisOAuthStateStore is a one-time-use, TTL-bounded state store (CSRF
// protection for the OAuth authorize/callback round trip), backed by
// Redis SET/GETDEL so a state value can never be replayed.
type RedisOAuthStateStore struct {
	client *redis.Client
}

func NewRedisOAuthStateStore(client *redis.Client) *RedisOAuthStateStore {
	return &RedisOAuthStateStore{client: client}
}

// StoreState records which userID initiated the flow for this state value.
func (s *RedisOAuthStateStore) StoreState(ctx context.Context, state, userID string, ttl time.Duration) error {
	if state == "" {
		return errors.New("state cannot be empty")
	}
	if userID == "" {
		return errors.New("userID cannot be empty")
	}

	key := OAuthStateKey + state
	if err := s.client.Set(ctx, key, userID, ttl).Err(); err != nil {
		return fmt.Errorf("failed to store OAuth state: %w", err)
	}
	return nil
}

// ValidateState fetches and deletes the state atomically, preventing reuse.
func (s *RedisOAuthStateStore) ValidateState(ctx context.Context, state string) (string, error) {
	if state == "" {
		return "", errors.New("state cannot be empty")
	}

	key := OAuthStateKey + state
	userID, err := s.client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return "", errors.New("state not found or expired")
	}
	if err != nil {
		return "", fmt.Errorf("failed to validate OAuth state: %w", err)
	}
	return userID, nil
}

// CleanupExpiredStates is a no-op: Redis TTL already reaps expired keys.
// Kept for symmetry with stores that need explicit janitor sweeps.
func (s *RedisOAuthStateStore) CleanupExpiredStates(ctx context.Context) error {
	return nil
}
