package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nkiryanov/blogpress/internal/apperrors"
)

const keyPrefix = "blogpress"

// Connect to redis and verify the connection with PING
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url. Err: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis is not reachable: %w: %w", apperrors.ErrStorageUnavailable, err)
	}

	return client, nil
}

// Store keeps values as plain redis strings under "blogpress:<namespace>:<key>"
// Non-zero ttl applies to every written key: useful for session scoped namespaces
type Store struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

func NewStore(client redis.UniversalClient, namespace string, ttl time.Duration) *Store {
	return &Store{client: client, namespace: namespace, ttl: ttl}
}

func (s *Store) key(key string) string {
	return keyPrefix + ":" + s.namespace + ":" + key
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.Get(ctx, s.key(key)).Result()

	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, redis.Nil):
		return "", apperrors.ErrKeyNotFound
	default:
		return "", fmt.Errorf("redis error: %w: %w", apperrors.ErrStorageUnavailable, err)
	}
}

func (s *Store) Set(ctx context.Context, key string, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis error: %w: %w", apperrors.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	full := make([]string, 0, len(keys))
	for _, key := range keys {
		full = append(full, s.key(key))
	}

	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis error: %w: %w", apperrors.ErrStorageUnavailable, err)
	}
	return nil
}
