package queue

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client *redis.Client
}

// NewRedisStore accepts either host:port or a redis:// URL.
func NewRedisStore(host string) (*RedisStore, error) {
	options := &redis.Options{Addr: host}
	if strings.HasPrefix(host, "redis://") || strings.HasPrefix(host, "rediss://") {
		parsed, err := redis.ParseURL(host)
		if err != nil {
			return nil, errors.Wrap(err, "parse redis url")
		}
		options = parsed
	}
	return &RedisStore{client: redis.NewClient(options)}, nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	return s.client.Set(ctx, key, value, 0).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
