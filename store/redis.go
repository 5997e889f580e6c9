package store

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the Redis-backed store used in deployments with an external
// Redis. TTL handling is native (SETEX / EXPIRE), bulk operations are
// pipelined.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to the given URL and verifies the connection once.
// A deployment whose Redis is down at startup still gets a working store
// object; every call simply degrades until Redis comes back.
func NewRedisStore(ctx context.Context, url string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return &RedisStore{client: client}, err
	}
	return &RedisStore{client: client}, nil
}

func (s *RedisStore) SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
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

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

func (s *RedisStore) RefreshTTL(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) error {
	pipe := s.client.Pipeline()
	pipe.SAdd(ctx, key, member)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) RemoveFromSet(ctx context.Context, key, member string) error {
	return s.client.SRem(ctx, key, member).Err()
}

func (s *RedisStore) Members(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *RedisStore) BulkGet(ctx context.Context, keys []string) ([]Result, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(keys))
	for i, key := range keys {
		cmds[i] = pipe.Get(ctx, key)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	results := make([]Result, len(keys))
	for i, cmd := range cmds {
		value, err := cmd.Result()
		if err != nil {
			continue // redis.Nil or a per-key failure counts as absent
		}
		results[i] = Result{Value: value, Ok: true}
	}
	return results, nil
}

func (s *RedisStore) BulkRefresh(ctx context.Context, keys []string, ttl time.Duration) error {
	if len(keys) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, key := range keys {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
