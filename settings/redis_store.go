package settings

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps the bag in a single Redis hash.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store from a Redis URL such as "redis://localhost:6379/0".
func NewRedisStore(url, key string) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid Redis URL: %w", err)
	}
	return NewRedisStoreWithClient(redis.NewClient(opts), key), nil
}

func NewRedisStoreWithClient(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

func (r *RedisStore) DSN() string {
	return fmt.Sprintf("redis://%s", r.client.Options().Addr)
}

func (r *RedisStore) Load(ctx context.Context) (Settings, error) {
	values, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Settings{}, fmt.Errorf("reading %s: %w", r.key, err)
	}
	return New(values), nil
}

// Save replaces the hash in one MULTI/EXEC transaction.
func (r *RedisStore) Save(ctx context.Context, s Settings) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.key)
		if s.Len() != 0 {
			pipe.HSet(ctx, r.key, s.Map())
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("writing %s: %w", r.key, err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
