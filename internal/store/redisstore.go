package store

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/heysubinoy/filekv/pkg/config"
	"github.com/heysubinoy/filekv/pkg/kv"
	"github.com/redis/go-redis/v9"
)

const redisPrefix = "filekv:"

// RedisStore keeps records as plain redis strings under a fixed prefix.
// SET and DEL are single commands, so redis applies them atomically.
type RedisStore struct {
	cli *redis.Client
}

// Compile-time check to ensure RedisStore implements kv.Store.
var _ kv.Store = (*RedisStore)(nil)

// NewRedisStore connects to redis and verifies the connection with PING.
func NewRedisStore(ctx context.Context, cfg *config.RedisConfig) (*RedisStore, error) {
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		cli.Close()
		return nil, errors.Wrapf(err, "ping redis at %s", cfg.Addr)
	}
	return &RedisStore{cli: cli}, nil
}

func redisKey(k string) string {
	return redisPrefix + k
}

// Put sets the prefixed key to value with no expiry.
func (s *RedisStore) Put(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return kv.NewStorageError("put", key, kv.ReasonInvalidKey, kv.ErrInvalidKey)
	}
	if err := s.cli.Set(ctx, redisKey(key), value, 0).Err(); err != nil {
		return kv.NewStorageError("put", key, redisReason(err, kv.ReasonWriteFailed), err)
	}
	return nil
}

// Get returns the value of the prefixed key; redis.Nil means not found.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, kv.NewStorageError("get", key, kv.ReasonInvalidKey, kv.ErrInvalidKey)
	}
	value, err := s.cli.Get(ctx, redisKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, kv.NewStorageError("get", key, redisReason(err, kv.ReasonReadFailed), err)
	}
	return value, true, nil
}

// Delete removes the prefixed key. Missing keys are not an error.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return kv.NewStorageError("delete", key, kv.ReasonInvalidKey, kv.ErrInvalidKey)
	}
	if err := s.cli.Del(ctx, redisKey(key)).Err(); err != nil {
		return kv.NewStorageError("delete", key, redisReason(err, kv.ReasonDeleteFailed), err)
	}
	return nil
}

// Close closes the redis client.
func (s *RedisStore) Close() error {
	return s.cli.Close()
}

func redisReason(err error, fallback string) string {
	if errors.Is(err, redis.ErrClosed) {
		return kv.ReasonClosed
	}
	return fallback
}
