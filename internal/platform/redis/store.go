package redis

import (
	"context"
	stderrors "errors"
	"slices"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "relay-bot-backend/internal/common/errors"
)

const scanPageSize = 500

// Store adapts a RedisClient to the cache's durable contract.
type Store struct {
	client RedisClient
}

func NewStore(client RedisClient) *Store {
	return &Store{client: client}
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewCacheError("get", err).WithDetail("key", key)
	}
	return v, true, nil
}

// GetDel reads and removes key in one step; only one caller can observe a value.
func (s *Store) GetDel(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.GetDel(ctx, key).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.NewCacheError("getdel", err).WithDetail("key", key)
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return apperrors.NewCacheError("set", err).WithDetail("key", key)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, apperrors.NewCacheError("setnx", err).WithDetail("key", key)
	}
	return ok, nil
}

func (s *Store) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return apperrors.NewCacheError("del", err)
	}
	return nil
}

// ListKeys returns every key with the prefix, sorted so that successive calls
// over an unchanged key set yield the same order.
func (s *Store) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.client.ScanAll(ctx, prefix+"*", scanPageSize)
	if err != nil {
		return nil, apperrors.NewCacheError("scan", err).WithDetail("prefix", prefix)
	}
	// SCAN may return a key more than once.
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Close() error {
	return s.client.Close()
}
