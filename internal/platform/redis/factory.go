package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"relay-bot-backend/internal/common/config"
)

// RedisClient is the subset of go-redis the relay needs, implemented by a
// single-node wrapper and by the sharded client.
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	GetDel(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd
	SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	// ScanAll walks every shard holding data and returns keys matching the pattern.
	ScanAll(ctx context.Context, match string, count int64) ([]string, error)
	Close() error
}

func CreateRedisClient(ctx context.Context, cfg *config.Config) (RedisClient, error) {
	if !cfg.Redis.EnableSharding {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return NewSingleClient(client), nil
	}

	writeConfigs, err := parseShardConfigs(cfg.Redis.WriteShards)
	if err != nil {
		return nil, fmt.Errorf("failed to parse write shards config: %w", err)
	}

	var readConfigs []ShardConfig
	if len(cfg.Redis.ReadShards) > 0 {
		readConfigs, err = parseShardConfigs(cfg.Redis.ReadShards)
		if err != nil {
			return nil, fmt.Errorf("failed to parse read shards config: %w", err)
		}
	}

	return NewShardedRedisClient(ctx, writeConfigs, readConfigs)
}

type redisClientWrapper struct {
	client *redis.Client
}

// NewSingleClient wraps an existing go-redis client.
func NewSingleClient(client *redis.Client) RedisClient {
	return &redisClientWrapper{client: client}
}

func (w *redisClientWrapper) Ping(ctx context.Context) *redis.StatusCmd {
	return w.client.Ping(ctx)
}

func (w *redisClientWrapper) Get(ctx context.Context, key string) *redis.StringCmd {
	return w.client.Get(ctx, key)
}

func (w *redisClientWrapper) GetDel(ctx context.Context, key string) *redis.StringCmd {
	return w.client.GetDel(ctx, key)
}

func (w *redisClientWrapper) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	return w.client.Set(ctx, key, value, ttl)
}

func (w *redisClientWrapper) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	return w.client.SetNX(ctx, key, value, ttl)
}

func (w *redisClientWrapper) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	return w.client.Del(ctx, keys...)
}

func (w *redisClientWrapper) ScanAll(ctx context.Context, match string, count int64) ([]string, error) {
	return scanClient(ctx, w.client, match, count)
}

func (w *redisClientWrapper) Close() error {
	return w.client.Close()
}

func scanClient(ctx context.Context, client *redis.Client, match string, count int64) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	for {
		page, next, err := client.Scan(ctx, cursor, match, count).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, page...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}

func parseShardConfigs(shardStrings []string) ([]ShardConfig, error) {
	if len(shardStrings) == 0 {
		return nil, fmt.Errorf("no shard configurations provided")
	}

	configs := make([]ShardConfig, 0, len(shardStrings))

	for i, shardStr := range shardStrings {
		parts := strings.Split(strings.TrimSpace(shardStr), ":")
		if len(parts) < 2 {
			return nil, fmt.Errorf("invalid shard config format at index %d: %s (expected host:port[:password][:db])", i, shardStr)
		}

		sc := ShardConfig{Host: parts[0]}

		port, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid port in shard config at index %d: %s", i, shardStr)
		}
		sc.Port = port

		if len(parts) > 2 {
			sc.Password = parts[2]
		}
		if len(parts) > 3 {
			db, err := strconv.Atoi(parts[3])
			if err != nil {
				return nil, fmt.Errorf("invalid database number in shard config at index %d: %s", i, shardStr)
			}
			sc.DB = db
		}

		configs = append(configs, sc)
	}

	return configs, nil
}

// ShardStats describes the client topology for the startup log.
func ShardStats(client RedisClient) map[string]interface{} {
	switch c := client.(type) {
	case *ShardedRedisClient:
		return c.Stats()
	case *redisClientWrapper:
		return map[string]interface{}{"type": "single", "addr": c.client.Options().Addr}
	default:
		return map[string]interface{}{"type": "unknown"}
	}
}
