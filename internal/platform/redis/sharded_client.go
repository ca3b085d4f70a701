package redis

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

type ShardConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// Keys that are read back right after being written. Replicas may lag, so
// these are always read from the write shard.
var primaryReadPrefixes = []string{
	"init_lock:",
	"verify_pending:",
	"user:",
	"thread:",
	"last_reply:",
}

// ShardedRedisClient routes each key to one write shard by FNV-1a hash. Read
// shards, when configured, mirror the write shards by index.
type ShardedRedisClient struct {
	writeShards []*redis.Client
	readShards  []*redis.Client
}

func NewShardedRedisClient(ctx context.Context, writeConfigs, readConfigs []ShardConfig) (*ShardedRedisClient, error) {
	if len(writeConfigs) == 0 {
		return nil, fmt.Errorf("at least one write shard is required")
	}

	c := &ShardedRedisClient{}
	for i, sc := range writeConfigs {
		shard, err := dialShard(ctx, sc)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to connect to write shard %d: %w", i, err)
		}
		c.writeShards = append(c.writeShards, shard)
	}
	for i, sc := range readConfigs {
		shard, err := dialShard(ctx, sc)
		if err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("failed to connect to read shard %d: %w", i, err)
		}
		c.readShards = append(c.readShards, shard)
	}

	return c, nil
}

func dialShard(ctx context.Context, sc ShardConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", sc.Host, sc.Port),
		Password: sc.Password,
		DB:       sc.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *ShardedRedisClient) shardIndex(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(c.writeShards)))
}

func (c *ShardedRedisClient) writeShard(key string) *redis.Client {
	return c.writeShards[c.shardIndex(key)]
}

func (c *ShardedRedisClient) readShard(key string) *redis.Client {
	if len(c.readShards) == 0 || readsFromPrimary(key) {
		return c.writeShard(key)
	}
	return c.readShards[c.shardIndex(key)%len(c.readShards)]
}

func readsFromPrimary(key string) bool {
	for _, p := range primaryReadPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

func (c *ShardedRedisClient) Ping(ctx context.Context) *redis.StatusCmd {
	for _, shard := range c.writeShards {
		if cmd := shard.Ping(ctx); cmd.Err() != nil {
			return cmd
		}
	}
	result := redis.NewStatusCmd(ctx, "ping")
	result.SetVal("PONG")
	return result
}

func (c *ShardedRedisClient) Get(ctx context.Context, key string) *redis.StringCmd {
	return c.readShard(key).Get(ctx, key)
}

func (c *ShardedRedisClient) GetDel(ctx context.Context, key string) *redis.StringCmd {
	return c.writeShard(key).GetDel(ctx, key)
}

func (c *ShardedRedisClient) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	return c.writeShard(key).Set(ctx, key, value, ttl)
}

func (c *ShardedRedisClient) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) *redis.BoolCmd {
	return c.writeShard(key).SetNX(ctx, key, value, ttl)
}

func (c *ShardedRedisClient) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	if len(keys) == 0 {
		return redis.NewIntCmd(ctx, "del")
	}

	shardKeys := make(map[*redis.Client][]string)
	for _, key := range keys {
		shard := c.writeShard(key)
		shardKeys[shard] = append(shardKeys[shard], key)
	}

	var total int64
	for shard, list := range shardKeys {
		cmd := shard.Del(ctx, list...)
		if cmd.Err() != nil {
			return cmd
		}
		total += cmd.Val()
	}

	result := redis.NewIntCmd(ctx, "del")
	result.SetVal(total)
	return result
}

// ScanAll merges SCAN results of every write shard; ordering is left to the caller.
func (c *ShardedRedisClient) ScanAll(ctx context.Context, match string, count int64) ([]string, error) {
	var all []string
	for i, shard := range c.writeShards {
		keys, err := scanClient(ctx, shard, match, count)
		if err != nil {
			return nil, fmt.Errorf("scan shard %d: %w", i, err)
		}
		all = append(all, keys...)
	}
	return all, nil
}

func (c *ShardedRedisClient) Close() error {
	var lastErr error
	for _, shard := range c.writeShards {
		if err := shard.Close(); err != nil {
			lastErr = err
		}
	}
	for _, shard := range c.readShards {
		if err := shard.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}

func (c *ShardedRedisClient) Stats() map[string]interface{} {
	addrs := func(shards []*redis.Client) []string {
		out := make([]string, len(shards))
		for i, s := range shards {
			out[i] = s.Options().Addr
		}
		return out
	}
	return map[string]interface{}{
		"type":         "sharded",
		"write_shards": addrs(c.writeShards),
		"read_shards":  addrs(c.readShards),
	}
}
