package cache

import (
	"context"
	"time"

	"relay-bot-backend/internal/common/metrics"
)

// Durable is the persistent key-value layer. A missing key is reported as
// found=false with a nil error.
type Durable interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// GetDel returns the value and removes the key atomically.
	GetDel(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Cache is a read-through cache: a process-local layer in front of a durable store.
// Writes go to the durable layer and drop the local entry; they never update it.
type Cache struct {
	local   Local
	durable Durable
}

func New(local Local, durable Durable) *Cache {
	return &Cache{local: local, durable: durable}
}

// Get returns the value and whether it exists. Absence is never cached locally,
// so an unknown key always reaches the durable store.
func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	if v, ok := c.local.Get(key); ok {
		metrics.CacheLookupsTotal.WithLabelValues("local", "hit").Inc()
		return v, true, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("local", "miss").Inc()

	v, ok, err := c.durable.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("durable", "miss").Inc()
		return "", false, nil
	}
	metrics.CacheLookupsTotal.WithLabelValues("durable", "hit").Inc()
	c.local.Put(key, v)
	return v, true, nil
}

// Set writes through to the durable store. ttl of zero means no expiry.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.local.Remove(key)
	if err := c.durable.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	// A concurrent reader may have repopulated the entry from the old value.
	c.local.Remove(key)
	return nil
}

// SetNX writes only when the key is absent in the durable store.
func (c *Cache) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.local.Remove(key)
	return c.durable.SetNX(ctx, key, value, ttl)
}

func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	for _, k := range keys {
		c.local.Remove(k)
	}
	if err := c.durable.Delete(ctx, keys...); err != nil {
		return err
	}
	for _, k := range keys {
		c.local.Remove(k)
	}
	return nil
}

// Invalidate drops the local entry only.
func (c *Cache) Invalidate(key string) {
	c.local.Remove(key)
}

func (c *Cache) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return c.durable.ListKeys(ctx, prefix)
}

// Durable exposes the underlying store for keys whose expiry is owned by the store.
func (c *Cache) Durable() Durable {
	return c.durable
}
