// Package redis implements a distributed runtime/agent/toolcache.Cache
// backend on top of github.com/redis/go-redis/v9, so identical read-only
// tool calls made by different runs (or different process instances in a
// multi-instance deployment, per SPEC's DOMAIN STACK) share results
// instead of each run paying the call cost on its own.
//
// Grounded on goadesign-goa-ai/registry/registry.go's direct
// *redis.Client field (no additional abstraction layered over go-redis
// for simple key/value operations), narrowed here from that file's
// Pulse-backed multi-node map/pool/ticker machinery down to the plain
// GET/SET/SET-NX primitives the tool cache and watcher lock need.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"retrai.dev/retrai/runtime/agent/toolcache"
)

// keyPrefix namespaces every key this package writes, so a shared Redis
// instance can host the tool cache alongside unrelated data.
const keyPrefix = "retrai:toolcache:"

// Cache implements toolcache.Cache on a *redis.Client.
type Cache struct {
	client *redis.Client
}

// New wraps an existing *redis.Client. The caller owns the client's
// lifecycle (construction from a DSN/options, Close on shutdown).
func New(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Get implements toolcache.Cache.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", toolcache.ErrMiss
	}
	if err != nil {
		return "", fmt.Errorf("toolcache/redis: get %q: %w", key, err)
	}
	return val, nil
}

// Set implements toolcache.Cache.
func (c *Cache) Set(ctx context.Context, key, content string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = toolcache.DefaultTTL
	}
	if err := c.client.Set(ctx, keyPrefix+key, content, ttl).Err(); err != nil {
		return fmt.Errorf("toolcache/redis: set %q: %w", key, err)
	}
	return nil
}

// lockPrefix namespaces distributed-lock keys separately from cache
// entries.
const lockPrefix = "retrai:lock:"

// Lock is a best-effort distributed mutex backed by Redis SET NX PX,
// used by the Watcher (§4.12) so only one of several watcher instances
// polling the same project debounces and triggers a run at a time.
type Lock struct {
	client *redis.Client
	key    string
	token  string
}

// NewLock returns a Lock for name. token should uniquely identify the
// acquiring process/instance (e.g. a hostname plus PID), so a stale lock
// can only be released by its original holder.
func NewLock(client *redis.Client, name, token string) *Lock {
	return &Lock{client: client, key: lockPrefix + name, token: token}
}

// Acquire attempts to take the lock for ttl. ok is false if another
// holder currently has it.
func (l *Lock) Acquire(ctx context.Context, ttl time.Duration) (ok bool, err error) {
	ok, err = l.client.SetNX(ctx, l.key, l.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("toolcache/redis: acquire lock %q: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lock, but only if it is still held by this Lock's
// token (a stale/expired lock already reassigned to another holder is
// left alone).
func (l *Lock) Release(ctx context.Context) error {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	if err := script.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("toolcache/redis: release lock %q: %w", l.key, err)
	}
	return nil
}
