package policyengine

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/acorndb/policygov/pkg/policyrule"
)

// cacheEntry is a cached evaluation result: a ValidationResult stamped
// with the policy_version it was computed under and an absolute expiry.
type cacheEntry struct {
	Result        policyrule.ValidationResult
	PolicyVersion uint64
	ExpiresAt     time.Time
}

// EvaluationCache is the pluggable backend behind PolicyEngine's
// evaluation_cache. InvalidateAll is called on every policy
// register/unregister (policy_version bump).
type EvaluationCache interface {
	Get(ctx context.Context, key string, currentVersion uint64, now time.Time) (policyrule.ValidationResult, bool)
	Set(ctx context.Context, key string, result policyrule.ValidationResult, version uint64, expiresAt time.Time) error
	InvalidateAll(ctx context.Context) error
}

// memoryCache is the default in-process EvaluationCache: one RWMutex
// guarding a plain map, cleared wholesale on invalidation rather than
// tracking per-entry dependencies.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewMemoryCache returns an empty in-process EvaluationCache.
func NewMemoryCache() EvaluationCache {
	return &memoryCache{entries: make(map[string]cacheEntry)}
}

func (c *memoryCache) Get(_ context.Context, key string, currentVersion uint64, now time.Time) (policyrule.ValidationResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || e.PolicyVersion != currentVersion || !now.Before(e.ExpiresAt) {
		return policyrule.ValidationResult{}, false
	}
	return e.Result, true
}

func (c *memoryCache) Set(_ context.Context, key string, result policyrule.ValidationResult, version uint64, expiresAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{Result: result, PolicyVersion: version, ExpiresAt: expiresAt}
	return nil
}

func (c *memoryCache) InvalidateAll(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	return nil
}

// redisCache is an alternate EvaluationCache backend for multi-process
// deployments, wired to github.com/redis/go-redis/v9. Entries are stored
// JSON-encoded under keyPrefix+key with Redis's own TTL as the expiry
// mechanism; InvalidateAll bumps a versioned key prefix rather than
// issuing a blocking FLUSHDB/SCAN, so invalidation is O(1) and safe to
// call under load from multiple processes sharing the same Redis.
type redisCache struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisCache wraps an existing *redis.Client. client is not closed by
// this package; the caller owns its lifecycle.
func NewRedisCache(client *redis.Client, keyPrefix string) EvaluationCache {
	return &redisCache{client: client, keyPrefix: keyPrefix}
}

func (c *redisCache) genKey() string {
	return c.keyPrefix + ":gen"
}

func (c *redisCache) currentGeneration(ctx context.Context) int64 {
	gen, err := c.client.Get(ctx, c.genKey()).Int64()
	if err != nil {
		return 0
	}
	return gen
}

func (c *redisCache) entryKey(ctx context.Context, key string) string {
	return c.keyPrefix + ":" + strconv.FormatInt(c.currentGeneration(ctx), 10) + ":" + key
}

func (c *redisCache) Get(ctx context.Context, key string, currentVersion uint64, now time.Time) (policyrule.ValidationResult, bool) {
	raw, err := c.client.Get(ctx, c.entryKey(ctx, key)).Bytes()
	if err != nil {
		return policyrule.ValidationResult{}, false
	}
	var e cacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return policyrule.ValidationResult{}, false
	}
	if e.PolicyVersion != currentVersion || !now.Before(e.ExpiresAt) {
		return policyrule.ValidationResult{}, false
	}
	return e.Result, true
}

func (c *redisCache) Set(ctx context.Context, key string, result policyrule.ValidationResult, version uint64, expiresAt time.Time) error {
	e := cacheEntry{Result: result, PolicyVersion: version, ExpiresAt: expiresAt}
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	return c.client.Set(ctx, c.entryKey(ctx, key), raw, ttl).Err()
}

func (c *redisCache) InvalidateAll(ctx context.Context) error {
	return c.client.Incr(ctx, c.genKey()).Err()
}

