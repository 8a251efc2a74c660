// Package cache provides the TTL cache for fetch results, embeddings and
// extractions. Keys are SHA-256 digests over the cache type, positional args
// and sorted keyword args; values are opaque bytes. Backends are swappable:
// an in-process store for inline mode and Redis when REDIS_URL is set.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// TTL per cache type. Unknown types use DefaultTTL.
const (
	TTLDoc         = 24 * time.Hour
	TTLText        = 24 * time.Hour
	TTLEmbedding   = 7 * 24 * time.Hour
	TTLSourceScore = time.Hour
	TTLExtraction  = 24 * time.Hour
	DefaultTTL     = time.Hour
)

var ttlByType = map[string]time.Duration{
	"doc":          TTLDoc,
	"text":         TTLText,
	"embedding":    TTLEmbedding,
	"source_score": TTLSourceScore,
	"extraction":   TTLExtraction,
}

// TTLFor returns the TTL for a cache type.
func TTLFor(cacheType string) time.Duration {
	if ttl, ok := ttlByType[cacheType]; ok {
		return ttl
	}
	return DefaultTTL
}

// Backend is the storage behind a Cache. Get returns (nil, false) on miss or
// expiry; backends evict expired entries lazily.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

// Cache derives keys and TTLs from the cache type and delegates to a Backend.
type Cache struct {
	backend Backend
}

// New wraps a backend.
func New(backend Backend) *Cache {
	return &Cache{backend: backend}
}

// Key builds the deterministic cache key: SHA-256 over
// "cacheType|arg1|arg2|...|k1=v1|k2=v2" with kwargs sorted by key.
func Key(cacheType string, args []string, kwargs map[string]string) string {
	parts := make([]string, 0, 1+len(args)+len(kwargs))
	parts = append(parts, cacheType)
	parts = append(parts, args...)

	keys := make([]string, 0, len(kwargs))
	for k := range kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, k+"="+kwargs[k])
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// Get looks up a value by cache type and args.
func (c *Cache) Get(ctx context.Context, cacheType string, args ...string) ([]byte, bool) {
	return c.backend.Get(ctx, Key(cacheType, args, nil))
}

// Set stores a value with the cache type's TTL.
func (c *Cache) Set(ctx context.Context, cacheType string, value []byte, args ...string) {
	c.backend.Set(ctx, Key(cacheType, args, nil), value, TTLFor(cacheType))
}

// Delete removes an entry.
func (c *Cache) Delete(ctx context.Context, cacheType string, args ...string) {
	c.backend.Delete(ctx, Key(cacheType, args, nil))
}
