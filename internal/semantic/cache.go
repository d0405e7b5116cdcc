// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package semantic

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/jeranaias/kgassist/internal/dispatch"
	"github.com/jeranaias/kgassist/internal/router"
)

// DefaultCacheTTL is how long a cached search result lives.
const DefaultCacheTTL = 10 * time.Minute

// DefaultCachePrefix namespaces cache keys.
const DefaultCachePrefix = "kgassist:semantic:"

// kv is the slice of the Redis client the cache uses.
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// Cached memoizes Search results in Redis. Redis failures are logged and
// the underlying index answers instead.
type Cached struct {
	index  dispatch.SemanticIndex
	client kv
	ttl    time.Duration
	prefix string
	logger zerolog.Logger

	hits   atomic.Int64
	misses atomic.Int64
}

var _ dispatch.SemanticIndex = (*Cached)(nil)

// NewCached wraps index. A zero ttl means DefaultCacheTTL.
func NewCached(index dispatch.SemanticIndex, client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *Cached {
	return newCached(index, client, ttl, logger)
}

func newCached(index dispatch.SemanticIndex, client kv, ttl time.Duration, logger zerolog.Logger) *Cached {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cached{
		index:  index,
		client: client,
		ttl:    ttl,
		prefix: DefaultCachePrefix,
		logger: logger.With().Str("component", "semantic-cache").Logger(),
	}
}

func (c *Cached) key(query string, topK int) string {
	sum := sha256.Sum256([]byte(router.Normalize(query)))
	return c.prefix + hex.EncodeToString(sum[:12]) + ":" + strconv.Itoa(topK)
}

// Search returns the cached result for (query, topK) or computes and stores it.
func (c *Cached) Search(ctx context.Context, query string, topK int) ([]dispatch.EntityMatch, error) {
	key := c.key(query, topK)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var matches []dispatch.EntityMatch
		if jerr := json.Unmarshal(raw, &matches); jerr == nil {
			c.hits.Add(1)
			return matches, nil
		}
		c.logger.Warn().Str("key", key).Msg("discarding undecodable cache entry")
	case errors.Is(err, redis.Nil):
	default:
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		c.logger.Warn().Err(err).Msg("semantic cache read failed")
	}
	c.misses.Add(1)

	matches, err := c.index.Search(ctx, query, topK)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(matches)
	if err == nil {
		if serr := c.client.Set(ctx, key, payload, c.ttl).Err(); serr != nil {
			c.logger.Warn().Err(serr).Msg("semantic cache write failed")
		}
	}
	return matches, nil
}

// Reload forwards to the wrapped index when it can reload. Cached entries
// expire on their own TTL.
func (c *Cached) Reload(d *router.Dictionary) {
	if r, ok := c.index.(router.Reloader); ok {
		r.Reload(d)
	}
}

// Stats merges cache counters into the wrapped index's stats.
func (c *Cached) Stats() IndexStats {
	var s IndexStats
	if idx, ok := c.index.(interface{ Stats() IndexStats }); ok {
		s = idx.Stats()
	}
	s.CacheHits = c.hits.Load()
	s.CacheMisses = c.misses.Load()
	return s
}
